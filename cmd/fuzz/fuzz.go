package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jakecoffman/efp"
	"github.com/op/go-logging"
)

const testMaxPacketBytes = 1500

var endpoint *efp.Protocol
var seeds [][]byte

func main() {
	logging.SetLevel(logging.CRITICAL, "efp")

	numIterations := -1

	if len(os.Args) > 1 {
		var err error
		numIterations, err = strconv.Atoi(os.Args[1])
		if err != nil {
			panic("argument 2 must be an integer")
		}
	}

	initialize()

	var quit atomic.Bool

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT)

	go func() {
		<-signals
		quit.Store(true)
		close(signals)
	}()

	if numIterations > 0 {
		for i := 0; i < numIterations; i++ {
			if quit.Load() {
				break
			}
			iteration()
		}
	} else {
		for i := 0; !quit.Load(); i++ {
			iteration()
		}
	}
	endpoint.Close()
	fmt.Println()
	for i, n := range endpoint.Counters() {
		fmt.Printf("%-20s %d\n", efp.CounterNames[i], n)
	}
}

func initialize() {
	config := efp.NewDefaultConfig()
	config.Name = "fuzz"
	config.MTU = testMaxPacketBytes
	config.TickInterval = time.Millisecond
	config.Sender = efp.SendFunc(func(fragment []byte) {
		seeds = append(seeds, append([]byte(nil), fragment...))
	})
	config.Receiver = efp.ReceiveFunc(func(*efp.Frame) {})

	var err error
	endpoint, err = efp.New(config)
	if err != nil {
		panic(err)
	}
	if err := endpoint.Start(10, 2); err != nil {
		panic(err)
	}

	// well formed fragments to mutate
	for _, size := range []int{1, 500, 1475, 1476, 5000, 40000} {
		data := make([]byte, size)
		rand.Read(data)
		if err := endpoint.Pack(data, efp.ContentH264, 1, 1, 0, 0); err != nil {
			panic(err)
		}
	}
}

func iteration() {
	fmt.Print(".")

	var packetData []byte
	if rand.Intn(2) == 0 {
		packetData = make([]byte, rand.Intn(testMaxPacketBytes-1)+1)
		rand.Read(packetData)
	} else {
		packetData = append([]byte(nil), seeds[rand.Intn(len(seeds))]...)
		for n := rand.Intn(4) + 1; n > 0; n-- {
			packetData[rand.Intn(len(packetData))] = byte(rand.Int())
		}
		packetData = packetData[:rand.Intn(len(packetData))+1]
	}

	_ = endpoint.Unpack(packetData, uint8(rand.Intn(4)))
}
