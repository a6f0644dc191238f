package main

import (
	"bytes"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jakecoffman/efp"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("example")

var name = flag.String("name", "server", "server unpacks, anything else packs and sends")
var addr = flag.String("addr", "127.0.0.1:8987", "host and port of connection")
var mtu = flag.Int("mtu", 1456, "largest datagram to send")

const tickrate = 25
const frameByteSize = 6000

func main() {
	flag.Parse()
	logging.SetLevel(logging.WARNING, "efp")

	var err error
	if *name == "server" {
		err = server()
	} else {
		err = client()
	}
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func server() error {
	packetConn, err := net.ListenPacket("udp", *addr)
	if err != nil {
		return err
	}
	defer packetConn.Close()

	config := efp.NewDefaultConfig()
	config.Name = *name
	config.Mode = efp.ModeUnpacker
	config.MTU = *mtu
	config.Receiver = efp.ReceiveFunc(processFrame)

	endpoint, err := efp.New(config)
	if err != nil {
		return err
	}
	defer endpoint.Close()
	if err := endpoint.Start(config.BucketTimeout, config.HOLTimeout); err != nil {
		return err
	}
	log.Info("Server ready")

	go func() {
		for range time.Tick(time.Second) {
			fmt.Printf("%v received | %v delivered | %v broken | %v invalid | %v head of line blocks\n",
				endpoint.Counter(efp.CounterNumFragmentsReceived),
				endpoint.Counter(efp.CounterNumFramesDelivered),
				endpoint.Counter(efp.CounterNumFramesBroken),
				endpoint.Counter(efp.CounterNumFragmentsInvalid),
				endpoint.Counter(efp.CounterNumHeadOfLineBlocks),
			)
		}
	}()

	buffer := make([]byte, efp.MaxMTU)
	for {
		n, _, err := packetConn.ReadFrom(buffer)
		if err != nil {
			return err
		}
		_ = endpoint.Unpack(buffer[:n], 0)
	}
}

func client() error {
	conn, err := net.Dial("udp", *addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	config := efp.NewDefaultConfig()
	config.Name = *name
	config.Mode = efp.ModePacker
	config.MTU = *mtu
	config.Sender = efp.SendFunc(func(fragment []byte) {
		if _, err := conn.Write(fragment); err != nil {
			log.Warning(err)
		}
	})

	endpoint, err := efp.New(config)
	if err != nil {
		return err
	}
	log.Info("Client ready")

	networkTick := time.NewTicker(time.Second / tickrate)
	defer networkTick.Stop()
	for sequence := uint64(0); ; sequence++ {
		<-networkTick.C
		data := generateFrameData(sequence, make([]byte, frameByteSize))
		if err := endpoint.Pack(data, efp.ContentPrivateData, sequence*90000/tickrate, 0, 0, 0); err != nil {
			return err
		}
	}
}

func processFrame(frame *efp.Frame) {
	if frame.Broken {
		log.Warningf("frame %d broken, %d bytes", frame.DeliveryOrder, len(frame.Data))
		return
	}
	if len(frame.Data) != frameByteSize {
		log.Errorf("Size not right, expected %d got %d", frameByteSize, len(frame.Data))
		return
	}
	sequence := frame.PTS * tickrate / 90000
	expected := generateFrameData(sequence, make([]byte, frameByteSize))
	if !bytes.Equal(frame.Data, expected) {
		log.Errorf("Wrong frame data for sequence %d", sequence)
	}
}

func generateFrameData(sequence uint64, frameData []byte) []byte {
	for i := range frameData {
		frameData[i] = byte((i + int(sequence)) % 256)
	}
	return frameData
}
