package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"runtime/pprof"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jakecoffman/efp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	soakFlags  soakConfig
	cpuprofile string
)

// to profile, run `efp soak --cpuprofile=prof --iterations=8000`, then `go tool pprof efp prof`
var soakCmd = &cobra.Command{
	Use:   "soak",
	Short: "Run a packer into an unpacker over a lossy in-process link and verify every frame",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("iterations") {
			cfg.Soak.Iterations = soakFlags.Iterations
		}
		if flags.Changed("max-size") {
			cfg.Soak.MaxSize = soakFlags.MaxSize
		}
		if flags.Changed("drop") {
			cfg.Soak.Drop = soakFlags.Drop
		}
		if flags.Changed("reorder") {
			cfg.Soak.Reorder = soakFlags.Reorder
		}
		if flags.Changed("duplicate") {
			cfg.Soak.Duplicate = soakFlags.Duplicate
		}
		if flags.Changed("rate") {
			cfg.Soak.Rate = soakFlags.Rate
		}
		if flags.Changed("seed") {
			cfg.Soak.Seed = soakFlags.Seed
		}
		if err := cfg.validate(); err != nil {
			return err
		}

		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return err
			}
			defer pprof.StopCPUProfile()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		result, err := runSoak(ctx, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result)
		if result.corrupt > 0 || result.outOfOrder > 0 {
			return fmt.Errorf("soak failed: %d corrupt, %d out of order", result.corrupt, result.outOfOrder)
		}
		return nil
	},
}

func init() {
	f := soakCmd.Flags()
	f.IntVar(&soakFlags.Iterations, "iterations", 0, "number of frames, 0 runs until interrupted")
	f.IntVar(&soakFlags.MaxSize, "max-size", 0, "largest frame size")
	f.Float64Var(&soakFlags.Drop, "drop", 0, "probability of dropping a fragment")
	f.Float64Var(&soakFlags.Reorder, "reorder", 0, "probability of holding a fragment back behind the next one")
	f.Float64Var(&soakFlags.Duplicate, "duplicate", 0, "probability of sending a fragment twice")
	f.Float64Var(&soakFlags.Rate, "rate", 0, "frames per second, 0 runs as fast as possible")
	f.Int64Var(&soakFlags.Seed, "seed", 0, "random seed, 0 picks one from the clock")
	f.StringVar(&cpuprofile, "cpuprofile", "", "write cpu profile to file")
}

type soakResult struct {
	sent       int
	delivered  int
	broken     int
	corrupt    int
	outOfOrder int
	counters   [efp.CounterMax]uint64
}

func (r soakResult) String() string {
	return fmt.Sprintf("%d sent | %d delivered | %d broken | %d corrupt | %d out of order | %d dropped late | %d head of line blocks",
		r.sent, r.delivered, r.broken, r.corrupt, r.outOfOrder,
		r.counters[efp.CounterNumFramesDroppedLate], r.counters[efp.CounterNumHeadOfLineBlocks])
}

// lossyLink sits between the packer and the unpacker. Only the packer
// goroutine calls send.
type lossyLink struct {
	rng       *rand.Rand
	drop      float64
	reorder   float64
	duplicate float64
	held      []byte
	deliver   func([]byte)
}

func (l *lossyLink) send(fragment []byte) {
	if l.rng.Float64() < l.drop {
		return
	}
	if l.held == nil && l.rng.Float64() < l.reorder {
		l.held = bytes.Clone(fragment)
		return
	}
	l.deliver(fragment)
	if l.rng.Float64() < l.duplicate {
		l.deliver(fragment)
	}
	l.flush()
}

func (l *lossyLink) flush() {
	if l.held != nil {
		held := l.held
		l.held = nil
		l.deliver(held)
	}
}

func soakFrameSize(index uint64, maxSize int) int {
	if maxSize <= 8 {
		return 8
	}
	return 8 + int(index*7919%uint64(maxSize-7))
}

func runSoak(ctx context.Context, cfg *fileConfig) (soakResult, error) {
	var (
		result soakResult
		mu     sync.Mutex
		last   uint64
		seen   bool
	)

	seed := cfg.Soak.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	runID := uuid.New()
	hol := cfg.HOLTimeout > 0

	unpackerConfig := cfg.protocolConfig(efp.ModeUnpacker)
	unpackerConfig.Name = cfg.Name + "-unpacker"
	unpackerConfig.Receiver = efp.ReceiveFunc(func(f *efp.Frame) {
		mu.Lock()
		defer mu.Unlock()
		result.delivered++
		if f.Broken {
			result.broken++
			return
		}
		index, ok := frameIndex(f.Data)
		if !ok || f.PTS != index || !bytes.Equal(f.Data, syntheticFrame(runID, index, soakFrameSize(index, cfg.Soak.MaxSize))) {
			log.Errorf("[%s] superframe %d corrupt", cfg.Name, f.DeliveryOrder)
			result.corrupt++
			return
		}
		if hol && seen && index < last {
			log.Errorf("[%s] frame %d delivered after %d", cfg.Name, index, last)
			result.outOfOrder++
		}
		last, seen = index, true
	})
	unpacker, err := efp.New(unpackerConfig)
	if err != nil {
		return result, err
	}
	defer unpacker.Close()

	link := &lossyLink{
		rng:       rand.New(rand.NewSource(seed)),
		drop:      cfg.Soak.Drop,
		reorder:   cfg.Soak.Reorder,
		duplicate: cfg.Soak.Duplicate,
		deliver: func(fragment []byte) {
			// rejects are counted by the unpacker
			_ = unpacker.Unpack(fragment, 0)
		},
	}
	packerConfig := cfg.protocolConfig(efp.ModePacker)
	packerConfig.Name = cfg.Name + "-packer"
	packerConfig.Sender = efp.SendFunc(link.send)
	packer, err := efp.New(packerConfig)
	if err != nil {
		return result, err
	}
	defer packer.Close()

	if err := unpacker.Start(cfg.BucketTimeout, cfg.HOLTimeout); err != nil {
		return result, err
	}

	limit := rate.Inf
	if cfg.Soak.Rate > 0 {
		limit = rate.Limit(cfg.Soak.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	log.Infof("[%s] soak run %s, seed %d", cfg.Name, runID, seed)
	for i := uint64(0); cfg.Soak.Iterations == 0 || i < uint64(cfg.Soak.Iterations); i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		data := syntheticFrame(runID, i, soakFrameSize(i, cfg.Soak.MaxSize))
		if err := packer.Pack(data, efp.ContentPrivateData, i, 0, 0, 0); err != nil {
			return result, err
		}
		result.sent++
	}
	link.flush()

	deadline := time.Now().Add(time.Duration(cfg.BucketTimeout+cfg.HOLTimeout+2) * cfg.Tick * 2)
	for unpacker.ActiveBuckets() > 0 && time.Now().Before(deadline) {
		time.Sleep(cfg.Tick)
	}
	if err := unpacker.Stop(); err != nil {
		return result, err
	}

	mu.Lock()
	defer mu.Unlock()
	result.counters = unpacker.Counters()
	return result, nil
}
