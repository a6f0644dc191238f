package main

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jakecoffman/efp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var sendFlags sendConfig

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Pack synthetic frames and send the fragments as UDP datagrams",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Send.Addr = sendFlags.Addr
		}
		if flags.Changed("size") {
			cfg.Send.Size = sendFlags.Size
		}
		if flags.Changed("rate") {
			cfg.Send.Rate = sendFlags.Rate
		}
		if flags.Changed("count") {
			cfg.Send.Count = sendFlags.Count
		}
		if flags.Changed("stream") {
			cfg.Send.Stream = sendFlags.Stream
		}
		if flags.Changed("content") {
			cfg.Send.Content = sendFlags.Content
		}
		if err := cfg.validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runSend(ctx, cfg)
	},
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&sendFlags.Addr, "addr", "", "destination host:port")
	f.IntVar(&sendFlags.Size, "size", 0, "frame size in bytes")
	f.Float64Var(&sendFlags.Rate, "rate", 0, "frames per second, 0 sends as fast as possible")
	f.IntVar(&sendFlags.Count, "count", 0, "number of frames, 0 sends until interrupted")
	f.Uint8Var(&sendFlags.Stream, "stream", 0, "stream id")
	f.StringVar(&sendFlags.Content, "content", "", "content type of the frames")
}

func runSend(ctx context.Context, cfg *fileConfig) error {
	content, err := efp.ParseContentType(cfg.Send.Content)
	if err != nil {
		return err
	}
	conn, err := net.Dial("udp", cfg.Send.Addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	config := cfg.protocolConfig(efp.ModePacker)
	config.Sender = efp.SendFunc(func(fragment []byte) {
		if _, err := conn.Write(fragment); err != nil {
			log.Warningf("[%s] write: %v", cfg.Name, err)
		}
	})
	packer, err := efp.New(config)
	if err != nil {
		return err
	}
	defer packer.Close()

	limit := rate.Inf
	if cfg.Send.Rate > 0 {
		limit = rate.Limit(cfg.Send.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	runID := uuid.New()
	log.Infof("[%s] run %s: sending %d byte %s frames to %s", cfg.Name, runID, cfg.Send.Size, content, cfg.Send.Addr)

	start := time.Now()
	for i := 0; cfg.Send.Count == 0 || i < cfg.Send.Count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		data := syntheticFrame(runID, uint64(i), cfg.Send.Size)
		if err := packer.Pack(data, content, uint64(time.Since(start)/time.Microsecond)*90/1000, uint32(i)%math.MaxUint32, cfg.Send.Stream, 0); err != nil {
			return err
		}
	}
	logCounters(cfg.Name, packer)
	return nil
}

// syntheticFrame fills a frame with a pattern derived from the run id and
// frame index so receivers can verify it. The index is in the first 8 bytes.
func syntheticFrame(runID uuid.UUID, index uint64, size int) []byte {
	data := make([]byte, size)
	var head [8]byte
	binary.LittleEndian.PutUint64(head[:], index)
	n := copy(data, head[:])
	for i := n; i < size; i++ {
		data[i] = runID[i%len(runID)] ^ byte(index+uint64(i))
	}
	return data
}

// frameIndex reads the index back out of a synthetic frame.
func frameIndex(data []byte) (uint64, bool) {
	if len(data) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data), true
}
