package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jakecoffman/efp"
	"github.com/spf13/cobra"
)

var recvFlags recvConfig

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Reassemble frames from UDP datagrams and log every delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("listen") {
			cfg.Recv.Listen = recvFlags.Listen
		}
		if cmd.Flags().Changed("stats") {
			cfg.Recv.Stats = recvFlags.Stats
		}
		if err := cfg.validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRecv(ctx, cfg)
	},
}

func init() {
	f := recvCmd.Flags()
	f.StringVar(&recvFlags.Listen, "listen", "", "local host:port to listen on")
	f.DurationVar(&recvFlags.Stats, "stats", 0, "interval between counter reports, 0 disables them")
}

// sources hands out a source id per remote address so that stream context
// is kept apart for different senders. Only the receive loop touches it.
type sources map[string]uint8

func (s sources) id(addr net.Addr) uint8 {
	key := addr.String()
	id, ok := s[key]
	if !ok {
		id = uint8(len(s))
		s[key] = id
		log.Infof("new source %d: %s", id, key)
	}
	return id
}

func logDelivery(name string, f *efp.Frame) {
	index, _ := frameIndex(f.Data)
	if f.Broken {
		log.Warningf("[%s] superframe %d broken: %d bytes, stream %d, %s", name, f.DeliveryOrder, len(f.Data), f.Stream, f.Content)
		return
	}
	log.Debugf("[%s] superframe %d: frame %d, %d bytes, stream %d, %s, pts %d", name, f.DeliveryOrder, index, len(f.Data), f.Stream, f.Content, f.PTS)
}

func runRecv(ctx context.Context, cfg *fileConfig) error {
	conn, err := net.ListenPacket("udp", cfg.Recv.Listen)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	config := cfg.protocolConfig(efp.ModeUnpacker)
	config.Receiver = efp.ReceiveFunc(func(f *efp.Frame) { logDelivery(cfg.Name, f) })
	unpacker, err := efp.New(config)
	if err != nil {
		return err
	}
	defer unpacker.Close()
	if err := unpacker.Start(cfg.BucketTimeout, cfg.HOLTimeout); err != nil {
		return err
	}
	log.Infof("[%s] listening on %s", cfg.Name, conn.LocalAddr())

	if cfg.Recv.Stats > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Recv.Stats)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					logCounters(cfg.Name, unpacker)
				}
			}
		}()
	}

	peers := sources{}
	buf := make([]byte, efp.MaxMTU)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			return err
		}
		// errors are counted and logged by the unpacker
		_ = unpacker.Unpack(buf[:n], peers.id(addr))
	}

	if err := unpacker.Stop(); err != nil {
		return err
	}
	logCounters(cfg.Name, unpacker)
	return nil
}
