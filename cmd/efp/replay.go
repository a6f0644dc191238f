package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/jakecoffman/efp"
	"github.com/spf13/cobra"
)

var replayFlags replayConfig

var replayCmd = &cobra.Command{
	Use:   "replay capture.pcap",
	Short: "Feed the UDP payloads of a pcap or pcapng capture into an unpacker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Replay.Port = replayFlags.Port
		}
		if err := cfg.validate(); err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		summary, err := replayCapture(bytes.NewReader(data), cfg)
		if err != nil {
			return err
		}
		summary.print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	replayCmd.Flags().Uint16Var(&replayFlags.Port, "port", 0, "only replay datagrams to this UDP port, 0 replays all")
}

type captureReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

func openCapture(r io.ReadSeeker) (captureReader, error) {
	pcap, err := pcapgo.NewReader(r)
	if err == nil {
		return pcap, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	ng, ngErr := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, fmt.Errorf("not a pcap (%v) or pcapng (%v) capture", err, ngErr)
	}
	return ng, nil
}

// udpPayload pulls the UDP payload and source address out of a captured
// packet. It returns nil for anything that is not UDP.
func udpPayload(data []byte, linkType layers.LinkType) ([]byte, *net.UDPAddr, uint16) {
	p := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	addr := &net.UDPAddr{}
	switch ip := p.NetworkLayer().(type) {
	case *layers.IPv4:
		addr.IP = ip.SrcIP
	case *layers.IPv6:
		addr.IP = ip.SrcIP
	default:
		return nil, nil, 0
	}
	udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return nil, nil, 0
	}
	addr.Port = int(udp.SrcPort)
	return udp.Payload, addr, uint16(udp.DstPort)
}

type replaySummary struct {
	packets   int
	datagrams int
	rejected  int
	frames    int
	broken    int
	bytes     int
	streams   map[uint8]int
	counters  [efp.CounterMax]uint64
}

func (s *replaySummary) print(w io.Writer) {
	fmt.Fprintf(w, "%d packets, %d efp datagrams, %d rejected\n", s.packets, s.datagrams, s.rejected)
	fmt.Fprintf(w, "%d frames (%d broken), %d bytes\n", s.frames, s.broken, s.bytes)
	for _, stream := range slices.Sorted(maps.Keys(s.streams)) {
		fmt.Fprintf(w, "  stream %d: %d frames\n", stream, s.streams[stream])
	}
	for i, n := range s.counters {
		fmt.Fprintf(w, "  %-20s %d\n", efp.CounterNames[i], n)
	}
}

func replayCapture(r io.ReadSeeker, cfg *fileConfig) (*replaySummary, error) {
	capture, err := openCapture(r)
	if err != nil {
		return nil, err
	}

	summary := &replaySummary{streams: map[uint8]int{}}
	var mu sync.Mutex

	config := cfg.protocolConfig(efp.ModeUnpacker)
	config.Receiver = efp.ReceiveFunc(func(f *efp.Frame) {
		mu.Lock()
		defer mu.Unlock()
		summary.frames++
		summary.bytes += len(f.Data)
		summary.streams[f.Stream]++
		if f.Broken {
			summary.broken++
		}
		logDelivery(cfg.Name, f)
	})
	unpacker, err := efp.New(config)
	if err != nil {
		return nil, err
	}
	defer unpacker.Close()
	if err := unpacker.Start(cfg.BucketTimeout, cfg.HOLTimeout); err != nil {
		return nil, err
	}

	peers := sources{}
	for {
		data, _, err := capture.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		summary.packets++

		payload, addr, port := udpPayload(data, capture.LinkType())
		if payload == nil || (cfg.Replay.Port != 0 && port != cfg.Replay.Port) {
			continue
		}
		summary.datagrams++
		if err := unpacker.Unpack(payload, peers.id(addr)); err != nil {
			summary.rejected++
		}
	}

	// give every bucket the chance to complete or time out
	deadline := time.Now().Add(time.Duration(cfg.BucketTimeout+cfg.HOLTimeout+2) * cfg.Tick * 2)
	for unpacker.ActiveBuckets() > 0 && time.Now().Before(deadline) {
		time.Sleep(cfg.Tick)
	}
	if err := unpacker.Stop(); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	summary.counters = unpacker.Counters()
	return summary, nil
}
