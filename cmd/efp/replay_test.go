package main

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/jakecoffman/efp"
	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *fileConfig {
	t.Helper()
	logging.SetLevel(logging.CRITICAL, "")
	conf := defaultFileConfig()
	conf.Name = t.Name()
	conf.MTU = 500
	conf.Tick = time.Millisecond
	conf.BucketTimeout = 20
	conf.HOLTimeout = 5
	conf.setDefaults()
	require.NoError(t, conf.validate())
	return conf
}

// udpFrame wraps payload in Ethernet, IPv4 and UDP headers.
func udpFrame(t *testing.T, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 1, 10),
		DstIP:    net.IPv4(192, 168, 1, 20),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestReplayCapture(t *testing.T) {
	conf := testConfig(t)
	conf.Replay.Port = 8987

	var fragments [][]byte
	config := conf.protocolConfig(efp.ModePacker)
	config.Sender = efp.SendFunc(func(fragment []byte) {
		fragments = append(fragments, bytes.Clone(fragment))
	})
	packer, err := efp.New(config)
	require.NoError(t, err)

	var lost []byte
	for i := 0; i < 10; i++ {
		require.NoError(t, packer.Pack(bytes.Repeat([]byte{byte(i)}, 300+i*400), efp.ContentH264, uint64(i), 0, uint8(i%2), 0))
		if i == 3 {
			lost = fragments[len(fragments)-2]
		}
	}

	var capture bytes.Buffer
	w := pcapgo.NewWriter(&capture)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	write := func(data []byte) {
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, 0),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	write(udpFrame(t, 53, []byte("not efp")))
	datagrams := 0
	for _, f := range fragments {
		if bytes.Equal(f, lost) {
			continue
		}
		write(udpFrame(t, 8987, f))
		datagrams++
	}

	summary, err := replayCapture(bytes.NewReader(capture.Bytes()), conf)
	require.NoError(t, err)
	assert.Equal(t, datagrams+1, summary.packets)
	assert.Equal(t, datagrams, summary.datagrams)
	assert.Equal(t, 0, summary.rejected)
	assert.Equal(t, 10, summary.frames)
	assert.Equal(t, 1, summary.broken)
	assert.Equal(t, 5, summary.streams[0])
	assert.Equal(t, 5, summary.streams[1])
	assert.Equal(t, uint64(10), summary.counters[efp.CounterNumFramesDelivered])

	var out bytes.Buffer
	summary.print(&out)
	assert.Contains(t, out.String(), "10 frames (1 broken)")
}

func TestReplayNotACapture(t *testing.T) {
	conf := testConfig(t)
	_, err := replayCapture(bytes.NewReader([]byte("definitely not a capture")), conf)
	require.Error(t, err)
}
