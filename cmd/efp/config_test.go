package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jakecoffman/efp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "efp.yaml", `
name: cam1
mtu: 1200
hol_timeout: 10
tick: 5ms
log:
  level: DEBUG
send:
  addr: "10.0.0.1:9000"
  size: 4000
  stream: 3
  content: h265
recv:
  stats: 1s
soak:
  drop: 0.2
`)
	conf, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "cam1", conf.Name)
	assert.Equal(t, 1200, conf.MTU)
	assert.Equal(t, uint32(10), conf.HOLTimeout)
	assert.Equal(t, uint32(50), conf.BucketTimeout)
	assert.Equal(t, 5*time.Millisecond, conf.Tick)
	assert.Equal(t, "DEBUG", conf.Log.Level)
	assert.Equal(t, "10.0.0.1:9000", conf.Send.Addr)
	assert.Equal(t, 4000, conf.Send.Size)
	assert.Equal(t, uint8(3), conf.Send.Stream)
	assert.Equal(t, "h265", conf.Send.Content)
	assert.Equal(t, float64(30), conf.Send.Rate)
	assert.Equal(t, time.Second, conf.Recv.Stats)
	assert.Equal(t, 0.2, conf.Soak.Drop)
	assert.Equal(t, 0.05, conf.Soak.Reorder)
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeConfig(t, "efp.toml", `
mtu = 500
bucket_count = 1024
bucket_timeout = 30
hol_timeout = 0
tick = "2ms"

[replay]
port = 8987

[soak]
iterations = 10
seed = 42
`)
	conf, err := loadConfig(path)
	require.NoError(t, err)

	assert.NotEmpty(t, conf.Name)
	assert.Equal(t, 500, conf.MTU)
	assert.Equal(t, 1024, conf.BucketCount)
	assert.Equal(t, uint32(30), conf.BucketTimeout)
	assert.Equal(t, uint32(0), conf.HOLTimeout)
	assert.Equal(t, 2*time.Millisecond, conf.Tick)
	assert.Equal(t, uint16(8987), conf.Replay.Port)
	assert.Equal(t, 10, conf.Soak.Iterations)
	assert.Equal(t, int64(42), conf.Soak.Seed)

	config := conf.protocolConfig(efp.ModeUnpacker)
	assert.Equal(t, efp.ModeUnpacker, config.Mode)
	assert.Equal(t, 1024, config.BucketCount)
	assert.Equal(t, 2*time.Millisecond, config.TickInterval)
}

func TestLoadConfigUnknownKey(t *testing.T) {
	path := writeConfig(t, "efp.yml", "mtu: 1200\nmtus: 1300\n")
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mtus")
}

func TestLoadConfigExtension(t *testing.T) {
	path := writeConfig(t, "efp.json", "{}")
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported extension")
}

func TestLoadConfigValidation(t *testing.T) {
	path := writeConfig(t, "efp.toml", `
mtu = 100
bucket_count = 1000
bucket_timeout = 10
hol_timeout = 10

[send]
content = "av1"

[soak]
drop = 1.5
`)
	_, err := loadConfig(path)
	require.Error(t, err)
	for _, want := range []string{"mtu 100", "bucket_count 1000", "hol_timeout 10", "send.content", "soak.drop"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDefaultConfigValid(t *testing.T) {
	conf := defaultFileConfig()
	conf.setDefaults()
	require.NoError(t, conf.validate())
	assert.Contains(t, conf.Name, "efp-")
}
