package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  name: jobrouter-test
transport:
  driver: redis
redis:
  addr: 10.0.0.1:6379
router:
  queue: mail
workers:
  - name: mail
    subscriber:
      rate: 5
schedules:
  - name: daily
    spec: "0 0 * * *"
    kind: scheduledSearch
    payload:
      frequency: daily
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "jobrouter-test", cfg.App.Name)
	assert.Equal(t, DriverRedis, cfg.Transport.Driver)
	assert.Equal(t, 5*time.Second, cfg.Transport.ReconnectBackoff)
	assert.Equal(t, "10.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Router.DefaultMaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Router.EmitWait)

	require.Len(t, cfg.Workers, 1)
	w := cfg.Workers[0]
	assert.Equal(t, "mail", w.QueueName)
	assert.Equal(t, 10, w.Processor.Threads)
	assert.Equal(t, 1, w.Subscriber.Threads)
	assert.Equal(t, float64(5), w.Subscriber.Rate)
	assert.Equal(t, 30*time.Second, w.Subscriber.TTR)
	assert.Equal(t, w.Subscriber.TTR, w.Processor.Timeout)

	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "daily", cfg.Schedules[0].Payload["frequency"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JOBROUTER_TRANSPORT_DRIVER", "memory")
	t.Setenv("JOBROUTER_ROUTER_QUEUE", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Transport.Driver)
	assert.Equal(t, "from-env", cfg.Router.Queue)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Transport.Driver = DriverMemory
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Transport.Driver = "kafka" }},
		{"lmstfy without namespace", func(c *Config) { c.Transport.Driver = DriverLmstfy }},
		{"no queue", func(c *Config) { c.Router.Queue = "" }},
		{"no backoff", func(c *Config) { c.Transport.ReconnectBackoff = 0 }},
		{"emit wait shorter than backoff", func(c *Config) { c.Router.EmitWait = 2 * time.Second }},
		{"negative emit wait", func(c *Config) { c.Router.EmitWait = -time.Second }},
		{"unnamed worker", func(c *Config) { c.Workers = []WorkerConfig{{}} }},
		{"schedule without kind", func(c *Config) { c.Schedules = []ScheduleConfig{{Name: "x", Spec: "@daily"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_EmitWaitWithoutBound(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Transport.Driver = DriverMemory
	cfg.Router.EmitWait = 0
	assert.NoError(t, cfg.Validate())
}
