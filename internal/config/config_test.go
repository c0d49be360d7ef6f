package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

const testConfig = `
server:
  name: js-test
database:
  dsn: postgres://js:js@db/js?sslmode=disable
backend:
  type: mqtt
join:
  net_id: "000013"
  nwk_id: 0x26
  rx1_dr_offset: 4
  nonce_mode: counter
  frequency_plans:
    - name: EU433
      center: 433175000
      defaults:
        rx2_dr: 0
        rx2_frequency: 434665000
        extra_channels: [433375000, 433575000]
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "join-server.yml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "js-test", cfg.Server.Name)
	assert.Equal(t, BackendMQTT, cfg.Backend.Type)
	assert.Equal(t, lorawan.NetID{0x00, 0x00, 0x13}, cfg.Join.NetID)
	assert.Equal(t, uint8(0x26), cfg.Join.NwkID)
	require.NotNil(t, cfg.Join.RX1DROffset)
	assert.Equal(t, uint8(4), *cfg.Join.RX1DROffset)
	assert.Nil(t, cfg.Join.RX2DataRate)
	assert.Equal(t, NonceModeCounter, cfg.Join.NonceMode)
	require.Len(t, cfg.Join.FrequencyPlans, 1)
	assert.Equal(t, []uint32{433375000, 433575000}, cfg.Join.FrequencyPlans[0].Defaults.ExtraChannels)

	// defaults
	assert.Equal(t, uint8(1), cfg.Join.RxDelay)
	assert.Equal(t, LockLocal, cfg.Join.Lock)
	assert.Equal(t, 16, cfg.Join.Workers)
	assert.Equal(t, 5*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, "gateway/+/event/up", cfg.Backend.MQTT.UplinkTopic)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/js")
	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("JOIN_NET_ID", "010203")
	t.Setenv("JOIN_WORKERS", "4")

	cfg, err := Parse([]byte(testConfig))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/js", cfg.Database.DSN)
	assert.Equal(t, "nats://env:4222", cfg.Backend.NATS.URL)
	assert.Equal(t, "env-secret", cfg.JWT.Secret)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, lorawan.NetID{0x01, 0x02, 0x03}, cfg.Join.NetID)
	assert.Equal(t, 4, cfg.Join.Workers)
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("JOIN_NET_ID", "zz")
	_, err := Parse([]byte(testConfig))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		Name string
		YAML string
	}{
		{"backend", "backend:\n  type: kafka\n"},
		{"nonce mode", "join:\n  nonce_mode: sequential\n"},
		{"lock", "join:\n  lock: etcd\n"},
		{"rx delay", "join:\n  rx_delay: 16\n"},
		{"rx1 dr offset", "join:\n  rx1_dr_offset: 8\n"},
		{"plan", "join:\n  frequency_plans:\n    - name: X\n"},
		{"plan rx1 dr offset", "join:\n  frequency_plans:\n    - name: X\n      center: 868100000\n      defaults:\n        rx1_dr_offset: 8\n"},
		{"plan rx2 dr", "join:\n  frequency_plans:\n    - name: X\n      center: 868100000\n      defaults:\n        rx2_dr: 16\n"},
		{"plan rx delay", "join:\n  frequency_plans:\n    - name: X\n      center: 868100000\n      defaults:\n        rx_delay: 16\n"},
		{"plan extra channel", "join:\n  frequency_plans:\n    - name: X\n      center: 868100000\n      defaults:\n        extra_channels: [867100050]\n"},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			_, err := Parse([]byte(tst.YAML))
			assert.Error(t, err)
		})
	}
}

func TestDefaultYAMLRoundTrip(t *testing.T) {
	b, err := Default().YAML()
	require.NoError(t, err)

	cfg, err := Parse(b)
	require.NoError(t, err)
	require.Len(t, cfg.Join.FrequencyPlans, len(Default().Join.FrequencyPlans))
	for i, p := range Default().Join.FrequencyPlans {
		assert.Equal(t, p.Name, cfg.Join.FrequencyPlans[i].Name)
		assert.Equal(t, p.Center, cfg.Join.FrequencyPlans[i].Center)
		assert.Equal(t, p.Defaults.RX2Frequency, cfg.Join.FrequencyPlans[i].Defaults.RX2Frequency)
	}
	assert.Equal(t, Default().Backend, cfg.Backend)
}

func TestIntegrationDefaults(t *testing.T) {
	cfg, err := Parse([]byte("integration:\n  http:\n    endpoint: http://app/join\n    headers:\n      Authorization: Bearer x\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://app/join", cfg.Integration.HTTP.Endpoint)
	assert.Equal(t, "Bearer x", cfg.Integration.HTTP.Headers["Authorization"])
	assert.Equal(t, 5*time.Second, cfg.Integration.HTTP.Timeout)
	assert.Equal(t, "", cfg.Integration.MQTT.Server)
	assert.Equal(t, "application/device/%s/join", cfg.Integration.MQTT.TopicPattern)

	_, err = Parse([]byte("integration:\n  mqtt:\n    qos: 3\n"))
	assert.Error(t, err)
}
