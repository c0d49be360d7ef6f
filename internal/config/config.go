package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// Backend types.
const (
	BackendNATS = "nats"
	BackendMQTT = "mqtt"
	BackendUDP  = "udp"
)

// Nonce modes.
const (
	NonceModeRandom  = "random"
	NonceModeCounter = "counter"
)

// Lock types.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	API         APIConfig         `yaml:"api"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Backend     BackendConfig     `yaml:"backend"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Join        JoinConfig        `yaml:"join"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Integration IntegrationConfig `yaml:"integration"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the provisioning API configuration
type APIConfig struct {
	Bind              string `yaml:"bind"`
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Automigrate     bool          `yaml:"automigrate"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// BackendConfig selects the message transport.
type BackendConfig struct {
	Type string     `yaml:"type"`
	NATS NATSConfig `yaml:"nats"`
	MQTT MQTTConfig `yaml:"mqtt"`
	UDP  UDPConfig  `yaml:"udp"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	UplinkSubject     string        `yaml:"uplink_subject"`
	DownlinkSubject   string        `yaml:"downlink_subject"`
	EventSubject      string        `yaml:"event_subject"`
}

// MQTTConfig represents MQTT configuration
type MQTTConfig struct {
	Server        string `yaml:"server"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	ClientID      string `yaml:"client_id"`
	QOS           uint8  `yaml:"qos"`
	CleanSession  bool   `yaml:"clean_session"`
	UplinkTopic   string `yaml:"uplink_topic"`
	DownlinkTopic string `yaml:"downlink_topic"`
	EventTopic    string `yaml:"event_topic"`
}

// UDPConfig configures the Semtech UDP packet-forwarder backend.
type UDPConfig struct {
	Bind           string        `yaml:"bind"`
	GatewayTimeout time.Duration `yaml:"gateway_timeout"`
}

// IntegrationConfig configures where join events are forwarded besides the
// backend. An integration is enabled when its endpoint or server is set.
type IntegrationConfig struct {
	HTTP HTTPIntegrationConfig `yaml:"http"`
	MQTT MQTTIntegrationConfig `yaml:"mqtt"`
}

// HTTPIntegrationConfig represents the HTTP webhook integration
type HTTPIntegrationConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
	Timeout  time.Duration     `yaml:"timeout"`
}

// MQTTIntegrationConfig represents the MQTT integration
type MQTTIntegrationConfig struct {
	Server       string `yaml:"server"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	ClientID     string `yaml:"client_id"`
	QOS          uint8  `yaml:"qos"`
	TopicPattern string `yaml:"topic_pattern"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// JoinConfig holds the join-procedure parameters.
type JoinConfig struct {
	NetID          lorawan.NetID           `yaml:"net_id"`
	NwkID          uint8                   `yaml:"nwk_id"`
	RxDelay        uint8                   `yaml:"rx_delay"`
	RX1DROffset    *uint8                  `yaml:"rx1_dr_offset"`
	RX2DataRate    *uint8                  `yaml:"rx2_dr"`
	NonceMode      string                  `yaml:"nonce_mode"`
	Lock           string                  `yaml:"lock"`
	Workers        int                     `yaml:"workers"`
	FrequencyPlans []lorawan.FrequencyPlan `yaml:"frequency_plans"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration, then applies environment overrides and
// defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.Backend.NATS.URL = natsURL
	}
	if mqttServer := os.Getenv("MQTT_SERVER"); mqttServer != "" {
		c.Backend.MQTT.Server = mqttServer
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
	if netID := os.Getenv("JOIN_NET_ID"); netID != "" {
		if err := c.Join.NetID.UnmarshalText([]byte(netID)); err != nil {
			return fmt.Errorf("JOIN_NET_ID: %w", err)
		}
	}
	if workers := os.Getenv("JOIN_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("JOIN_WORKERS: %w", err)
		}
		c.Join.Workers = n
	}
	return nil
}

// setDefaults fills in unset values
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "lorawan-join-server"
	}
	if c.API.Bind == "" {
		c.API.Bind = "0.0.0.0:8003"
	}
	if c.API.AdminUser == "" {
		c.API.AdminUser = "admin"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "postgres://localhost/joinserver?sslmode=disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 5 * time.Second
	}

	if c.Backend.Type == "" {
		c.Backend.Type = BackendNATS
	}
	if c.Backend.NATS.URL == "" {
		c.Backend.NATS.URL = "nats://localhost:4222"
	}
	if c.Backend.NATS.MaxReconnects == 0 {
		c.Backend.NATS.MaxReconnects = -1
	}
	if c.Backend.NATS.ReconnectInterval == 0 {
		c.Backend.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.Backend.NATS.UplinkSubject == "" {
		c.Backend.NATS.UplinkSubject = "gateway.*.rx"
	}
	if c.Backend.NATS.DownlinkSubject == "" {
		c.Backend.NATS.DownlinkSubject = "joinserver.%s.tx"
	}
	if c.Backend.NATS.EventSubject == "" {
		c.Backend.NATS.EventSubject = "joinserver.device.%s.join"
	}
	if c.Backend.MQTT.Server == "" {
		c.Backend.MQTT.Server = "tcp://localhost:1883"
	}
	if c.Backend.MQTT.ClientID == "" {
		c.Backend.MQTT.ClientID = "lorawan-join-server"
	}
	if c.Backend.MQTT.UplinkTopic == "" {
		c.Backend.MQTT.UplinkTopic = "gateway/+/event/up"
	}
	if c.Backend.MQTT.DownlinkTopic == "" {
		c.Backend.MQTT.DownlinkTopic = "gateway/%s/command/down"
	}
	if c.Backend.MQTT.EventTopic == "" {
		c.Backend.MQTT.EventTopic = "joinserver/device/%s/join"
	}
	if c.Backend.UDP.Bind == "" {
		c.Backend.UDP.Bind = "0.0.0.0:1700"
	}
	if c.Backend.UDP.GatewayTimeout == 0 {
		c.Backend.UDP.GatewayTimeout = 5 * time.Minute
	}

	if c.Integration.HTTP.Timeout == 0 {
		c.Integration.HTTP.Timeout = 5 * time.Second
	}
	if c.Integration.MQTT.ClientID == "" {
		c.Integration.MQTT.ClientID = "lorawan-join-server-integration"
	}
	if c.Integration.MQTT.TopicPattern == "" {
		c.Integration.MQTT.TopicPattern = "application/device/%s/join"
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Join.RxDelay == 0 {
		c.Join.RxDelay = 1
	}
	if c.Join.NonceMode == "" {
		c.Join.NonceMode = NonceModeRandom
	}
	if c.Join.Lock == "" {
		c.Join.Lock = LockLocal
	}
	if c.Join.Workers == 0 {
		c.Join.Workers = 16
	}
	if len(c.Join.FrequencyPlans) == 0 {
		c.Join.FrequencyPlans = lorawan.DefaultFrequencyPlans()
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend.Type {
	case BackendNATS, BackendMQTT, BackendUDP:
	default:
		errs = append(errs, fmt.Errorf("backend.type: unknown backend %q", c.Backend.Type))
	}
	switch c.Join.NonceMode {
	case NonceModeRandom, NonceModeCounter:
	default:
		errs = append(errs, fmt.Errorf("join.nonce_mode: unknown mode %q", c.Join.NonceMode))
	}
	switch c.Join.Lock {
	case LockLocal, LockRedis:
	default:
		errs = append(errs, fmt.Errorf("join.lock: unknown lock %q", c.Join.Lock))
	}
	if c.Join.RxDelay > 15 {
		errs = append(errs, fmt.Errorf("join.rx_delay: %d exceeds 15", c.Join.RxDelay))
	}
	if c.Join.RX1DROffset != nil && *c.Join.RX1DROffset > 7 {
		errs = append(errs, fmt.Errorf("join.rx1_dr_offset: %d exceeds 7", *c.Join.RX1DROffset))
	}
	if c.Join.RX2DataRate != nil && *c.Join.RX2DataRate > 15 {
		errs = append(errs, fmt.Errorf("join.rx2_dr: %d exceeds 15", *c.Join.RX2DataRate))
	}
	if c.Integration.MQTT.QOS > 2 {
		errs = append(errs, fmt.Errorf("integration.mqtt.qos: %d exceeds 2", c.Integration.MQTT.QOS))
	}
	if c.Join.Workers < 1 {
		errs = append(errs, fmt.Errorf("join.workers: must be positive"))
	}
	for _, p := range c.Join.FrequencyPlans {
		if p.Name == "" || p.Center == 0 {
			errs = append(errs, fmt.Errorf("join.frequency_plans: plan needs a name and a center frequency"))
		}
		if len(p.Defaults.ExtraChannels) > 5 {
			errs = append(errs, fmt.Errorf("join.frequency_plans[%s]: at most 5 extra channels", p.Name))
		}
		if p.Defaults.RX1DROffset > 7 {
			errs = append(errs, fmt.Errorf("join.frequency_plans[%s].rx1_dr_offset: %d exceeds 7", p.Name, p.Defaults.RX1DROffset))
		}
		if p.Defaults.RX2DataRate > 15 {
			errs = append(errs, fmt.Errorf("join.frequency_plans[%s].rx2_dr: %d exceeds 15", p.Name, p.Defaults.RX2DataRate))
		}
		if p.Defaults.RxDelay > 15 {
			errs = append(errs, fmt.Errorf("join.frequency_plans[%s].rx_delay: %d exceeds 15", p.Name, p.Defaults.RxDelay))
		}
		for _, f := range p.Defaults.ExtraChannels {
			if f%100 != 0 || f/100 > 0xffffff {
				errs = append(errs, fmt.Errorf("join.frequency_plans[%s].extra_channels: %d is not a 24-bit multiple of 100 Hz", p.Name, f))
			}
		}
	}

	return errors.Join(errs...)
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PrintConfigSummary prints a short summary of the configuration
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== LoRaWAN Join Server Configuration ===\n")
	fmt.Printf("Server: %s %s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("Backend: %s\n", c.Backend.Type)
	fmt.Printf("NetID: %s  NwkID: %02x\n", c.Join.NetID, c.Join.NwkID)
	fmt.Printf("Nonce mode: %s  Lock: %s  Workers: %d\n", c.Join.NonceMode, c.Join.Lock, c.Join.Workers)
	for _, p := range c.Join.FrequencyPlans {
		fmt.Printf("  Plan %-6s center=%.3fMHz rx2=%.3fMHz/DR%d extra=%d\n",
			p.Name,
			float64(p.Center)/1000000,
			float64(p.Defaults.RX2Frequency)/1000000,
			p.Defaults.RX2DataRate,
			len(p.Defaults.ExtraChannels))
	}
	fmt.Printf("==========================================\n")
}
