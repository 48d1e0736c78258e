package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix namespaces every environment override.
	EnvPrefix = "STEERSIM"

	// DefaultMode selects the desktop window host.
	DefaultMode = ModeDesktop
	// DefaultVariant selects the tractor and trailer configuration.
	DefaultVariant = VariantTrailer
	// DefaultTickHz is the logical step frequency used by the headless loop.
	DefaultTickHz = 60.0

	// DefaultAddr is the default TCP address the stream server listens on.
	DefaultAddr = ":43127"
	// DefaultGRPCAddr hosts the health service.
	DefaultGRPCAddr = ":43128"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultTimeSyncInterval paces server clock reports to stream clients.
	DefaultTimeSyncInterval = time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 32

	// DefaultInputMaxAge rejects remote input events older than this.
	DefaultInputMaxAge = 250 * time.Millisecond
	// DefaultInputMinInterval throttles remote input events per client. Zero disables it.
	DefaultInputMinInterval = time.Duration(0)

	// DefaultBandwidthBytesPerSecond caps snapshot traffic per stream client. Zero disables it.
	DefaultBandwidthBytesPerSecond = 256 * 1024.0

	// DefaultGRPCAuthMode leaves the health service unauthenticated.
	DefaultGRPCAuthMode = GRPCAuthModeNone

	// DefaultReplayMaxBundles bounds how many replay bundles stay on disk. Zero keeps all.
	DefaultReplayMaxBundles = 20
	// DefaultReplayMaxAge expires replay bundles older than this. Zero keeps all.
	DefaultReplayMaxAge = 7 * 24 * time.Hour
	// DefaultReplaySweepInterval controls how often the replay directory is pruned.
	DefaultReplaySweepInterval = time.Minute

	// DefaultWindowWidth and DefaultWindowHeight size the desktop window.
	DefaultWindowWidth  = 1280
	DefaultWindowHeight = 720

	// DefaultLogLevel controls verbosity for logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "steersim.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 20
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 5
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Host modes.
const (
	ModeDesktop = "desktop"
	ModeServe   = "serve"
)

// Vehicle variants.
const (
	VariantSimple  = "simple"
	VariantTrailer = "trailer"
)

// gRPC authentication modes for the health service.
const (
	GRPCAuthModeNone         = "none"
	GRPCAuthModeSharedSecret = "shared_secret"
	GRPCAuthModeMTLS         = "mtls"
)

// Config captures all runtime tunables for the simulator.
type Config struct {
	Mode            string
	Variant         string
	TickHz          float64
	Address         string
	GRPCAddress     string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	// TimeSyncInterval of zero disables clock reports.
	TimeSyncInterval time.Duration
	MaxClients       int
	ReplayDir        string
	WSAuthSecret     string
	AdminToken       string
	BandwidthBPS     float64
	GRPC             GRPCConfig
	Replay           ReplayConfig
	Input            InputConfig
	Window           WindowConfig
	Logging          LoggingConfig
}

// GRPCConfig secures the gRPC health listener.
type GRPCConfig struct {
	AuthMode       string
	SharedSecret   string
	ServerCertPath string
	ServerKeyPath  string
	ClientCAPath   string
}

// ReplayConfig controls retention of recorded replay bundles.
type ReplayConfig struct {
	MaxBundles    int
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// InputConfig tunes the remote input gate.
type InputConfig struct {
	MaxAge      time.Duration
	MinInterval time.Duration
}

// WindowConfig sizes the desktop host window.
type WindowConfig struct {
	Width  int
	Height int
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", DefaultMode)
	v.SetDefault("variant", DefaultVariant)
	v.SetDefault("tick_hz", strconv.FormatFloat(DefaultTickHz, 'f', -1, 64))
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("grpc_addr", DefaultGRPCAddr)
	v.SetDefault("allowed_origins", "")
	v.SetDefault("max_payload_bytes", strconv.FormatInt(DefaultMaxPayloadBytes, 10))
	v.SetDefault("ping_interval", DefaultPingInterval.String())
	v.SetDefault("time_sync_interval", DefaultTimeSyncInterval.String())
	v.SetDefault("max_clients", strconv.Itoa(DefaultMaxClients))
	v.SetDefault("replay_dir", "")
	v.SetDefault("ws_auth_secret", "")
	v.SetDefault("admin_token", "")
	v.SetDefault("bandwidth_bps", strconv.FormatFloat(DefaultBandwidthBytesPerSecond, 'f', -1, 64))
	v.SetDefault("grpc.auth_mode", DefaultGRPCAuthMode)
	v.SetDefault("grpc.shared_secret", "")
	v.SetDefault("grpc.server_cert", "")
	v.SetDefault("grpc.server_key", "")
	v.SetDefault("grpc.client_ca", "")
	v.SetDefault("replay.max_bundles", strconv.Itoa(DefaultReplayMaxBundles))
	v.SetDefault("replay.max_age", DefaultReplayMaxAge.String())
	v.SetDefault("replay.sweep_interval", DefaultReplaySweepInterval.String())
	v.SetDefault("input.max_age", DefaultInputMaxAge.String())
	v.SetDefault("input.min_interval", DefaultInputMinInterval.String())
	v.SetDefault("window.width", strconv.Itoa(DefaultWindowWidth))
	v.SetDefault("window.height", strconv.Itoa(DefaultWindowHeight))
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.path", DefaultLogPath)
	v.SetDefault("log.max_size_mb", strconv.Itoa(DefaultLogMaxSizeMB))
	v.SetDefault("log.max_backups", strconv.Itoa(DefaultLogMaxBackups))
	v.SetDefault("log.max_age_days", strconv.Itoa(DefaultLogMaxAgeDays))
	v.SetDefault("log.compress", strconv.FormatBool(DefaultLogCompress))
	return v
}

// Load reads the simulator configuration from an optional file and STEERSIM_*
// environment variables, applying defaults and returning one error that lists
// every invalid override.
func Load(path string) (*Config, error) {
	v := newViper()
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	p := &parser{v: v}
	cfg := &Config{
		Mode:             strings.ToLower(p.str("mode")),
		Variant:          strings.ToLower(p.str("variant")),
		TickHz:           p.positiveFloat("tick_hz"),
		Address:          p.str("addr"),
		GRPCAddress:      p.str("grpc_addr"),
		AllowedOrigins:   parseList(p.str("allowed_origins")),
		MaxPayloadBytes:  p.positiveInt64("max_payload_bytes"),
		PingInterval:     p.positiveDuration("ping_interval"),
		TimeSyncInterval: p.nonNegativeDuration("time_sync_interval"),
		MaxClients:       p.nonNegativeInt("max_clients"),
		ReplayDir:        p.str("replay_dir"),
		WSAuthSecret:     p.str("ws_auth_secret"),
		AdminToken:       p.str("admin_token"),
		BandwidthBPS:     p.nonNegativeFloat("bandwidth_bps"),
		GRPC: GRPCConfig{
			AuthMode:       strings.ToLower(p.str("grpc.auth_mode")),
			SharedSecret:   p.str("grpc.shared_secret"),
			ServerCertPath: p.str("grpc.server_cert"),
			ServerKeyPath:  p.str("grpc.server_key"),
			ClientCAPath:   p.str("grpc.client_ca"),
		},
		Replay: ReplayConfig{
			MaxBundles:    p.nonNegativeInt("replay.max_bundles"),
			MaxAge:        p.nonNegativeDuration("replay.max_age"),
			SweepInterval: p.positiveDuration("replay.sweep_interval"),
		},
		Input: InputConfig{
			MaxAge:      p.nonNegativeDuration("input.max_age"),
			MinInterval: p.nonNegativeDuration("input.min_interval"),
		},
		Window: WindowConfig{
			Width:  p.positiveInt("window.width"),
			Height: p.positiveInt("window.height"),
		},
		Logging: LoggingConfig{
			Level:      p.str("log.level"),
			Path:       p.str("log.path"),
			MaxSizeMB:  p.positiveInt("log.max_size_mb"),
			MaxBackups: p.nonNegativeInt("log.max_backups"),
			MaxAgeDays: p.nonNegativeInt("log.max_age_days"),
			Compress:   p.boolean("log.compress"),
		},
	}

	switch cfg.Mode {
	case ModeDesktop, ModeServe:
	default:
		p.fail("mode", "must be %q or %q", ModeDesktop, ModeServe)
	}
	switch cfg.Variant {
	case VariantSimple, VariantTrailer:
	default:
		p.fail("variant", "must be %q or %q", VariantSimple, VariantTrailer)
	}

	switch cfg.GRPC.AuthMode {
	case GRPCAuthModeNone:
	case GRPCAuthModeSharedSecret:
		if cfg.GRPC.SharedSecret == "" {
			p.fail("grpc.shared_secret", "is required when grpc auth mode is %q", GRPCAuthModeSharedSecret)
		}
	case GRPCAuthModeMTLS:
		if cfg.GRPC.ServerCertPath == "" || cfg.GRPC.ServerKeyPath == "" || cfg.GRPC.ClientCAPath == "" {
			p.fail("grpc.auth_mode", "%q requires server cert, server key and client ca paths", GRPCAuthModeMTLS)
		}
	default:
		p.fail("grpc.auth_mode", "must be %q, %q or %q", GRPCAuthModeNone, GRPCAuthModeSharedSecret, GRPCAuthModeMTLS)
	}

	if len(p.problems) > 0 {
		return nil, errors.New(strings.Join(p.problems, "; "))
	}
	return cfg, nil
}

// parser collects validation problems while reading raw viper values.
type parser struct {
	v        *viper.Viper
	problems []string
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (p *parser) fail(key, format string, args ...any) {
	p.problems = append(p.problems, envName(key)+" "+fmt.Sprintf(format, args...))
}

func (p *parser) str(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) positiveFloat(key string) float64 {
	raw := p.str(key)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(value > 0) {
		p.fail(key, "must be a positive number, got %q", raw)
		return 0
	}
	return value
}

func (p *parser) nonNegativeFloat(key string) float64 {
	raw := p.str(key)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(value >= 0) || value > math.MaxFloat64 {
		p.fail(key, "must be a non-negative number, got %q", raw)
		return 0
	}
	return value
}

func (p *parser) positiveInt64(key string) int64 {
	raw := p.str(key)
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		p.fail(key, "must be a positive integer, got %q", raw)
		return 0
	}
	return value
}

func (p *parser) positiveInt(key string) int {
	raw := p.str(key)
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		p.fail(key, "must be a positive integer, got %q", raw)
		return 0
	}
	return value
}

func (p *parser) nonNegativeInt(key string) int {
	raw := p.str(key)
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		p.fail(key, "must be a non-negative integer, got %q", raw)
		return 0
	}
	return value
}

func (p *parser) positiveDuration(key string) time.Duration {
	raw := p.str(key)
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		p.fail(key, "must be a positive duration, got %q", raw)
		return 0
	}
	return value
}

func (p *parser) nonNegativeDuration(key string) time.Duration {
	raw := p.str(key)
	value, err := time.ParseDuration(raw)
	if err != nil || value < 0 {
		p.fail(key, "must be a non-negative duration, got %q", raw)
		return 0
	}
	return value
}

func (p *parser) boolean(key string) bool {
	raw := p.str(key)
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, "must be a boolean value, got %q", raw)
		return false
	}
	return value
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
