package config

import (
	"flock/internal/configloader"
	"flock/internal/logger"
	"fmt"
	"net"
	"strings"
	"time"
)

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

type FileLoggerConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

type LoggerConfig struct {
	Active   bool             `yaml:"active"`
	Level    string           `yaml:"level"`
	Encoding string           `yaml:"encoding"`
	Mode     string           `yaml:"mode"`
	File     FileLoggerConfig `yaml:"file"`
}

// RingConfig tunes the fault-tolerance degree and every interval
// governing a periodic background loop in internal/node.
type RingConfig struct {
	FaultTolerance      int           `yaml:"faultTolerance"`      // F; backup list and replic set hold F+1 entries
	LivenessInterval    time.Duration `yaml:"livenessInterval"`    // successor/predecessor probe cadence
	LivenessDeadline    time.Duration `yaml:"livenessDeadline"`    // PING round-trip deadline
	SuccPropagation     time.Duration `yaml:"succPropagation"`     // SUCC-upstream cadence
	ReplicationInterval time.Duration `yaml:"replicationInterval"` // outgoing replication loop cadence
	FixRateLimit        time.Duration `yaml:"fixRateLimit"`        // minimum spacing between FIX broadcasts
}

// DiscoveryConfig tunes the LAN discovery mechanisms.
type DiscoveryConfig struct {
	BroadcastAddr    string        `yaml:"broadcastAddr"`
	BroadcastTimeout time.Duration `yaml:"broadcastTimeout"`
	MulticastGroup   string        `yaml:"multicastGroup"`
	MulticastPort    int           `yaml:"multicastPort"`
}

// NodeConfig identifies this process and the sockets it binds.
type NodeConfig struct {
	Name         string `yaml:"name"`
	Bind         string `yaml:"bind"`
	CommandPort  int    `yaml:"commandPort"`
	LivenessPort int    `yaml:"livenessPort"`
}

// ServerConfig is the full configuration schema for cmd/flock-server.
type ServerConfig struct {
	Node      NodeConfig      `yaml:"node"`
	Ring      RingConfig      `yaml:"ring"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logger    LoggerConfig    `yaml:"logger"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ClientKeyConfig locates the client's persisted RSA keypair.
type ClientKeyConfig struct {
	PrivatePath string `yaml:"privatePath"`
	PublicPath  string `yaml:"publicPath"`
}

// ClientConfig is the full configuration schema for cmd/flock-client.
type ClientConfig struct {
	Username       string          `yaml:"username"`
	Server         string          `yaml:"server"` // "ip:port" of the command port, empty = discover
	KeyExchangeTTL time.Duration   `yaml:"keyExchangeTtl"`
	Keys           ClientKeyConfig `yaml:"keys"`
	Discovery      DiscoveryConfig `yaml:"discovery"`
	Logger         LoggerConfig    `yaml:"logger"`
}

// LoadServerConfig loads a ServerConfig from a YAML file. Only syntactic
// parsing is performed; call ValidateConfig to check structure.
func LoadServerConfig(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := configloader.LoadYAML(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClientConfig loads a ClientConfig from a YAML file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := configloader.LoadYAML(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides to a
// ServerConfig, mirroring the set of knobs an operator is most likely to
// need to change per deployment without editing the YAML file.
//
//	NODE_NAME              -> cfg.Node.Name
//	NODE_BIND              -> cfg.Node.Bind
//	NODE_COMMAND_PORT      -> cfg.Node.CommandPort
//	NODE_LIVENESS_PORT     -> cfg.Node.LivenessPort
//	RING_FAULT_TOLERANCE   -> cfg.Ring.FaultTolerance
//	DISCOVERY_BROADCAST    -> cfg.Discovery.BroadcastAddr
//	TRACE_ENABLED          -> cfg.Telemetry.Tracing.Enabled
//	TRACE_EXPORTER         -> cfg.Telemetry.Tracing.Exporter
//	TRACE_ENDPOINT         -> cfg.Telemetry.Tracing.Endpoint
//	LOGGER_ENABLED         -> cfg.Logger.Active
//	LOGGER_LEVEL           -> cfg.Logger.Level
//	LOGGER_ENCODING        -> cfg.Logger.Encoding
//	LOGGER_MODE            -> cfg.Logger.Mode
//	LOGGER_FILE_PATH       -> cfg.Logger.File.Path
func (cfg *ServerConfig) ApplyEnvOverrides() {
	configloader.OverrideString(&cfg.Node.Name, "NODE_NAME")
	configloader.OverrideString(&cfg.Node.Bind, "NODE_BIND")
	if cfg.Node.Bind == "" {
		cfg.Node.Bind = "0.0.0.0"
	}
	configloader.OverrideInt(&cfg.Node.CommandPort, "NODE_COMMAND_PORT")
	configloader.OverrideInt(&cfg.Node.LivenessPort, "NODE_LIVENESS_PORT")
	configloader.OverrideInt(&cfg.Ring.FaultTolerance, "RING_FAULT_TOLERANCE")
	configloader.OverrideDuration(&cfg.Ring.LivenessInterval, "RING_LIVENESS_INTERVAL")
	configloader.OverrideDuration(&cfg.Ring.ReplicationInterval, "RING_REPLICATION_INTERVAL")
	configloader.OverrideString(&cfg.Discovery.BroadcastAddr, "DISCOVERY_BROADCAST")
	configloader.OverrideBool(&cfg.Telemetry.Tracing.Enabled, "TRACE_ENABLED")
	configloader.OverrideString(&cfg.Telemetry.Tracing.Exporter, "TRACE_EXPORTER")
	configloader.OverrideString(&cfg.Telemetry.Tracing.Endpoint, "TRACE_ENDPOINT")
	configloader.OverrideBool(&cfg.Logger.Active, "LOGGER_ENABLED")
	configloader.OverrideString(&cfg.Logger.Level, "LOGGER_LEVEL")
	configloader.OverrideString(&cfg.Logger.Encoding, "LOGGER_ENCODING")
	configloader.OverrideString(&cfg.Logger.Mode, "LOGGER_MODE")
	configloader.OverrideString(&cfg.Logger.File.Path, "LOGGER_FILE_PATH")
}

// ApplyEnvOverrides applies environment variable overrides to a
// ClientConfig.
//
//	CLIENT_USERNAME        -> cfg.Username
//	CLIENT_SERVER          -> cfg.Server
//	LOGGER_LEVEL           -> cfg.Logger.Level
//	LOGGER_MODE            -> cfg.Logger.Mode
func (cfg *ClientConfig) ApplyEnvOverrides() {
	configloader.OverrideString(&cfg.Username, "CLIENT_USERNAME")
	configloader.OverrideString(&cfg.Server, "CLIENT_SERVER")
	configloader.OverrideString(&cfg.Logger.Level, "LOGGER_LEVEL")
	configloader.OverrideString(&cfg.Logger.Mode, "LOGGER_MODE")
}

// ValidateConfig performs structural validation: required fields, port
// ranges, positive intervals. It does not validate routing-level
// semantics (e.g. whether FaultTolerance is achievable given the
// cluster size).
func (cfg *ServerConfig) ValidateConfig() error {
	var errs []string

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.level: %s", cfg.Logger.Level))
	}
	switch cfg.Logger.Encoding {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.encoding: %s", cfg.Logger.Encoding))
	}
	switch cfg.Logger.Mode {
	case "stdout":
	case "file":
		if cfg.Logger.File.Path == "" {
			errs = append(errs, "logger.file.path is required when mode=file")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.mode: %s", cfg.Logger.Mode))
	}

	if cfg.Node.CommandPort <= 0 || cfg.Node.CommandPort > 65535 {
		errs = append(errs, fmt.Sprintf("node.commandPort must be in (0,65535], got %d", cfg.Node.CommandPort))
	}
	if cfg.Node.LivenessPort <= 0 || cfg.Node.LivenessPort > 65535 {
		errs = append(errs, fmt.Sprintf("node.livenessPort must be in (0,65535], got %d", cfg.Node.LivenessPort))
	}
	if cfg.Node.CommandPort == cfg.Node.LivenessPort {
		errs = append(errs, "node.commandPort and node.livenessPort must differ")
	}

	if cfg.Ring.FaultTolerance < 1 {
		errs = append(errs, "ring.faultTolerance must be >= 1")
	}
	if cfg.Ring.LivenessInterval <= 0 {
		errs = append(errs, "ring.livenessInterval must be > 0")
	}
	if cfg.Ring.LivenessDeadline <= 0 {
		errs = append(errs, "ring.livenessDeadline must be > 0")
	}
	if cfg.Ring.LivenessDeadline >= cfg.Ring.LivenessInterval {
		errs = append(errs, "ring.livenessDeadline must be < ring.livenessInterval")
	}
	if cfg.Ring.SuccPropagation <= 0 {
		errs = append(errs, "ring.succPropagation must be > 0")
	}
	if cfg.Ring.ReplicationInterval <= 0 {
		errs = append(errs, "ring.replicationInterval must be > 0")
	}
	if cfg.Ring.FixRateLimit <= 0 {
		errs = append(errs, "ring.fixRateLimit must be > 0")
	}

	if cfg.Discovery.BroadcastAddr == "" {
		errs = append(errs, "discovery.broadcastAddr is required")
	}
	if cfg.Discovery.BroadcastTimeout <= 0 {
		errs = append(errs, "discovery.broadcastTimeout must be > 0")
	}
	if cfg.Discovery.MulticastGroup == "" {
		errs = append(errs, "discovery.multicastGroup is required")
	}
	if cfg.Discovery.MulticastPort <= 0 || cfg.Discovery.MulticastPort > 65535 {
		errs = append(errs, "discovery.multicastPort must be in (0,65535]")
	}

	if cfg.Telemetry.Tracing.Enabled {
		switch cfg.Telemetry.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			errs = append(errs, fmt.Sprintf("invalid telemetry.tracing.exporter: %s", cfg.Telemetry.Tracing.Exporter))
		}
		if cfg.Telemetry.Tracing.Endpoint == "" && cfg.Telemetry.Tracing.Exporter == "otlp" {
			errs = append(errs, "telemetry.tracing.endpoint is required for otlp exporter")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateConfig performs structural validation of a ClientConfig.
func (cfg *ClientConfig) ValidateConfig() error {
	var errs []string

	if cfg.Username == "" {
		errs = append(errs, "username is required")
	}
	if cfg.Server != "" {
		if _, _, err := net.SplitHostPort(cfg.Server); err != nil {
			errs = append(errs, fmt.Sprintf("invalid server address %q: %v", cfg.Server, err))
		}
	}
	if cfg.KeyExchangeTTL <= 0 {
		errs = append(errs, "keyExchangeTtl must be > 0")
	}
	if cfg.Keys.PrivatePath == "" || cfg.Keys.PublicPath == "" {
		errs = append(errs, "keys.privatePath and keys.publicPath are required")
	}

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.level: %s", cfg.Logger.Level))
	}
	switch cfg.Logger.Mode {
	case "stdout", "file":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.mode: %s", cfg.Logger.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogConfig prints the loaded server configuration at DEBUG level.
func (cfg *ServerConfig) LogConfig(lgr logger.Logger) {
	lgr.Debug("loaded server configuration",
		logger.F("node.name", cfg.Node.Name),
		logger.F("node.bind", cfg.Node.Bind),
		logger.F("node.commandPort", cfg.Node.CommandPort),
		logger.F("node.livenessPort", cfg.Node.LivenessPort),

		logger.F("ring.faultTolerance", cfg.Ring.FaultTolerance),
		logger.F("ring.livenessInterval", cfg.Ring.LivenessInterval.String()),
		logger.F("ring.livenessDeadline", cfg.Ring.LivenessDeadline.String()),
		logger.F("ring.succPropagation", cfg.Ring.SuccPropagation.String()),
		logger.F("ring.replicationInterval", cfg.Ring.ReplicationInterval.String()),
		logger.F("ring.fixRateLimit", cfg.Ring.FixRateLimit.String()),

		logger.F("discovery.broadcastAddr", cfg.Discovery.BroadcastAddr),
		logger.F("discovery.broadcastTimeout", cfg.Discovery.BroadcastTimeout.String()),
		logger.F("discovery.multicastGroup", cfg.Discovery.MulticastGroup),
		logger.F("discovery.multicastPort", cfg.Discovery.MulticastPort),

		logger.F("logger.level", cfg.Logger.Level),
		logger.F("logger.encoding", cfg.Logger.Encoding),
		logger.F("logger.mode", cfg.Logger.Mode),

		logger.F("telemetry.tracing.enabled", cfg.Telemetry.Tracing.Enabled),
		logger.F("telemetry.tracing.exporter", cfg.Telemetry.Tracing.Exporter),
		logger.F("telemetry.tracing.endpoint", cfg.Telemetry.Tracing.Endpoint),
	)
}
