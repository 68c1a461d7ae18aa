package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/ldscan/internal/lidar/l1packets/source"
	"github.com/banshee-data/ldscan/internal/lidar/l2frames"
	"github.com/banshee-data/ldscan/internal/lidar/pipeline"
	"github.com/banshee-data/ldscan/internal/monitoring"
	"github.com/banshee-data/ldscan/internal/serialport"
)

// Defaults applied by the Get* accessors when a field is unset.
const (
	DefaultListen        = ":8081"
	DefaultGRPCListen    = "localhost:50051"
	DefaultDBPath        = "ldscan.db"
	DefaultRetryBackoff  = 500 * time.Millisecond
	DefaultStatsInterval = pipeline.DefaultStatsInterval
	DefaultPCAPPort      = 4001

	maxConfigSize = 1 * 1024 * 1024 // 1MB
)

// Config is the runtime configuration for ldscan. Every field is optional;
// unset fields fall back to the defaults returned by the Get* methods, so
// partial files are safe. An explicitly empty listen address or database
// path disables that component.
type Config struct {
	// Byte source
	Source      *string                 `json:"source,omitempty" yaml:"source,omitempty"` // serial, replay, pcap or synthetic
	Port        *string                 `json:"port,omitempty" yaml:"port,omitempty"`
	Serial      *serialport.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
	ReadTimeout *string                 `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"` // duration string like "2s"
	ReplayPath  *string                 `json:"replay_path,omitempty" yaml:"replay_path,omitempty"`
	ReplayLoop  *bool                   `json:"replay_loop,omitempty" yaml:"replay_loop,omitempty"`
	PCAPPath    *string                 `json:"pcap_path,omitempty" yaml:"pcap_path,omitempty"`
	PCAPPort    *int                    `json:"pcap_port,omitempty" yaml:"pcap_port,omitempty"`
	RecordPath  *string                 `json:"record_path,omitempty" yaml:"record_path,omitempty"` // raw capture of the live stream

	// Pipeline
	RetryBackoff   *string `json:"retry_backoff,omitempty" yaml:"retry_backoff,omitempty"` // "0s" stops on the first failed scan
	StatsInterval  *string `json:"stats_interval,omitempty" yaml:"stats_interval,omitempty"`
	StrictChecksum *bool   `json:"strict_checksum,omitempty" yaml:"strict_checksum,omitempty"`

	// Consumers
	Listen     *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	DBPath     *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`

	LogFile *monitoring.LogFileOptions `json:"log_file,omitempty" yaml:"log_file,omitempty"`
}

func ptrString(v string) *string { return &v }

// LoadConfig loads a Config from a .json, .yaml or .yml file and validates
// it.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// an empty YAML document decodes to io.EOF
		if err := dec.Decode(cfg); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.Source != nil {
		if _, err := source.ParseKind(*c.Source); err != nil {
			return err
		}
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"read_timeout", c.ReadTimeout},
		{"retry_backoff", c.RetryBackoff},
		{"stats_interval", c.StatsInterval},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, v)
		}
	}

	if c.PCAPPort != nil && (*c.PCAPPort < 0 || *c.PCAPPort > 65535) {
		return fmt.Errorf("pcap_port must be between 0 and 65535, got %d", *c.PCAPPort)
	}

	switch c.GetSourceKind() {
	case source.KindReplay:
		if c.GetReplayPath() == "" {
			return fmt.Errorf("source replay requires replay_path")
		}
	case source.KindPCAP:
		if c.GetPCAPPath() == "" {
			return fmt.Errorf("source pcap requires pcap_path")
		}
	}
	return nil
}

// GetSourceKind returns the configured source kind, defaulting to serial.
func (c *Config) GetSourceKind() source.Kind {
	if c.Source == nil {
		return source.KindSerial
	}
	k, err := source.ParseKind(*c.Source)
	if err != nil {
		return source.KindSerial
	}
	return k
}

// GetPort returns the serial device path or the platform default.
func (c *Config) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return serialport.DefaultPortPath()
	}
	return *c.Port
}

// GetSerial returns the serial options with defaults applied.
func (c *Config) GetSerial() serialport.PortOptions {
	if c.Serial == nil {
		return serialport.DefaultPortOptions()
	}
	opts, err := c.Serial.Normalize()
	if err != nil {
		return serialport.DefaultPortOptions()
	}
	return opts
}

// GetReadTimeout returns the serial read timeout. Zero means reads block
// until data arrives.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 0)
}

// GetReplayPath returns the replay file path.
func (c *Config) GetReplayPath() string {
	if c.ReplayPath == nil {
		return ""
	}
	return *c.ReplayPath
}

// GetReplayLoop reports whether replay restarts at EOF.
func (c *Config) GetReplayLoop() bool {
	if c.ReplayLoop == nil {
		return false
	}
	return *c.ReplayLoop
}

// GetPCAPPath returns the capture file path.
func (c *Config) GetPCAPPath() string {
	if c.PCAPPath == nil {
		return ""
	}
	return *c.PCAPPath
}

// GetPCAPPort returns the UDP destination port to extract, 0 for all.
func (c *Config) GetPCAPPort() int {
	if c.PCAPPort == nil {
		return DefaultPCAPPort
	}
	return *c.PCAPPort
}

// GetRecordPath returns where the raw stream is captured; empty disables
// recording.
func (c *Config) GetRecordPath() string {
	if c.RecordPath == nil {
		return ""
	}
	return *c.RecordPath
}

// GetRetryBackoff returns the pause between a failed scan and the next
// attempt.
func (c *Config) GetRetryBackoff() time.Duration {
	return parseDuration(c.RetryBackoff, DefaultRetryBackoff)
}

// GetStatsInterval returns how often throughput is logged.
func (c *Config) GetStatsInterval() time.Duration {
	return parseDuration(c.StatsInterval, DefaultStatsInterval)
}

// GetStrictChecksum reports whether CRC mismatches are logged.
func (c *Config) GetStrictChecksum() bool {
	if c.StrictChecksum == nil {
		return false
	}
	return *c.StrictChecksum
}

// GetListen returns the HTTP listen address; empty disables the server.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return DefaultListen
	}
	return *c.Listen
}

// GetGRPCListen returns the gRPC listen address; empty disables streaming.
func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return DefaultGRPCListen
	}
	return *c.GRPCListen
}

// GetDBPath returns the SQLite path; empty disables storage.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetLogFile returns the rotating log settings; a zero Path leaves logging
// on stderr only.
func (c *Config) GetLogFile() monitoring.LogFileOptions {
	if c.LogFile == nil {
		return monitoring.LogFileOptions{}
	}
	return *c.LogFile
}

// SourceOptions builds the options for source.Open.
func (c *Config) SourceOptions() source.Options {
	return source.Options{
		Kind:        c.GetSourceKind(),
		PortPath:    c.GetPort(),
		Port:        c.GetSerial(),
		ReadTimeout: c.GetReadTimeout(),
		ReplayPath:  c.GetReplayPath(),
		ReplayLoop:  c.GetReplayLoop(),
		PCAPPath:    c.GetPCAPPath(),
		UDPPort:     c.GetPCAPPort(),
		Synthetic: source.SyntheticConfig{
			// one revolution per 100 ms
			PacketInterval: 100 * time.Millisecond / l2frames.PacketsPerScan,
		},
	}
}

// PipelineConfig builds the runner configuration.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		RetryBackoff:   c.GetRetryBackoff(),
		StatsInterval:  c.GetStatsInterval(),
		StrictChecksum: c.GetStrictChecksum(),
	}
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
