// Package config loads recorder settings through viper. Every key is optional;
// defaults follow the deployment the recorder was built for (a single PBX
// segment mirrored to one capture interface).
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/constants"
)

// Config holds all recorder parameters
type Config struct {
	// Capture
	Interface      string
	ReadFile       string
	BPFFilter      string
	Promiscuous    bool
	PcapBufferSize int
	PcapTimeout    time.Duration
	CaptureDir     string
	RotationBytes  int64
	RotationAge    time.Duration

	// Classification
	LocalIPPrefixes []string
	SIPPorts        []uint16

	// Streams
	StreamDir      string
	SampleRate     int
	BufferWindow   time.Duration
	StreamIdle     time.Duration
	NoMediaTimeout time.Duration
	RingTimeout    time.Duration

	// Finalize
	SavePath        string
	SliceDir        string
	Stabilization   time.Duration
	FinalizeWorkers int
	ShutdownTimeout time.Duration
	ToolTimeout     time.Duration
	CatalogTimeout  time.Duration
	Slicer          string
	TsharkPath      string
	MixerPath       string

	Catalog  CatalogConfig
	Notifier NotifierConfig
	Log      LogConfig

	StatsInterval time.Duration
}

// CatalogConfig selects the artifact record sink
type CatalogConfig struct {
	File    string
	Journal string
	Kafka   KafkaConfig
}

// NotifierConfig selects the extension notifier backend
type NotifierConfig struct {
	Kafka KafkaConfig
}

// KafkaConfig is shared by the catalog and notifier Kafka backends
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether both brokers and topic are configured
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// LogConfig mirrors logger.Options
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// SetDefaults registers the default for every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("interface", "any")
	v.SetDefault("read_file", "")
	v.SetDefault("bpf_filter", "udp")
	v.SetDefault("promiscuous", true)
	v.SetDefault("pcap_buffer_size", constants.DefaultPCAPBufferSize)
	v.SetDefault("pcap_timeout_ms", 200)
	v.SetDefault("capture_dir", "temp_captures")
	v.SetDefault("rotation_bytes", int64(constants.DefaultRotationBytes))
	v.SetDefault("rotation_seconds", int(constants.DefaultRotationAge/time.Second))

	v.SetDefault("local_ip_prefixes", "192.168.")
	v.SetDefault("sip_ports", strconv.Itoa(constants.SIPPort))

	v.SetDefault("stream_dir", filepath.Join("temp_recordings", "streams"))
	v.SetDefault("sample_rate", 8000)
	v.SetDefault("buffer_window_ms", 500)
	v.SetDefault("stream_idle_seconds", 5)
	v.SetDefault("no_media_timeout_seconds", 60)
	v.SetDefault("ring_timeout_seconds", 120)

	v.SetDefault("save_path", "./PacketWaveRecord")
	v.SetDefault("slice_dir", "temp_recordings")
	v.SetDefault("stabilization_ms", 1000)
	v.SetDefault("finalize_workers", 4)
	v.SetDefault("shutdown_timeout_seconds", int(constants.GracefulShutdownTimeout/time.Second))
	v.SetDefault("tool_timeout_seconds", 60)
	v.SetDefault("catalog_timeout_seconds", 3)
	v.SetDefault("slicer", "native")
	v.SetDefault("tshark_path", "tshark")
	v.SetDefault("mixer_path", "ffmpeg")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("stats_interval_seconds", 60)
}

// Load reads every key from v (defaults applied) and validates the result
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	ports, err := parsePorts(stringList(v.Get("sip_ports")))
	if err != nil {
		return nil, err
	}

	savePath := v.GetString("save_path")
	cfg := &Config{
		Interface:      v.GetString("interface"),
		ReadFile:       v.GetString("read_file"),
		BPFFilter:      v.GetString("bpf_filter"),
		Promiscuous:    v.GetBool("promiscuous"),
		PcapBufferSize: v.GetInt("pcap_buffer_size"),
		PcapTimeout:    time.Duration(v.GetInt("pcap_timeout_ms")) * time.Millisecond,
		CaptureDir:     v.GetString("capture_dir"),
		RotationBytes:  v.GetInt64("rotation_bytes"),
		RotationAge:    seconds(v, "rotation_seconds"),

		LocalIPPrefixes: stringList(v.Get("local_ip_prefixes")),
		SIPPorts:        ports,

		StreamDir:      v.GetString("stream_dir"),
		SampleRate:     v.GetInt("sample_rate"),
		BufferWindow:   time.Duration(v.GetInt("buffer_window_ms")) * time.Millisecond,
		StreamIdle:     seconds(v, "stream_idle_seconds"),
		NoMediaTimeout: seconds(v, "no_media_timeout_seconds"),
		RingTimeout:    seconds(v, "ring_timeout_seconds"),

		SavePath:        savePath,
		SliceDir:        v.GetString("slice_dir"),
		Stabilization:   time.Duration(v.GetInt("stabilization_ms")) * time.Millisecond,
		FinalizeWorkers: v.GetInt("finalize_workers"),
		ShutdownTimeout: seconds(v, "shutdown_timeout_seconds"),
		ToolTimeout:     seconds(v, "tool_timeout_seconds"),
		CatalogTimeout:  seconds(v, "catalog_timeout_seconds"),
		Slicer:          strings.ToLower(v.GetString("slicer")),
		TsharkPath:      v.GetString("tshark_path"),
		MixerPath:       v.GetString("mixer_path"),

		Catalog: CatalogConfig{
			File:    v.GetString("catalog.file"),
			Journal: v.GetString("catalog.journal"),
			Kafka: KafkaConfig{
				Brokers: stringList(v.Get("catalog.kafka.brokers")),
				Topic:   v.GetString("catalog.kafka.topic"),
			},
		},
		Notifier: NotifierConfig{
			Kafka: KafkaConfig{
				Brokers: stringList(v.Get("notifier.kafka.brokers")),
				Topic:   v.GetString("notifier.kafka.topic"),
			},
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
			Compress:   v.GetBool("log.compress"),
		},

		StatsInterval: seconds(v, "stats_interval_seconds"),
	}

	if cfg.Catalog.File == "" {
		cfg.Catalog.File = filepath.Join(savePath, "catalog.jsonl")
	}
	if cfg.Catalog.Journal == "" {
		cfg.Catalog.Journal = filepath.Join(savePath, "catalog-pending.jsonl")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the recorder cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Interface == "" && c.ReadFile == "" {
		errs = append(errs, errors.New("interface or read_file must be set"))
	}
	if len(c.LocalIPPrefixes) == 0 {
		errs = append(errs, errors.New("local_ip_prefixes must not be empty"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.FinalizeWorkers < 1 {
		errs = append(errs, fmt.Errorf("finalize_workers must be at least 1, got %d", c.FinalizeWorkers))
	}
	if c.RotationBytes <= 0 {
		errs = append(errs, fmt.Errorf("rotation_bytes must be positive, got %d", c.RotationBytes))
	}
	for name, d := range map[string]time.Duration{
		"rotation_seconds":         c.RotationAge,
		"stream_idle_seconds":      c.StreamIdle,
		"no_media_timeout_seconds": c.NoMediaTimeout,
		"ring_timeout_seconds":     c.RingTimeout,
		"tool_timeout_seconds":     c.ToolTimeout,
		"catalog_timeout_seconds":  c.CatalogTimeout,
		"shutdown_timeout_seconds": c.ShutdownTimeout,
		"buffer_window_ms":         c.BufferWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Stabilization < 0 {
		errs = append(errs, errors.New("stabilization_ms must not be negative"))
	}
	if c.Slicer != "native" && c.Slicer != "tshark" {
		errs = append(errs, fmt.Errorf("slicer must be native or tshark, got %q", c.Slicer))
	}
	return errors.Join(errs...)
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}

// stringList accepts either a comma-separated string or a YAML list.
func stringList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
	default:
		parts = strings.Split(fmt.Sprint(val), ",")
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePorts(items []string) ([]uint16, error) {
	ports := make([]uint16, 0, len(items))
	for _, item := range items {
		n, err := strconv.ParseUint(item, 10, 16)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid sip port %q", item)
		}
		ports = append(ports, uint16(n))
	}
	if len(ports) == 0 {
		ports = append(ports, constants.SIPPort)
	}
	return ports, nil
}
