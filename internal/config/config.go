package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/estutasa/JackTheGripper/internal/hwi"
	"github.com/estutasa/JackTheGripper/internal/link"
)

// DefaultConfigPath is the path to the interface configuration file.
const DefaultConfigPath = "config/eskin.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// LinkConfig is the JSON form of one UDP channel.
type LinkConfig struct {
	PCEndpoint      *string `json:"pc_ip_ep,omitempty" yaml:"pc_ip_ep,omitempty"`
	WIEndpoint      *string `json:"wi_ip_ep,omitempty" yaml:"wi_ip_ep,omitempty"`
	ReadTimeoutMs   *int    `json:"read_timeout_ms,omitempty" yaml:"read_timeout_ms,omitempty"`
	WriteDelayMs    *int    `json:"write_delay_ms,omitempty" yaml:"write_delay_ms,omitempty"`
	ReadBufferBytes *int    `json:"read_buffer_bytes,omitempty" yaml:"read_buffer_bytes,omitempty"`
}

// Config is the root configuration. Fields omitted from the JSON file keep
// the interface box defaults.
type Config struct {
	Name              *string     `json:"name,omitempty" yaml:"name,omitempty"`
	Type              *string     `json:"type,omitempty" yaml:"type,omitempty"`
	CtrlLink          *LinkConfig `json:"ctrl_link,omitempty" yaml:"ctrl_link,omitempty"`
	DataLink          *LinkConfig `json:"data_link,omitempty" yaml:"data_link,omitempty"`
	DisconnectDelayMs *int        `json:"disconnect_delay_ms,omitempty" yaml:"disconnect_delay_ms,omitempty"`
	StatsInterval     *string     `json:"stats_interval,omitempty" yaml:"stats_interval,omitempty"` // duration string like "60s"
	Debug             *bool       `json:"debug,omitempty" yaml:"debug,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// DefaultConfig returns a Config with every field set to the interface box
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Name: ptrString("Default"),
		Type: ptrString("WI2500"),
		CtrlLink: &LinkConfig{
			PCEndpoint:    ptrString("0.0.0.0:17001"),
			WIEndpoint:    ptrString("192.168.4.1:17000"),
			ReadTimeoutMs: ptrInt(200),
		},
		DataLink: &LinkConfig{
			PCEndpoint:    ptrString("0.0.0.0:17011"),
			WIEndpoint:    ptrString("192.168.4.1:17010"),
			ReadTimeoutMs: ptrInt(200),
			WriteDelayMs:  ptrInt(10),
		},
		DisconnectDelayMs: ptrInt(100),
		StatsInterval:     ptrString("60s"),
		Debug:             ptrBool(false),
	}
}

// unmarshalers maps the accepted file extensions to their decoders.
var unmarshalers = map[string]func([]byte, any) error{
	".json": json.Unmarshal,
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
}

// Load reads a Config from a JSON or YAML file. The file must have a .json,
// .yaml or .yml extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	unmarshal, ok := unmarshalers[ext]
	if !ok {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes c as indented JSON, or as YAML when path ends in .yaml or
// .yml.
func (c *Config) Save(path string) error {
	var data []byte
	var err error
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		data = bytes.TrimSuffix(data, []byte("\n"))
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// parseEndpoint accepts "a.b.c.d:port".
func parseEndpoint(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if !ap.Addr().Is4() {
		return netip.AddrPort{}, fmt.Errorf("%q is not an IPv4 endpoint", s)
	}
	return ap, nil
}

func (l *LinkConfig) validate(name string) error {
	if l == nil {
		return nil
	}
	for key, ep := range map[string]*string{"pc_ip_ep": l.PCEndpoint, "wi_ip_ep": l.WIEndpoint} {
		if ep == nil {
			continue
		}
		if _, err := parseEndpoint(*ep); err != nil {
			return fmt.Errorf("%s.%s: %w", name, key, err)
		}
	}
	if l.ReadTimeoutMs != nil && *l.ReadTimeoutMs <= 0 {
		return fmt.Errorf("%s.read_timeout_ms must be positive, got %d", name, *l.ReadTimeoutMs)
	}
	if l.WriteDelayMs != nil && *l.WriteDelayMs < 0 {
		return fmt.Errorf("%s.write_delay_ms must be non-negative, got %d", name, *l.WriteDelayMs)
	}
	if l.ReadBufferBytes != nil && *l.ReadBufferBytes < 0 {
		return fmt.Errorf("%s.read_buffer_bytes must be non-negative, got %d", name, *l.ReadBufferBytes)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if err := c.CtrlLink.validate("ctrl_link"); err != nil {
		return err
	}
	if err := c.DataLink.validate("data_link"); err != nil {
		return err
	}
	if c.DisconnectDelayMs != nil && *c.DisconnectDelayMs < 0 {
		return fmt.Errorf("disconnect_delay_ms must be non-negative, got %d", *c.DisconnectDelayMs)
	}
	if c.StatsInterval != nil && *c.StatsInterval != "" {
		if _, err := time.ParseDuration(*c.StatsInterval); err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
	}
	return nil
}

// apply overlays the set fields of l on base.
func (l *LinkConfig) apply(base link.Config) link.Config {
	if l == nil {
		return base
	}
	if l.PCEndpoint != nil {
		base.Local = *l.PCEndpoint
	}
	if l.WIEndpoint != nil {
		base.Remote = *l.WIEndpoint
	}
	if l.ReadTimeoutMs != nil {
		base.ReadTimeout = time.Duration(*l.ReadTimeoutMs) * time.Millisecond
	}
	if l.WriteDelayMs != nil {
		base.WriteDelay = time.Duration(*l.WriteDelayMs) * time.Millisecond
	}
	if l.ReadBufferBytes != nil {
		base.ReadBuffer = *l.ReadBufferBytes
	}
	return base
}

// GetCtrlLink returns the control channel configuration.
func (c *Config) GetCtrlLink() link.Config {
	return c.CtrlLink.apply(link.ControlConfig())
}

// GetDataLink returns the data channel configuration.
func (c *Config) GetDataLink() link.Config {
	return c.DataLink.apply(link.DataConfig())
}

// GetName returns the interface name or the default.
func (c *Config) GetName() string {
	if c.Name == nil || *c.Name == "" {
		return "Default"
	}
	return *c.Name
}

// GetDisconnectDelay returns the delay between STOP and UNLOCK.
func (c *Config) GetDisconnectDelay() time.Duration {
	if c.DisconnectDelayMs == nil {
		return hwi.DefaultDisconnectDelay
	}
	return time.Duration(*c.DisconnectDelayMs) * time.Millisecond
}

// GetStatsInterval parses and returns the StatsInterval as a time.Duration.
func (c *Config) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetDebug returns the debug value or the default.
func (c *Config) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}

// HWI converts the configuration into an interface configuration.
func (c *Config) HWI() hwi.Config {
	return hwi.Config{
		Name:            c.GetName(),
		Ctrl:            c.GetCtrlLink(),
		Data:            c.GetDataLink(),
		DisconnectDelay: c.GetDisconnectDelay(),
	}
}
