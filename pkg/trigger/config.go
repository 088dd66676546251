// Configuration loading and validation for gateway tracing
// Reads an optional YAML file and LAMBDATRACE_* environment variables via viper
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override configuration keys,
// e.g. LAMBDATRACE_HTTP_IGNORE_METHOD.
const EnvPrefix = "LAMBDATRACE"

const (
	ProtocolHTTP = "http/protobuf"
	ProtocolGRPC = "grpc"
)

// Config is the tracing configuration.
type Config struct {
	ServiceName      string         `mapstructure:"service_name"`
	HTTPIgnoreMethod []string       `mapstructure:"http_ignore_method"`
	SlowThreshold    time.Duration  `mapstructure:"slow_threshold"`
	Exporter         ExporterConfig `mapstructure:"exporter"`
}

// ExporterConfig selects where finished spans are sent.
type ExporterConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Protocol string `mapstructure:"protocol"`
	Stdout   bool   `mapstructure:"stdout"`
}

// LoadConfig reads configuration from path, if non-empty, with environment
// overrides applied on top.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("service_name", "")
	v.SetDefault("http_ignore_method", []string{})
	v.SetDefault("slow_threshold", time.Second)
	v.SetDefault("exporter.endpoint", "")
	v.SetDefault("exporter.protocol", ProtocolHTTP)
	v.SetDefault("exporter.stdout", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.HTTPIgnoreMethod = normaliseMethods(cfg.HTTPIgnoreMethod)
	return &cfg, nil
}

// ValidateConfig checks a configuration for structural correctness.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	switch cfg.Exporter.Protocol {
	case ProtocolHTTP, ProtocolGRPC, "":
	default:
		return fmt.Errorf("unsupported exporter protocol %q, supported: %s, %s", cfg.Exporter.Protocol, ProtocolHTTP, ProtocolGRPC)
	}
	if cfg.SlowThreshold < 0 {
		return fmt.Errorf("slow_threshold must not be negative, got %s", cfg.SlowThreshold)
	}
	for _, m := range cfg.HTTPIgnoreMethod {
		if !isToken(m) {
			return fmt.Errorf("http_ignore_method: %q is not a valid HTTP method", m)
		}
	}
	return nil
}

// MethodFilter exempts a fixed set of HTTP methods, compared case-insensitively.
type MethodFilter struct {
	methods map[string]struct{}
}

// NewMethodFilter builds a filter from method names. Entries may themselves be
// comma-separated lists.
func NewMethodFilter(methods []string) *MethodFilter {
	f := &MethodFilter{methods: make(map[string]struct{})}
	for _, m := range normaliseMethods(methods) {
		f.methods[m] = struct{}{}
	}
	return f
}

// IsExempt reports whether requests using method are not traced.
func (f *MethodFilter) IsExempt(method string) bool {
	if f == nil {
		return false
	}
	_, ok := f.methods[strings.ToUpper(strings.TrimSpace(method))]
	return ok
}

// Methods returns the exempt methods in upper case.
func (f *MethodFilter) Methods() []string {
	if f == nil {
		return nil
	}
	out := make([]string, 0, len(f.methods))
	for m := range f.methods {
		out = append(out, m)
	}
	return out
}

// normaliseMethods splits comma-separated entries, trims, upper-cases and
// drops empties and duplicates, keeping first-seen order.
func normaliseMethods(methods []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(methods))
	for _, entry := range methods {
		for part := range strings.SplitSeq(entry, ",") {
			m := strings.ToUpper(strings.TrimSpace(part))
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// isToken reports whether s is a valid HTTP method token.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r <= ' ' || r >= 0x7f || strings.ContainsRune(`()<>@,;:\"/[]?={}`, r) {
			return false
		}
	}
	return true
}
