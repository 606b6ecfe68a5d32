package ferry

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// Duration is a time.Duration that decodes from strings like "250ms" in
// every supported codec.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the tunables of a ferry deployment.
type Config struct {
	Feed FeedConfig `json:"feed" yaml:"feed" toml:"feed"`
	Init InitConfig `json:"init" yaml:"init" toml:"init"`
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	// Format selects the document codec. Empty means JSON.
	Format           string   `json:"format" yaml:"format" toml:"format" validate:"omitempty,oneof=json yaml toml"`
	Debounce         Duration `json:"debounce" yaml:"debounce" toml:"debounce" validate:"gte=0"`
	StartupTimeout   Duration `json:"startup_timeout" yaml:"startup_timeout" toml:"startup_timeout" validate:"gte=0"`
	ErrorHistorySize int      `json:"error_history_size" yaml:"error_history_size" toml:"error_history_size" validate:"gte=0,lte=1024"`
}

// InitConfig configures an InitializerRegistry.
type InitConfig struct {
	SkipContextRestore bool `json:"skip_context_restore" yaml:"skip_context_restore" toml:"skip_context_restore"`
	SkipConfigRestore  bool `json:"skip_config_restore" yaml:"skip_config_restore" toml:"skip_config_restore"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Feed: FeedConfig{
			Format:   "json",
			Debounce: Duration(DefaultDebounce),
		},
	}
}

// Codec returns the codec named by Format.
func (c FeedConfig) Codec() Codec {
	switch c.Format {
	case "yaml":
		return YAMLCodec{}
	case "toml":
		return TOMLCodec{}
	default:
		return JSONCodec{}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of c.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseConfig decodes data over DefaultConfig and validates the result.
func ParseConfig(data []byte, codec Codec) (Config, error) {
	cfg := DefaultConfig()
	if err := codec.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a configuration file, choosing the codec from its
// extension.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data, CodecForPath(path))
}
