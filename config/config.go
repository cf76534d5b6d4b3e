// Package config resolves the mirror's settings from flags, environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BackendNATS  = "nats"
	BackendS3    = "s3"
	BackendMinio = "minio"

	EnvPrefix = "BUCKETMIRROR"
)

// ErrConfiguration is returned for settings that prevent the mirror from
// starting at all.
var ErrConfiguration = errors.New("configuration error")

var defaults = map[string]any{
	"backend":       BackendNATS,
	"host":          "localhost:4222",
	"token":         "",
	"bucket":        "",
	"mount":         "",
	"once":          false,
	"dry_run":       false,
	"prefix":        "",
	"region":        "",
	"endpoint":      "",
	"access_key":    "",
	"secret_key":    "",
	"insecure":      false,
	"poll_interval": 30 * time.Second,
	"log_level":     "info",
}

// flagKeys maps flag names to config keys where they differ.
var flagKeys = map[string]string{
	"access-key":    "access_key",
	"secret-key":    "secret_key",
	"poll-interval": "poll_interval",
	"log-level":     "log_level",
	"dry-run":       "dry_run",
}

type Config struct {
	Backend      string        `mapstructure:"backend"`
	Host         string        `mapstructure:"host"`
	Token        string        `mapstructure:"token"`
	Bucket       string        `mapstructure:"bucket"`
	Mount        string        `mapstructure:"mount"`
	Once         bool          `mapstructure:"once"`
	DryRun       bool          `mapstructure:"dry_run"`
	Prefix       string        `mapstructure:"prefix"`
	Region       string        `mapstructure:"region"`
	Endpoint     string        `mapstructure:"endpoint"`
	AccessKey    string        `mapstructure:"access_key"`
	SecretKey    string        `mapstructure:"secret_key"`
	Insecure     bool          `mapstructure:"insecure"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LogLevel     string        `mapstructure:"log_level"`
}

// RegisterFlags defines the command-line flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.SortFlags = false
	fs.StringP("host", "u", "localhost:4222", `NATS broker host`)
	fs.StringP("token", "t", "", "NATS broker token")
	fs.StringP("bucket", "b", "", "object bucket name")
	fs.StringP("mount", "m", "", "folder to sync objects to")
	fs.BoolP("once", "1", false, "only run sync once, don't listen for updates")
	fs.Bool("dry-run", false, "log what would change without touching the mount")
	fs.String("backend", BackendNATS, "object store backend: nats, s3 or minio")
	fs.String("prefix", "", "key prefix within the bucket (s3, minio)")
	fs.String("region", "", "bucket region (s3, minio)")
	fs.String("endpoint", "", "custom S3 endpoint, required for minio")
	fs.String("access-key", "", "static access key (s3, minio)")
	fs.String("secret-key", "", "static secret key (s3, minio)")
	fs.Bool("insecure", false, "use plain HTTP (minio)")
	fs.Duration("poll-interval", 30*time.Second, "listing poll interval (s3)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
}

// BindFlags makes every flag registered by RegisterFlags override the
// matching key in v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			key = f.Name
		}
		if _, known := defaults[key]; !known {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil && err == nil {
			err = bindErr
		}
	})
	return err
}

// Load reads path (if given) into v, layers BUCKETMIRROR_* environment
// variables on top and returns the validated result.
func Load(v *viper.Viper, path string) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: config read '%s': %w", ErrConfiguration, path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Bucket == "" || c.Mount == "" {
		return fmt.Errorf("%w: the following arguments are required: -b/--bucket, -m/--mount", ErrConfiguration)
	}

	switch c.Backend {
	case BackendNATS:
		if c.Host == "" {
			return fmt.Errorf("%w: nats backend needs a host", ErrConfiguration)
		}
	case BackendS3:
		if c.PollInterval <= 0 {
			return fmt.Errorf("%w: poll interval must be positive", ErrConfiguration)
		}
	case BackendMinio:
		if c.Endpoint == "" {
			return fmt.Errorf("%w: minio backend needs an endpoint", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrConfiguration, c.Backend)
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("%w: log level %q: %w", ErrConfiguration, c.LogLevel, err)
	}
	return level, nil
}
