package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "LIBSHELF"

// Load builds Options from defaults, an optional config file and LIBSHELF_* environment variables,
// in increasing order of precedence.
func Load(file string) (*Options, error) {
	v := viper.New()
	bindDefaults(v, Defaults())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		if _, err := os.Stat(file); err != nil {
			return nil, errors.Wrapf(err, "unable to access config file %s", file)
		}
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "unable to read config file %s", file)
		}
	}

	opts := &Options{}
	if err := v.Unmarshal(opts); err != nil {
		return nil, errors.Wrap(err, "unable to decode configuration")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// bindDefaults registers every key with viper; AutomaticEnv only resolves keys viper already knows.
func bindDefaults(v *viper.Viper, d *Options) {
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file_max_size", d.LogFileMaxSize)
	v.SetDefault("log_file_max_backups", d.LogFileMaxBackups)
	v.SetDefault("log_file_max_age", d.LogFileMaxAge)
	v.SetDefault("log_compress", d.LogCompress)
	v.SetDefault("db_driver", d.DBDriver)
	v.SetDefault("dsn", d.DSN)
	v.SetDefault("db_max_open_conns", d.DBMaxOpenConns)
	v.SetDefault("db_max_idle_conns", d.DBMaxIdleConns)
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("rate_limit_per_second", d.RateLimitPerSecond)
	v.SetDefault("rate_limit_burst", d.RateLimitBurst)
	v.SetDefault("otlp_endpoint", d.OTLPEndpoint)
	v.SetDefault("service_name", d.ServiceName)
	v.SetDefault("shutdown_timeout_seconds", d.ShutdownTimeoutSeconds)
}

// Validate rejects settings the server cannot start with.
func (o *Options) Validate() error {
	switch o.DBDriver {
	case "postgres", "pgx", "sqlite":
	default:
		return errors.Errorf("unsupported db_driver %q", o.DBDriver)
	}
	if o.DSN == "" {
		return errors.New("dsn is required")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return errors.Errorf("port %d out of range", o.Port)
	}
	if o.RateLimitPerSecond < 0 {
		return errors.New("rate_limit_per_second must not be negative")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (o *Options) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}
