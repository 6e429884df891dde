package config

const (
	defaultLogFile           = "libshelf.log"
	defaultLogLevel          = "info"
	defaultLogFileMaxSize    = 20
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 28
	defaultLogCompress       = false
	defaultDBDriver          = "sqlite"
	defaultDSN               = "libshelf.db"
	defaultDBMaxOpenConns    = 25
	defaultDBMaxIdleConns    = 2
	defaultHost              = "0.0.0.0"
	defaultPort              = 8082
	defaultRateLimit         = 20.0
	defaultRateLimitBurst    = 40
	defaultServiceName       = "libshelf-circulation"
	defaultShutdownTimeout   = 15
)

// Options holds every runtime setting. Viper decodes with mapstructure, so the
// field tags must be mapstructure tags rather than json ones.
type Options struct {
	// LogFile is the file to write logs to
	LogFile string `mapstructure:"log_file"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// LogFileMaxSize is the size in megabytes before the log file is rotated
	LogFileMaxSize    int  `mapstructure:"log_file_max_size"`
	LogFileMaxBackups int  `mapstructure:"log_file_max_backups"`
	LogFileMaxAge     int  `mapstructure:"log_file_max_age"`
	LogCompress       bool `mapstructure:"log_compress"`

	// DBDriver selects the store: postgres (lib/pq), pgx (pgx stdlib) or sqlite (modernc)
	DBDriver       string `mapstructure:"db_driver"`
	DSN            string `mapstructure:"dsn"`
	DBMaxOpenConns int    `mapstructure:"db_max_open_conns"`
	DBMaxIdleConns int    `mapstructure:"db_max_idle_conns"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// RateLimitPerSecond throttles mutating API calls; zero disables the limiter
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`

	// OTLPEndpoint is host:port of an OTLP/HTTP collector; tracing export is off when empty
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`

	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// Defaults returns the built-in configuration.
func Defaults() *Options {
	return &Options{
		LogFile:                defaultLogFile,
		LogLevel:               defaultLogLevel,
		LogFileMaxSize:         defaultLogFileMaxSize,
		LogFileMaxBackups:      defaultLogFileMaxBackups,
		LogFileMaxAge:          defaultLogFileMaxAge,
		LogCompress:            defaultLogCompress,
		DBDriver:               defaultDBDriver,
		DSN:                    defaultDSN,
		DBMaxOpenConns:         defaultDBMaxOpenConns,
		DBMaxIdleConns:         defaultDBMaxIdleConns,
		Host:                   defaultHost,
		Port:                   defaultPort,
		RateLimitPerSecond:     defaultRateLimit,
		RateLimitBurst:         defaultRateLimitBurst,
		ServiceName:            defaultServiceName,
		ShutdownTimeoutSeconds: defaultShutdownTimeout,
	}
}
