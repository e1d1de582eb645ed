package config

import (
	"flag"
	"log/slog"
	"net/url"
	"time"
)

// TLSConfig holds TLS configuration options
type TLSConfig struct {
	Enabled      bool
	CertFile     string
	KeyFile      string
	GenerateCert bool
	Hosts        []string
}

// CORSConfig holds CORS configuration options
type CORSConfig struct {
	Enabled          bool
	AllowOrigins     string
	AllowMethods     string
	AllowHeaders     string
	AllowCredentials bool
	MaxAge           int
}

// StoreConfig selects the persistence driver.
type StoreConfig struct {
	Driver         string
	Path           string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	PostgresDSN    string
	PostgresTable  string
}

// PatchConfig tunes the conflict retry loop.
type PatchConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ReturnInverse  bool
}

// LogConfig holds logging options
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the application configuration
type Config struct {
	RootDir       string
	Watch         bool
	Port          int
	ProxyURL      *url.URL
	InsecureProxy bool
	TLS           TLSConfig
	CORS          CORSConfig
	Store         StoreConfig
	Patch         PatchConfig
	Log           LogConfig
}

// ParseFlags parses command line flags and merges with config file
func ParseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("docpatch", flag.ContinueOnError)

	configFlag := fs.String("config", "config.yml", "Path to configuration file")
	generateConfigFlag := fs.Bool("generate-config", false, "Generate a default configuration file")
	configFilePathFlag := fs.String("config-path", "config.yml", "Path where config file should be generated")

	// Simple flags for overriding config file
	dirFlag := fs.String("d", "", "Directory of .json documents to import (overrides config)")
	portFlag := fs.Int("p", 0, "Port to listen on (overrides config)")
	storeFlag := fs.String("store", "", "Store driver: memory, badger, bolt, redis or postgres (overrides config)")
	storePathFlag := fs.String("store-path", "", "Database path for badger or bolt (overrides config)")
	logLevelFlag := fs.String("log-level", "", "Log level (overrides config)")
	logFormatFlag := fs.String("log-format", "", "Log format: text, json or auto (overrides config)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Handle config file generation
	if *generateConfigFlag {
		slog.Info("generating default configuration file", "path", *configFilePathFlag)
		if err := SaveDefaultConfig(*configFilePathFlag); err != nil {
			return nil, err
		}
	}

	// Load configuration from file
	config, err := LoadConfig(*configFlag)
	if err != nil {
		slog.Warn("could not load config file, using defaults", "err", err)
		config, _ = LoadConfig("")
	}

	// Override with command line flags if provided
	if *dirFlag != "" {
		config.RootDir = *dirFlag
	}
	if *portFlag != 0 {
		config.Port = *portFlag
	}
	if *storeFlag != "" {
		config.Store.Driver = *storeFlag
	}
	if *storePathFlag != "" {
		config.Store.Path = *storePathFlag
	}
	if *logLevelFlag != "" {
		config.Log.Level = *logLevelFlag
	}
	if *logFormatFlag != "" {
		config.Log.Format = *logFormatFlag
	}

	return config, nil
}
