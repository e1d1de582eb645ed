package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the structure of the configuration file
type FileConfig struct {
	Server struct {
		Port    int    `yaml:"port"`
		RootDir string `yaml:"root_dir"`
		Watch   *bool  `yaml:"watch"`
	} `yaml:"server"`

	Proxy struct {
		URL            string `yaml:"url"`
		InsecureVerify bool   `yaml:"insecure_verify"`
	} `yaml:"proxy"`

	TLS struct {
		Enabled      bool     `yaml:"enabled"`
		CertFile     string   `yaml:"cert_file"`
		KeyFile      string   `yaml:"key_file"`
		GenerateCert bool     `yaml:"generate_cert"`
		Hosts        []string `yaml:"hosts,omitempty"`
	} `yaml:"tls"`

	CORS struct {
		Enabled          bool   `yaml:"enabled"`
		AllowOrigins     string `yaml:"allow_origins"`
		AllowMethods     string `yaml:"allow_methods"`
		AllowHeaders     string `yaml:"allow_headers"`
		AllowCredentials bool   `yaml:"allow_credentials"`
		MaxAge           int    `yaml:"max_age"`
	} `yaml:"cors"`

	Store struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		Redis  struct {
			Addr      string `yaml:"addr"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
		Postgres struct {
			DSN   string `yaml:"dsn"`
			Table string `yaml:"table"`
		} `yaml:"postgres"`
	} `yaml:"store"`

	Patch struct {
		MaxAttempts    int    `yaml:"max_attempts"`
		InitialBackoff string `yaml:"initial_backoff"`
		MaxBackoff     string `yaml:"max_backoff"`
		ReturnInverse  *bool  `yaml:"return_inverse"`
	} `yaml:"patch"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		RootDir:       "",
		Watch:         true,
		Port:          3000,
		InsecureProxy: false,
		TLS: TLSConfig{
			Enabled:      false,
			CertFile:     "cert/cert.pem",
			KeyFile:      "cert/key.pem",
			GenerateCert: false,
			Hosts:        []string{"localhost", "127.0.0.1"},
		},
		CORS: CORSConfig{
			Enabled:          false,
			AllowOrigins:     "*",
			AllowMethods:     "GET, POST, PUT, OPTIONS, PATCH",
			AllowHeaders:     "Content-Type, Accept, Authorization, Subscribe, Version, Parents, If-Match",
			AllowCredentials: false,
			MaxAge:           86400,
		},
		Store: StoreConfig{
			Driver:         "memory",
			RedisAddr:      "localhost:6379",
			RedisKeyPrefix: "docpatch:doc:",
			PostgresTable:  "documents",
		},
		Patch: PatchConfig{
			MaxAttempts:    5,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     250 * time.Millisecond,
			ReturnInverse:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filePath string) (*Config, error) {
	config := Default()

	// If no config file specified, return default config
	if filePath == "" {
		return config, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := fileConfig.apply(config); err != nil {
		return nil, err
	}
	return config, nil
}

// apply overlays the values set in the file onto config.
func (fc *FileConfig) apply(config *Config) error {
	if fc.Server.Port != 0 {
		config.Port = fc.Server.Port
	}
	if fc.Server.RootDir != "" {
		config.RootDir = fc.Server.RootDir
	}
	if fc.Server.Watch != nil {
		config.Watch = *fc.Server.Watch
	}

	// Proxy settings
	if fc.Proxy.URL != "" {
		proxyURL, err := url.Parse(fc.Proxy.URL)
		if err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
		config.ProxyURL = proxyURL
		config.InsecureProxy = fc.Proxy.InsecureVerify
	}

	// TLS settings
	config.TLS.Enabled = fc.TLS.Enabled
	if fc.TLS.CertFile != "" {
		config.TLS.CertFile = fc.TLS.CertFile
	}
	if fc.TLS.KeyFile != "" {
		config.TLS.KeyFile = fc.TLS.KeyFile
	}
	config.TLS.GenerateCert = fc.TLS.GenerateCert
	if len(fc.TLS.Hosts) > 0 {
		config.TLS.Hosts = fc.TLS.Hosts
	}

	// CORS settings
	config.CORS.Enabled = fc.CORS.Enabled
	if fc.CORS.AllowOrigins != "" {
		config.CORS.AllowOrigins = fc.CORS.AllowOrigins
	}
	if fc.CORS.AllowMethods != "" {
		config.CORS.AllowMethods = fc.CORS.AllowMethods
	}
	if fc.CORS.AllowHeaders != "" {
		config.CORS.AllowHeaders = fc.CORS.AllowHeaders
	}
	config.CORS.AllowCredentials = fc.CORS.AllowCredentials
	if fc.CORS.MaxAge != 0 {
		config.CORS.MaxAge = fc.CORS.MaxAge
	}

	// Store settings
	if fc.Store.Driver != "" {
		config.Store.Driver = fc.Store.Driver
	}
	if fc.Store.Path != "" {
		config.Store.Path = fc.Store.Path
	}
	if fc.Store.Redis.Addr != "" {
		config.Store.RedisAddr = fc.Store.Redis.Addr
	}
	config.Store.RedisPassword = fc.Store.Redis.Password
	config.Store.RedisDB = fc.Store.Redis.DB
	if fc.Store.Redis.KeyPrefix != "" {
		config.Store.RedisKeyPrefix = fc.Store.Redis.KeyPrefix
	}
	if fc.Store.Postgres.DSN != "" {
		config.Store.PostgresDSN = fc.Store.Postgres.DSN
	}
	if fc.Store.Postgres.Table != "" {
		config.Store.PostgresTable = fc.Store.Postgres.Table
	}

	// Patch settings
	if fc.Patch.MaxAttempts != 0 {
		config.Patch.MaxAttempts = fc.Patch.MaxAttempts
	}
	if err := parseDuration(fc.Patch.InitialBackoff, &config.Patch.InitialBackoff); err != nil {
		return fmt.Errorf("invalid patch.initial_backoff: %w", err)
	}
	if err := parseDuration(fc.Patch.MaxBackoff, &config.Patch.MaxBackoff); err != nil {
		return fmt.Errorf("invalid patch.max_backoff: %w", err)
	}
	if fc.Patch.ReturnInverse != nil {
		config.Patch.ReturnInverse = *fc.Patch.ReturnInverse
	}

	// Log settings
	if fc.Log.Level != "" {
		config.Log.Level = fc.Log.Level
	}
	if fc.Log.Format != "" {
		config.Log.Format = fc.Log.Format
	}
	return nil
}

func parseDuration(s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// SaveDefaultConfig saves a default configuration file
func SaveDefaultConfig(filePath string) error {
	def := Default()
	var fileConfig FileConfig

	fileConfig.Server.Port = def.Port
	fileConfig.Server.RootDir = def.RootDir
	fileConfig.Server.Watch = &def.Watch

	fileConfig.TLS.Enabled = def.TLS.Enabled
	fileConfig.TLS.CertFile = def.TLS.CertFile
	fileConfig.TLS.KeyFile = def.TLS.KeyFile
	fileConfig.TLS.GenerateCert = def.TLS.GenerateCert
	fileConfig.TLS.Hosts = def.TLS.Hosts

	fileConfig.CORS.Enabled = def.CORS.Enabled
	fileConfig.CORS.AllowOrigins = def.CORS.AllowOrigins
	fileConfig.CORS.AllowMethods = def.CORS.AllowMethods
	fileConfig.CORS.AllowHeaders = def.CORS.AllowHeaders
	fileConfig.CORS.AllowCredentials = def.CORS.AllowCredentials
	fileConfig.CORS.MaxAge = def.CORS.MaxAge

	fileConfig.Store.Driver = def.Store.Driver
	fileConfig.Store.Redis.Addr = def.Store.RedisAddr
	fileConfig.Store.Redis.KeyPrefix = def.Store.RedisKeyPrefix
	fileConfig.Store.Postgres.Table = def.Store.PostgresTable

	fileConfig.Patch.MaxAttempts = def.Patch.MaxAttempts
	fileConfig.Patch.InitialBackoff = def.Patch.InitialBackoff.String()
	fileConfig.Patch.MaxBackoff = def.Patch.MaxBackoff.String()
	fileConfig.Patch.ReturnInverse = &def.Patch.ReturnInverse

	fileConfig.Log.Level = def.Log.Level
	fileConfig.Log.Format = def.Log.Format

	data, err := yaml.Marshal(fileConfig)
	if err != nil {
		return fmt.Errorf("error creating default config: %w", err)
	}

	yamlWithComments := "# docpatch server configuration\n" +
		"# store.driver is one of memory, badger, bolt, redis, postgres\n\n" +
		string(data)

	if err := os.WriteFile(filePath, []byte(yamlWithComments), 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
