package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brizzai/fluo/internal/auth/constants"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("fluo version %s, commit %s, built at %s", version, commit, date)
}

// ErrMissing is returned when a setting required by an operation is empty.
var ErrMissing = errors.New("missing configuration")

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	SiteURL string        `mapstructure:"site_url"`
	Google  GoogleConfig  `mapstructure:"google"`
	Session SessionConfig `mapstructure:"session"`
	Tokens  TokensConfig  `mapstructure:"tokens"`
	Search  SearchConfig  `mapstructure:"search"`
	Drive   DriveConfig   `mapstructure:"drive"`
	CORS    CORSConfig    `mapstructure:"cors"`
}

type ServerConfig struct {
	Port    int           `mapstructure:"port"`
	Host    string        `mapstructure:"host"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"`
	Color             bool   `mapstructure:"color"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console"`
}

// GoogleConfig holds the OAuth client registration. When SecretID is set the
// client id and secret may instead come from AWS Secrets Manager.
type GoogleConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scopes       string        `mapstructure:"scopes"`
	SecretID     string        `mapstructure:"secret_id"`
	SecretRegion string        `mapstructure:"secret_region"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	Secret string `mapstructure:"secret"`
	Secure bool   `mapstructure:"secure"`
}

type TokensConfig struct {
	Backend         string `mapstructure:"backend"` // memory, dynamodb, redis, postgres, sqlite
	DefaultUserID   string `mapstructure:"default_user_id"`
	Table           string `mapstructure:"table"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RedisAddr       string `mapstructure:"redis_addr"`
	RedisPassword   string `mapstructure:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db"`
	RedisPrefix     string `mapstructure:"redis_prefix"`
	DSN             string `mapstructure:"dsn"`
}

type SearchConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DriveConfig selects the shared drive listed by /api/drive/files. Endpoint
// overrides the Drive API base path and is only set against a fake.
type DriveConfig struct {
	SharedDriveID string        `mapstructure:"shared_drive_id"`
	Endpoint      string        `mapstructure:"endpoint"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// RedirectURI is the callback URL registered with Google. It must be
// byte-identical on the authorization request and on the code exchange.
func (c *Config) RedirectURI() string {
	if c.SiteURL == "" {
		return ""
	}
	return strings.TrimRight(c.SiteURL, "/") + constants.CallbackPath
}

// ScopeList splits the configured scopes on spaces or commas.
func (g GoogleConfig) ScopeList() []string {
	return strings.FieldsFunc(g.Scopes, func(r rune) bool {
		return r == ' ' || r == ','
	})
}

// CheckAuthorize reports whether the settings needed to start an
// authorization request are present.
func (c *Config) CheckAuthorize() error {
	return missing(map[string]string{
		"google.client_id": c.Google.ClientID,
		"site_url":         c.SiteURL,
	})
}

// CheckExchange reports whether the settings needed to talk to the token
// endpoint are present.
func (c *Config) CheckExchange() error {
	return missing(map[string]string{
		"google.client_id":     c.Google.ClientID,
		"google.client_secret": c.Google.ClientSecret,
		"site_url":             c.SiteURL,
	})
}

func missing(values map[string]string) error {
	var keys []string
	for _, key := range []string{"google.client_id", "google.client_secret", "site_url"} {
		if v, ok := values[key]; ok && strings.TrimSpace(v) == "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissing, strings.Join(keys, ", "))
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.timeout", 30*time.Second)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("logging.color", true)
	viper.SetDefault("logging.disable_stacktrace", false)
	viper.SetDefault("logging.output_path", "")
	viper.SetDefault("logging.append_to_file", false)
	viper.SetDefault("logging.disable_console", false)

	viper.SetDefault("site_url", "")

	viper.SetDefault("google.client_id", "")
	viper.SetDefault("google.client_secret", "")
	viper.SetDefault("google.scopes", "openid email profile https://www.googleapis.com/auth/drive.file")
	viper.SetDefault("google.secret_id", "")
	viper.SetDefault("google.secret_region", "ap-southeast-2")
	viper.SetDefault("google.timeout", 10*time.Second)

	viper.SetDefault("session.secret", "")
	viper.SetDefault("session.secure", false)

	viper.SetDefault("tokens.backend", "dynamodb")
	viper.SetDefault("tokens.default_user_id", "")
	viper.SetDefault("tokens.table", "")
	viper.SetDefault("tokens.region", "ap-southeast-2")
	viper.SetDefault("tokens.endpoint", "")
	viper.SetDefault("tokens.access_key_id", "")
	viper.SetDefault("tokens.secret_access_key", "")
	viper.SetDefault("tokens.redis_addr", "localhost:6379")
	viper.SetDefault("tokens.redis_password", "")
	viper.SetDefault("tokens.redis_db", 0)
	viper.SetDefault("tokens.redis_prefix", "fluo")
	viper.SetDefault("tokens.dsn", "")

	viper.SetDefault("search.base_url", "")
	viper.SetDefault("search.timeout", 10*time.Second)

	viper.SetDefault("drive.shared_drive_id", "")
	viper.SetDefault("drive.endpoint", "")
	viper.SetDefault("drive.timeout", 10*time.Second)

	viper.SetDefault("cors.allow_origins", []string{})
}

// InitFlags registers the command line flags understood by Load.
func InitFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a config file (default ./config.yaml or /etc/fluo/config.yaml)")
	flags.String("host", "", "Address to listen on")
	flags.Int("port", 0, "Port to listen on")
	flags.String("site-url", "", "Public URL of the dashboard")
	flags.String("log-level", "", "Log level (debug|info|warn|error)")
}

var flagKeys = map[string]string{
	"host":      "server.host",
	"port":      "server.port",
	"site-url":  "site_url",
	"log-level": "logging.level",
}

// Load reads configuration from config.yaml, FLUO_* environment variables and
// the given flags, in increasing order of precedence. A missing config file
// is not an error.
func Load(flags *pflag.FlagSet) (*Config, error) {
	viper.Reset() // Ensure clean state
	setDefaults()

	viper.SetEnvPrefix("FLUO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := viper.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var configFile string
	if flags != nil {
		configFile, _ = flags.GetString("config")
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/fluo")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	//Loading additionals config files
	if _, err := os.Stat("/config/config.yaml"); err == nil {
		viper.SetConfigFile("/config/config.yaml")
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to merge /config/config.yaml: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return nil, fmt.Errorf("server.port %d is out of range", config.Server.Port)
	}

	switch config.Tokens.Backend {
	case "memory", "dynamodb", "redis", "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("tokens.backend %q is not supported, use memory, dynamodb, redis, postgres or sqlite", config.Tokens.Backend)
	}

	return &config, nil
}
