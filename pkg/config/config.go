package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the read-only configuration snapshot built once at process start
// and handed to constructors. Nothing in the core mutates it or reaches for
// ambient global state.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	// Fetch policy
	MaxThreads         int     `mapstructure:"MAX_THREADS"`
	RequestTimeoutSecs int     `mapstructure:"REQUEST_TIMEOUT"`
	MaxRetries         int     `mapstructure:"MAX_RETRIES"`
	RetryDelaySecs     int     `mapstructure:"RETRY_DELAY"`
	RequestDelaySecs   float64 `mapstructure:"REQUEST_DELAY"`
	UseProxy           bool    `mapstructure:"USE_PROXY"`
	ProxyProbeURL      string  `mapstructure:"PROXY_PROBE_URL"`
	GitHubToken        string  `mapstructure:"GITHUB_TOKEN"`
	GitHubAPIURL       string  `mapstructure:"GITHUB_API_URL"`
	AutoSaveToRemote   bool    `mapstructure:"AUTO_SAVE_TO_REMOTE"`

	// Local store
	DataDir string `mapstructure:"DATA_DIR"`

	// Remote sheet backend
	SheetBaseURL            string `mapstructure:"SHEET_BASE_URL"`
	SheetAppID              string `mapstructure:"SHEET_APP_ID"`
	SheetAppSecret          string `mapstructure:"SHEET_APP_SECRET"`
	GitHubSpreadsheetToken  string `mapstructure:"GITHUB_SPREADSHEET_TOKEN"`
	GitHubSheetID           string `mapstructure:"GITHUB_SHEET_ID"`
	WebsiteSpreadsheetToken string `mapstructure:"WEBSITE_SPREADSHEET_TOKEN"`
	WebsiteSheetID          string `mapstructure:"WEBSITE_SHEET_ID"`

	// Optional Postgres tabular backend (empty URL disables it)
	PostgresURL string `mapstructure:"POSTGRES_URL"`

	// Optional Redis visited-cache (empty addr disables it)
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	VisitedTTLHrs int    `mapstructure:"VISITED_TTL_HOURS"`
}

// Load reads configuration from an .env file and environment variables.
// A missing .env file is not an error so production can configure purely
// through the environment.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_THREADS", 5)
	viper.SetDefault("REQUEST_TIMEOUT", 30)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("RETRY_DELAY", 5)
	viper.SetDefault("REQUEST_DELAY", 1.0)
	viper.SetDefault("USE_PROXY", false)
	viper.SetDefault("PROXY_PROBE_URL", "https://httpbin.org/ip")
	viper.SetDefault("GITHUB_API_URL", "https://api.github.com")
	viper.SetDefault("AUTO_SAVE_TO_REMOTE", false)
	viper.SetDefault("DATA_DIR", "data")
	viper.SetDefault("SHEET_BASE_URL", "https://open.feishu.cn")
	viper.SetDefault("VISITED_TTL_HOURS", 48)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RequestTimeout is the per-HTTP-call timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// RetryDelay is the base delay doubled per retry attempt.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// RequestDelay is the pacing delay applied before first attempts.
func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelaySecs * float64(time.Second))
}

// VisitedTTL is how long a URL stays in the visited cache.
func (c *Config) VisitedTTL() time.Duration {
	return time.Duration(c.VisitedTTLHrs) * time.Hour
}
