package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Tuner      TunerConfig      `mapstructure:"tuner"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

type TelegramConfig struct {
	Token   string   `mapstructure:"token"`
	OwnerID int64    `mapstructure:"owner_id"`
	BotName string   `mapstructure:"bot_name"`
	Aliases []string `mapstructure:"aliases"`
	Timeout int      `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type ClassifierConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
	MaxTags       int     `mapstructure:"max_tags"`
	UseGPT        bool    `mapstructure:"use_gpt"`
}

type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	ChatType                   string   `mapstructure:"chat_type"`
	SummaryWindow              int      `mapstructure:"summary_window"`
	ContextMessages            int      `mapstructure:"context_messages"`
	RelatedThreshold           float64  `mapstructure:"related_threshold"`
	DefaultSmartMode           bool     `mapstructure:"default_smart_mode"`
	DefaultResponseProbability float64  `mapstructure:"default_response_probability"`
	DefaultImportanceThreshold float64  `mapstructure:"default_importance_threshold"`
	UrgencyMarkers             []string `mapstructure:"urgency_markers"`
}

type TunerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Window      time.Duration `mapstructure:"window"`
	TargetLow   float64       `mapstructure:"target_low"`
	TargetHigh  float64       `mapstructure:"target_high"`
	Step        float64       `mapstructure:"step"`
	Min         float64       `mapstructure:"min"`
	Max         float64       `mapstructure:"max"`
	Parallelism int           `mapstructure:"parallelism"`
}

type NotifyConfig struct {
	Cooldown          time.Duration `mapstructure:"cooldown"`
	LowResponseRate   float64       `mapstructure:"low_response_rate"`
	HighActivityCount int           `mapstructure:"high_activity_count"`
	ThresholdChange   float64       `mapstructure:"threshold_change"`
	// DailySummary is how often the owner gets the activity summary; zero turns it off.
	DailySummary      time.Duration `mapstructure:"daily_summary"`
}

type StatsConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	TrendDays       int           `mapstructure:"trend_days"`
	Parallelism     int           `mapstructure:"parallelism"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.bot_name", "Vailentin")
	v.SetDefault("telegram.timeout", 60)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)

	v.SetDefault("classifier.min_confidence", 0.7)
	v.SetDefault("classifier.max_tags", 5)
	v.SetDefault("classifier.use_gpt", true)

	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.embedding_model", "text-embedding-ada-002")
	v.SetDefault("openai.max_tokens", 150)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.timeout", 30*time.Second)

	v.SetDefault("engine.chat_type", "mixed")
	v.SetDefault("engine.summary_window", 10)
	v.SetDefault("engine.context_messages", 5)
	v.SetDefault("engine.related_threshold", 0.70)
	v.SetDefault("engine.default_smart_mode", true)
	v.SetDefault("engine.default_response_probability", 0.5)
	v.SetDefault("engine.default_importance_threshold", 0.5)
	v.SetDefault("engine.urgency_markers", []string{"urgent", "asap", "important", "срочно", "важно", "?"})

	v.SetDefault("tuner.interval", time.Hour)
	v.SetDefault("tuner.window", 24*time.Hour)
	v.SetDefault("tuner.target_low", 0.20)
	v.SetDefault("tuner.target_high", 0.40)
	v.SetDefault("tuner.step", 0.05)
	v.SetDefault("tuner.min", 0.1)
	v.SetDefault("tuner.max", 0.9)
	v.SetDefault("tuner.parallelism", 4)

	v.SetDefault("notify.cooldown", 60*time.Minute)
	v.SetDefault("notify.low_response_rate", 0.1)
	v.SetDefault("notify.high_activity_count", 100)
	v.SetDefault("notify.threshold_change", 0.2)
	v.SetDefault("notify.daily_summary", 24*time.Hour)

	v.SetDefault("stats.ttl", 5*time.Minute)
	v.SetDefault("stats.refresh_interval", 5*time.Minute)
	v.SetDefault("stats.trend_days", 7)
	v.SetDefault("stats.parallelism", 4)

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("log.debug", false)
}

// LoadConfig reads .env, then path if it exists, then environment
// overrides. A missing config file leaves the defaults in place.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if owner := v.GetInt64("OWNER_ID"); owner != 0 {
		config.Telegram.OwnerID = owner
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	unit := func(v float64) bool { return v >= 0 && v <= 1 }

	check(c.Telegram.Token != "", "telegram.token is required")
	check(c.OpenAI.APIKey != "", "openai.api_key is required")
	check(c.OpenAI.Timeout > 0, "openai.timeout must be positive")

	check(unit(c.Classifier.MinConfidence), "classifier.min_confidence must be within [0, 1]")
	check(c.Engine.SummaryWindow > 0, "engine.summary_window must be positive")
	check(c.Engine.ContextMessages > 0, "engine.context_messages must be positive")
	check(unit(c.Engine.RelatedThreshold), "engine.related_threshold must be within [0, 1]")
	check(unit(c.Engine.DefaultResponseProbability), "engine.default_response_probability must be within [0, 1]")
	check(unit(c.Engine.DefaultImportanceThreshold), "engine.default_importance_threshold must be within [0, 1]")
	switch c.Engine.ChatType {
	case "work", "friendly", "mixed":
	default:
		errs = append(errs, fmt.Errorf("engine.chat_type %q is not one of work, friendly, mixed", c.Engine.ChatType))
	}

	check(c.Tuner.Interval > 0, "tuner.interval must be positive")
	check(c.Tuner.Window > 0, "tuner.window must be positive")
	check(c.Tuner.Step > 0, "tuner.step must be positive")
	check(unit(c.Tuner.TargetLow) && unit(c.Tuner.TargetHigh) && c.Tuner.TargetLow <= c.Tuner.TargetHigh,
		"tuner target band [%.2f, %.2f] is invalid", c.Tuner.TargetLow, c.Tuner.TargetHigh)
	check(unit(c.Tuner.Min) && unit(c.Tuner.Max) && c.Tuner.Min <= c.Tuner.Max,
		"tuner bounds [%.2f, %.2f] are invalid", c.Tuner.Min, c.Tuner.Max)
	check(c.Tuner.Parallelism > 0, "tuner.parallelism must be positive")

	check(c.Notify.Cooldown > 0, "notify.cooldown must be positive")
	check(c.Notify.DailySummary >= 0, "notify.daily_summary must not be negative")
	check(c.Stats.TTL > 0, "stats.ttl must be positive")
	check(c.Stats.RefreshInterval > 0, "stats.refresh_interval must be positive")
	check(c.Stats.TrendDays > 0, "stats.trend_days must be positive")
	check(c.Stats.Parallelism > 0, "stats.parallelism must be positive")

	return errors.Join(errs...)
}
