// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/supervisor"
	"github.com/JakeFAU/catalog-scraper/internal/worker"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Scraper ScraperConfig `mapstructure:"scraper"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Output  OutputConfig  `mapstructure:"output"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ScraperConfig governs the worker pool and supervision loop.
type ScraperConfig struct {
	WorkerCount   int           `mapstructure:"worker_count" validate:"gt=0"`
	PageCount     int           `mapstructure:"page_count" validate:"gte=0"`
	BaseURL       string        `mapstructure:"base_url" validate:"required"`
	PopTimeout    time.Duration `mapstructure:"pop_timeout" validate:"gt=0"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	RestartPolicy string        `mapstructure:"restart_policy" validate:"oneof=always on_fault"`
	DirectEmit    bool          `mapstructure:"direct_emit"`
}

// FetchConfig selects and tunes the browsing engine.
type FetchConfig struct {
	Engine       string        `mapstructure:"engine" validate:"oneof=chromedp colly"`
	HeadlessMode bool          `mapstructure:"headless_mode"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// OutputConfig names where records are written.
type OutputConfig struct {
	Destination   string `mapstructure:"destination" validate:"required"`
	PostgresTable string `mapstructure:"postgres_table" validate:"required"`
}

// PubSubConfig holds the optional run-completion topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the optional metrics endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// legacyEnv maps the environment names of earlier releases onto keys.
var legacyEnv = map[string]string{
	"scraper.worker_count": "NUM_PROCESSES",
	"fetch.headless_mode":  "HEADLESS",
	"output.destination":   "OUTPUT_FILE",
}

var validate = validator.New()

// Load builds a Config from defaults, an optional file and the environment.
// SCRAPER_* variables win over the legacy names.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		envName := "SCRAPER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.worker_count", 3)
	v.SetDefault("scraper.page_count", 3)
	v.SetDefault("scraper.base_url", catalog.DefaultPageTemplate)
	v.SetDefault("scraper.pop_timeout", worker.DefaultPopTimeout)
	v.SetDefault("scraper.poll_interval", supervisor.DefaultPollInterval)
	v.SetDefault("scraper.restart_policy", string(supervisor.RestartAlways))
	v.SetDefault("scraper.direct_emit", false)
	v.SetDefault("fetch.engine", "chromedp")
	v.SetDefault("fetch.headless_mode", true)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("output.destination", "books.json")
	v.SetDefault("output.postgres_table", "books")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q rule", fieldKey(fe.Namespace()), fe.Tag())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Scraper.DirectEmit && c.Scraper.WorkerCount != 1 {
		return fmt.Errorf("scraper.direct_emit requires scraper.worker_count = 1")
	}
	if c.Scraper.RestartPolicy == "always" && c.Scraper.PopTimeout >= c.Scraper.PollInterval {
		return fmt.Errorf("scraper.pop_timeout must be shorter than scraper.poll_interval with the always restart policy")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// PubSubEnabled reports whether run summaries should be published.
func (c Config) PubSubEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}

// fieldKey turns "Config.Scraper.WorkerCount" into "Scraper.WorkerCount".
func fieldKey(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}
