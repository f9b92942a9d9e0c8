package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/jobscout/internal/crawl"
	"github.com/spigell/jobscout/internal/listing"
)

const (
	app       = "jobscout"
	envPrefix = "JOBSCOUT"
)

type Config struct {
	Output      string   `mapstructure:"output"`
	ExcludeFile string   `mapstructure:"exclude-file"`
	ProfileFile string   `mapstructure:"profile-file"`
	Lexicon     []string `mapstructure:"lexicon"`

	Site    *SiteConfig    `mapstructure:"site"`
	Crawl   *CrawlConfig   `mapstructure:"crawl"`
	Filters *FiltersConfig `mapstructure:"filters"`
	AI      *AIConfig      `mapstructure:"ai"`
}

type SiteConfig struct {
	BaseURL      string `mapstructure:"base-url"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password" json:"-"`
	PasswordFile string `mapstructure:"password-file"`
	Headless     bool   `mapstructure:"headless"`
	ChromePath   string `mapstructure:"chrome-path"`
	UserAgent    string `mapstructure:"user-agent"`
}

type CrawlConfig struct {
	Step            int           `mapstructure:"step"`
	MaxPages        int           `mapstructure:"max-pages"`
	MaxScrollPasses int           `mapstructure:"max-scroll-passes"`
	LoginTimeout    time.Duration `mapstructure:"login-timeout"`
	SearchTimeout   time.Duration `mapstructure:"search-timeout"`
	DetailTimeout   time.Duration `mapstructure:"detail-timeout"`
	ActionTimeout   time.Duration `mapstructure:"action-timeout"`
	ScrollSettle    time.Duration `mapstructure:"scroll-settle"`
	ClickSettle     time.Duration `mapstructure:"click-settle"`
	PageSettle      time.Duration `mapstructure:"page-settle"`
}

type FiltersConfig struct {
	ExcludedCompanies []string `mapstructure:"excluded-companies"`
	SkipPersisted     bool     `mapstructure:"skip-persisted"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key" json:"-"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobscout reads a résumé, crawls a job listing site and saves the listings that fit",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobscout.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults()
}

func setDefaults() {
	defaults := crawl.DefaultConfig()

	viper.SetDefault("output", "jobs.csv")
	viper.SetDefault("exclude-file", "")
	viper.SetDefault("profile-file", "")
	viper.SetDefault("lexicon", []string{})

	viper.SetDefault("site.base-url", listing.DefaultBaseURL)
	viper.SetDefault("site.username", "")
	viper.SetDefault("site.password", "")
	viper.SetDefault("site.password-file", "")
	viper.SetDefault("site.headless", true)
	viper.SetDefault("site.chrome-path", "")
	viper.SetDefault("site.user-agent", "")

	viper.SetDefault("crawl.step", defaults.Step)
	viper.SetDefault("crawl.max-pages", 0)
	viper.SetDefault("crawl.max-scroll-passes", 0)
	viper.SetDefault("crawl.login-timeout", defaults.LoginTimeout)
	viper.SetDefault("crawl.search-timeout", defaults.SearchTimeout)
	viper.SetDefault("crawl.detail-timeout", defaults.DetailTimeout)
	viper.SetDefault("crawl.action-timeout", defaults.ActionTimeout)
	viper.SetDefault("crawl.scroll-settle", defaults.ScrollSettle)
	viper.SetDefault("crawl.click-settle", defaults.ClickSettle)
	viper.SetDefault("crawl.page-settle", defaults.PageSettle)

	viper.SetDefault("filters.excluded-companies", []string{})
	viper.SetDefault("filters.skip-persisted", false)

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.gemini.api-key", "")
	viper.SetDefault("ai.gemini.api-key-file", "")
	viper.SetDefault("ai.gemini.model", "")
	viper.SetDefault("ai.gemini.max-retries", 3)
	viper.SetDefault("ai.gemini.max-log-length", 200)
}

func initConfig() {
	// A missing .env is normal; a broken one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	err := viper.ReadInConfig()
	if err == nil {
		return
	}

	// Without an explicit --config every key has a default and may come from
	// the environment, so an absent jobscout.yaml is fine.
	var notFound viper.ConfigFileNotFoundError
	if cfgFile == "" && errors.As(err, &notFound) {
		return
	}

	// We can't proceed if the config file parsed with error.
	log.Fatal(err)
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, errors.New("empty configuration")
	}

	return config, nil
}

// crawlConfig maps the configuration onto the crawler settings. Zero values
// keep the crawler defaults.
func (c *Config) crawlConfig(username, password string) crawl.Config {
	cfg := crawl.DefaultConfig()
	cfg.Username = username
	cfg.Password = password

	if c.Site != nil && strings.TrimSpace(c.Site.BaseURL) != "" {
		cfg.BaseURL = strings.TrimSpace(c.Site.BaseURL)
	}

	cc := c.Crawl
	if cc == nil {
		return cfg
	}

	if cc.Step > 0 {
		cfg.Step = cc.Step
	}
	cfg.MaxPages = max(cc.MaxPages, 0)
	cfg.MaxScrollPasses = max(cc.MaxScrollPasses, 0)

	setDuration(&cfg.LoginTimeout, cc.LoginTimeout)
	setDuration(&cfg.SearchTimeout, cc.SearchTimeout)
	setDuration(&cfg.DetailTimeout, cc.DetailTimeout)
	setDuration(&cfg.ActionTimeout, cc.ActionTimeout)
	setDuration(&cfg.ScrollSettle, cc.ScrollSettle)
	setDuration(&cfg.ClickSettle, cc.ClickSettle)
	setDuration(&cfg.PageSettle, cc.PageSettle)

	return cfg
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
