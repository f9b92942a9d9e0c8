package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobscout/internal/ai/gemini"
	"github.com/spigell/jobscout/internal/browser"
	"github.com/spigell/jobscout/internal/crawl"
	"github.com/spigell/jobscout/internal/filtering"
	"github.com/spigell/jobscout/internal/listing"
	"github.com/spigell/jobscout/internal/logger"
	"github.com/spigell/jobscout/internal/profile"
	"github.com/spigell/jobscout/internal/secrets"
	"github.com/spigell/jobscout/internal/sink"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var runCmd = &cobra.Command{
	Use:   "run [resume]",
	Short: "Crawl the listing site and save the listings that fit the résumé",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resume := ""
		if len(args) == 1 {
			resume = args[0]
		}
		run(cmd, resume)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before crawling")
	runCmd.Flags().StringP("output", "o", "", "csv file the matched listings are appended to")
	runCmd.Flags().StringP("exclude-file", "e", "", "json file with listings to skip; rejected listings are added to it")
	runCmd.Flags().StringP("profile-file", "p", "", "saved candidate profile; built from the résumé and saved here when missing")
	runCmd.Flags().Int("max-pages", 0, "stop after this many result pages (0 means no limit)")
	runCmd.Flags().Bool("skip-persisted", false, "skip listings already present in the output file")

	viper.BindPFlag("output", runCmd.Flags().Lookup("output"))
	viper.BindPFlag("exclude-file", runCmd.Flags().Lookup("exclude-file"))
	viper.BindPFlag("profile-file", runCmd.Flags().Lookup("profile-file"))
	viper.BindPFlag("crawl.max-pages", runCmd.Flags().Lookup("max-pages"))
	viper.BindPFlag("filters.skip-persisted", runCmd.Flags().Lookup("skip-persisted"))
}

// run is the main command for the cli.
func run(cmd *cobra.Command, resume string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newSessionLogger()

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}

	log.Info("starting the jobscout", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	log.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config.Site == nil {
		log.Fatal("site configuration is required")
	}

	generator, err := newGenerator(ctx, config, log)
	if err != nil {
		log.Fatal("creating the ai generator", zap.Error(err))
	}

	candidate, err := resolveProfile(ctx, generator, config, resume, log)
	if err != nil {
		log.Fatal("getting the candidate profile", zap.Error(err))
	}

	out, err := sink.Open(config.Output)
	if err != nil {
		log.Fatal("opening the output file", zap.Error(err))
	}
	log.Info("output file ready", zap.String("path", out.Path()), zap.Int("last_sequence", out.Last()))

	chain, err := prepareFilters(config, out, log)
	if err != nil {
		log.Fatal("preparing filters", zap.Error(err))
	}

	username, password, err := resolveCredentials(config.Site)
	if err != nil {
		log.Fatal(
			"loading site credentials",
			zap.Error(err),
			zap.String("hint", "set site.password-file or JOBSCOUT_SITE_PASSWORD, or leave site.username empty to browse without signing in"),
		)
	}

	crawlCfg := config.crawlConfig(username, password)
	log.Info("search prepared",
		zap.String("url", listing.SearchURL(crawlCfg.BaseURL, candidate.Discipline(), candidate.Location(), 0)),
		zap.Int("max_pages", crawlCfg.MaxPages),
	)

	if !confirmed(cmd, candidate) {
		log.Info("exiting", zap.String("reason", "got no from prompt"))
		return
	}

	session, err := browser.New(ctx, browser.Options{
		Headless:      config.Site.Headless,
		ChromePath:    config.Site.ChromePath,
		UserAgent:     config.Site.UserAgent,
		ActionTimeout: crawlCfg.ActionTimeout,
	}, log.Named("browser"))
	if err != nil {
		log.Fatal("starting the browser", zap.Error(err))
	}

	classifier := gemini.NewClassifier(
		generator,
		config.AI.Gemini.MaxLogLength,
		logger.WithCommonFields(log, gemini.Provider, generator.Model()),
	)

	crawler, err := crawl.New(crawlCfg, crawl.Deps{
		Browser:    session,
		Classifier: classifier,
		Sink:       out,
		Gate:       chain,
		Profile:    candidate,
		Logger:     log,
	})
	if err != nil {
		session.Quit()
		log.Fatal("creating the crawler", zap.Error(err))
	}

	stats, err := crawler.Run(ctx)
	logStats(log, stats, chain)

	switch {
	case err == nil:
		log.Info("crawl finished", zap.String("output", out.Path()))
	case errors.Is(err, context.Canceled):
		log.Info("exiting", zap.String("reason", "interrupted"))
	default:
		log.Fatal("crawl failed", zap.Error(err))
	}
}

func newSessionLogger() *zap.Logger {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	return logger.WithSession(l, uuid.NewString())
}

func prepareFilters(config *Config, history filtering.HistorySource, log *zap.Logger) (*filtering.Chain, error) {
	cfg := &filtering.Config{ExcludeFile: strings.TrimSpace(config.ExcludeFile)}
	if config.Filters != nil {
		cfg.ExcludedCompanies = config.Filters.ExcludedCompanies
		cfg.SkipPersisted = config.Filters.SkipPersisted
	}

	deps := filtering.Deps{Logger: log, History: history}
	if cfg.ExcludeFile != "" {
		excluded, err := filtering.LoadExclusions(cfg.ExcludeFile)
		if err != nil {
			return nil, err
		}
		deps.Exclusions = excluded
		log.Info("exclude file loaded", zap.String("path", cfg.ExcludeFile), zap.Int("count", excluded.Len()))
	}

	chain, err := filtering.NewChain(cfg, deps, filtering.Defaults()...)
	if err != nil {
		return nil, err
	}

	for _, status := range chain.Describe() {
		log.Debug("filter",
			zap.String("name", status.Name),
			zap.Bool("enabled", status.Enabled),
			zap.String("reason", status.Reason),
			zap.Any("details", status.Details),
		)
	}

	return chain, nil
}

// resolveCredentials returns empty credentials when no username is set. A
// configured username without a password is completed interactively.
func resolveCredentials(site *SiteConfig) (string, string, error) {
	username := strings.TrimSpace(site.Username)
	if username == "" {
		return "", "", nil
	}

	password, err := secrets.Load(secrets.Source{
		Name:  "site password",
		File:  site.PasswordFile,
		Value: site.Password,
	})
	if err == nil {
		return username, password, nil
	}
	if strings.TrimSpace(site.PasswordFile) != "" {
		return "", "", err
	}

	passwordPrompt := promptui.Prompt{
		Label: fmt.Sprintf("Password for %s", username),
		Mask:  '*',
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("password must not be empty")
			}
			return nil
		},
	}

	password, err = passwordPrompt.Run()
	if err != nil {
		return "", "", fmt.Errorf("reading password: %w", err)
	}

	return username, strings.TrimSpace(password), nil
}

func confirmed(cmd *cobra.Command, candidate *profile.Profile) bool {
	if cmd.Flag("auto-approve").Value.String() == "true" {
		return true
	}

	prompt := promptui.Select{
		Label: fmt.Sprintf("Search %q in %q. Proceed?", candidate.Discipline(), candidate.Location()),
		Items: []string{PromptYes, PromptNo},
	}

	_, action, err := prompt.Run()
	if err != nil {
		return false
	}

	return action == PromptYes
}

func logStats(log *zap.Logger, stats *crawl.Stats, chain *filtering.Chain) {
	if stats == nil {
		return
	}

	log.Info("session summary",
		zap.Int("pages", stats.Pages),
		zap.Int("seen", stats.Seen),
		zap.Int("classified", stats.Classified),
		zap.Int("matched", stats.Matched),
		zap.Int("filtered", stats.Filtered),
		zap.Int("failed", stats.Failed),
		zap.Any("dropped_by", chain.Dropped()),
	)
}
