package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobscout/internal/ai/gemini"
	"github.com/spigell/jobscout/internal/document"
	"github.com/spigell/jobscout/internal/logger"
	"github.com/spigell/jobscout/internal/profile"
	"github.com/spigell/jobscout/internal/secrets"
	"github.com/spigell/jobscout/internal/segment"
)

// loadSections reads the résumé and splits it into sections.
func loadSections(path string, config *Config, log *zap.Logger) ([]segment.Section, error) {
	doc, err := document.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading résumé: %w", err)
	}

	meta := doc.Metadata()
	log.Info("résumé loaded",
		zap.String("path", doc.Path()),
		zap.Int("pages", meta.PageCount),
		zap.String("title", meta.Title),
		zap.String("author", meta.Author),
		zap.String("subject", meta.Subject),
	)

	lex, err := segment.DefaultLexicon(config.Lexicon...)
	if err != nil {
		return nil, fmt.Errorf("building heading lexicon: %w", err)
	}

	sections := segment.Segment(doc.Text(), lex)
	headings := make([]string, 0, len(sections))
	for _, s := range sections {
		headings = append(headings, s.Heading)
	}
	log.Info("résumé segmented", zap.Int("sections", len(sections)), zap.Strings("headings", headings))

	if len(sections) == 0 {
		return nil, fmt.Errorf("résumé %q has no text", path)
	}

	return sections, nil
}

func newGenerator(ctx context.Context, config *Config, log *zap.Logger) (*gemini.Generator, error) {
	cfg := config.AI
	if cfg == nil || cfg.Gemini == nil {
		return nil, errors.New("ai.gemini configuration is required")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != gemini.Provider {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		File:  cfg.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
		Value: cfg.Gemini.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := logger.WithCommonFields(log, gemini.Provider, cfg.Gemini.Model).With(
		zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
	)

	return gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
}

// buildProfile asks the model for a candidate profile built from the sections.
func buildProfile(ctx context.Context, generator *gemini.Generator, config *Config, sections []segment.Section, log *zap.Logger) (*profile.Profile, error) {
	builder := gemini.NewProfileBuilder(
		generator,
		config.AI.Gemini.MaxLogLength,
		logger.WithCommonFields(log, gemini.Provider, generator.Model()),
	)

	p, err := builder.Build(ctx, sections)
	if err != nil {
		return nil, fmt.Errorf("building candidate profile: %w", err)
	}

	log.Info("candidate profile built",
		zap.String("discipline", p.Discipline()),
		zap.String("location", p.Location()),
		zap.String("level", p.Level()),
		zap.Int("experience", p.ExperienceYears()),
	)

	return p, nil
}

// resolveProfile loads the saved profile when there is one. Otherwise the
// profile is built from the résumé and, when a profile file is configured,
// saved there for the next session.
func resolveProfile(ctx context.Context, generator *gemini.Generator, config *Config, resume string, log *zap.Logger) (*profile.Profile, error) {
	path := strings.TrimSpace(config.ProfileFile)
	if path != "" {
		p, err := profile.Load(path)
		switch {
		case err == nil:
			log.Info("using saved candidate profile", zap.String("path", path))
			return p, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}

	if resume == "" {
		return nil, errors.New("a résumé path is required when no saved profile is available")
	}

	sections, err := loadSections(resume, config, log)
	if err != nil {
		return nil, err
	}

	p, err := buildProfile(ctx, generator, config, sections, log)
	if err != nil {
		return nil, err
	}

	if path != "" {
		if err := p.Save(path); err != nil {
			return nil, fmt.Errorf("saving candidate profile: %w", err)
		}
		log.Info("candidate profile saved", zap.String("path", path))
	}

	return p, nil
}
