package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"github.com/spigell/jobscout/internal/ai"
	"github.com/spigell/jobscout/internal/profile"
	"github.com/spigell/jobscout/internal/utils"
	"go.uber.org/zap"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
}

//go:embed classify_prompt.md
var classifyPrompt string

const defaultMaxLogLength = 200

// Classifier asks Gemini whether a listing fits the candidate profile.
type Classifier struct {
	generator contentGenerator
	maxLogLen int
	logger    *zap.Logger
}

var _ ai.Classifier = (*Classifier)(nil)

func NewClassifier(generator contentGenerator, maxLogLength int, logger *zap.Logger) *Classifier {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Classifier{
		generator: generator,
		maxLogLen: maxLogLength,
		logger:    logger,
	}
}

type decisionPayload struct {
	Match       bool   `mapstructure:"match"`
	Role        string `mapstructure:"role"`
	Company     string `mapstructure:"company"`
	Location    string `mapstructure:"location"`
	Description string `mapstructure:"description"`
	Reason      string `mapstructure:"reason"`
}

func (c *Classifier) Classify(ctx context.Context, candidate *profile.Profile, itemText string) (*ai.Decision, error) {
	if candidate == nil {
		return nil, errors.New("candidate profile is required")
	}
	itemText = strings.TrimSpace(itemText)
	if itemText == "" {
		return nil, errors.New("listing text is empty")
	}

	message := fmt.Sprintf("Candidate profile:\n%s\n\nJob listing:\n%s", candidate.Summary(), itemText)

	c.logger.Debug("classify request",
		zap.Int("prompt_length", utf8.RuneCountInString(message)),
		zap.String("prompt_preview", utils.TruncateForLog(itemText, c.maxLogLen)),
	)

	raw, err := c.generator.GenerateContent(ctx, classifyPrompt, message)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("classify response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, c.maxLogLen)),
	)

	decision, err := parseDecision(raw)
	if err != nil {
		return nil, err
	}

	return decision, nil
}

func parseDecision(raw string) (*ai.Decision, error) {
	data, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	match, ok := data["match"]
	if !ok {
		return nil, fmt.Errorf("%w: missing match field", ai.ErrMalformedResponse)
	}
	data["match"] = coerceBool(match)

	var payload decisionPayload
	if err := mapstructure.WeakDecode(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrMalformedResponse, err)
	}

	return &ai.Decision{
		Matched:     payload.Match,
		Role:        strings.TrimSpace(payload.Role),
		Company:     strings.TrimSpace(payload.Company),
		Location:    strings.TrimSpace(payload.Location),
		Description: strings.TrimSpace(payload.Description),
		Reason:      strings.TrimSpace(payload.Reason),
		Raw:         raw,
	}, nil
}

// decodeObject pulls the first JSON object out of a model response.
func decodeObject(raw string) (map[string]any, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrMalformedResponse, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: not an object", ai.ErrMalformedResponse)
	}

	return data, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		raw = raw[start : end+1]
	}

	return strings.TrimSpace(raw)
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}
