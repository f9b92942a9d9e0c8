package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"github.com/spigell/jobscout/internal/ai"
	"github.com/spigell/jobscout/internal/profile"
	"github.com/spigell/jobscout/internal/segment"
	"github.com/spigell/jobscout/internal/utils"
	"go.uber.org/zap"
)

//go:embed profile_prompt.md
var profilePrompt string

// ProfileBuilder asks Gemini to fill a candidate profile from résumé sections.
type ProfileBuilder struct {
	generator contentGenerator
	maxLogLen int
	logger    *zap.Logger
}

var _ ai.ProfileBuilder = (*ProfileBuilder)(nil)

func NewProfileBuilder(generator contentGenerator, maxLogLength int, logger *zap.Logger) *ProfileBuilder {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ProfileBuilder{
		generator: generator,
		maxLogLen: maxLogLength,
		logger:    logger,
	}
}

func (b *ProfileBuilder) Build(ctx context.Context, sections []segment.Section) (*profile.Profile, error) {
	if len(sections) == 0 {
		return nil, errors.New("no résumé sections to build a profile from")
	}

	message := formatSections(sections)

	b.logger.Debug("profile request",
		zap.Int("sections", len(sections)),
		zap.Int("prompt_length", utf8.RuneCountInString(message)),
	)

	raw, err := b.generator.GenerateContent(ctx, profilePrompt, message)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("profile response",
		zap.String("response_preview", utils.TruncateForLog(raw, b.maxLogLen)),
	)

	fields, err := parseFields(raw)
	if err != nil {
		return nil, err
	}

	return profile.New(fields)
}

func formatSections(sections []segment.Section) string {
	blocks := make([]string, 0, len(sections))
	for i, s := range sections {
		heading := s.Heading
		if heading == "" {
			heading = segment.Misc
		}
		blocks = append(blocks, fmt.Sprintf("Section %d (%s):\n%s\n", i+1, heading, s.Content))
	}

	return strings.Join(blocks, "\n")
}

func parseFields(raw string) (profile.Fields, error) {
	var fields profile.Fields

	data, err := decodeObject(raw)
	if err != nil {
		return fields, err
	}

	if v, ok := data["experience"]; ok {
		data["experience"] = coerceYears(v)
	}

	salary := profile.AnySalary
	scoped := false
	if v, ok := data["min_salary"]; ok {
		if n, ok := coerceInt(v); ok {
			salary.Min = n
			scoped = true
		}
		delete(data, "min_salary")
	}
	if v, ok := data["max_salary"]; ok {
		if n, ok := coerceInt(v); ok && n > 0 {
			salary.Max = n
			scoped = true
		}
		delete(data, "max_salary")
	}
	delete(data, "salary")

	for key, v := range data {
		if list, ok := v.([]any); ok {
			data[key] = joinList(list)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &fields,
	})
	if err != nil {
		return fields, err
	}
	if err := decoder.Decode(data); err != nil {
		return fields, fmt.Errorf("%w: %v", ai.ErrMalformedResponse, err)
	}

	if scoped {
		fields.Salary = &salary
	}

	return fields, nil
}

func joinList(list []any) string {
	parts := make([]string, 0, len(list))
	for _, item := range list {
		if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// coerceYears reads "3", 3, 3.5 or "3 years" as whole years; anything else is 0.
func coerceYears(v any) int {
	if n, ok := coerceInt(v); ok && n > 0 {
		return n
	}
	return 0
}

func coerceInt(v any) (int, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return int(val), true
	case int:
		return val, true
	case string:
		digits := strings.TrimLeftFunc(val, func(r rune) bool { return !unicode.IsDigit(r) })
		end := strings.IndexFunc(digits, func(r rune) bool { return !unicode.IsDigit(r) && r != ',' })
		if end != -1 {
			digits = digits[:end]
		}
		digits = strings.ReplaceAll(digits, ",", "")
		if digits == "" {
			return 0, false
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
