// Package profile holds the candidate profile the crawl matches listings against.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
)

var ErrInvalid = errors.New("invalid candidate profile")

// SalaryRange bounds the salary a candidate accepts, inclusive.
type SalaryRange struct {
	Min int `json:"min" mapstructure:"min"`
	Max int `json:"max" mapstructure:"max"`
}

// AnySalary is the unscoped range used when the candidate states no bounds.
var AnySalary = SalaryRange{Min: 0, Max: math.MaxInt}

// Fields is the input of New. Every field is copied; Discipline and Location
// are mandatory because the search query is built from them.
type Fields struct {
	Name                string       `json:"name" mapstructure:"name"`
	Level               string       `json:"level" mapstructure:"level"`
	Location            string       `json:"location" mapstructure:"location"`
	Discipline          string       `json:"discipline" mapstructure:"discipline"`
	SecondaryDiscipline string       `json:"secondary_discipline" mapstructure:"secondary_discipline"`
	Grade               string       `json:"grade" mapstructure:"grade"`
	School              string       `json:"school" mapstructure:"school"`
	Qualification       string       `json:"qual" mapstructure:"qual"`
	Skills              string       `json:"skills" mapstructure:"skills"`
	ExperienceYears     int          `json:"experience" mapstructure:"experience"`
	AdditionalInfo      string       `json:"s_info" mapstructure:"s_info"`
	Salary              *SalaryRange `json:"salary,omitempty" mapstructure:"salary"`
}

// Profile is an immutable candidate profile. Build it with New.
type Profile struct {
	f Fields
}

// New validates fields and returns a profile that owns a copy of them.
func New(f Fields) (*Profile, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.Level = strings.TrimSpace(f.Level)
	f.Location = strings.TrimSpace(f.Location)
	f.Discipline = strings.TrimSpace(f.Discipline)
	f.SecondaryDiscipline = strings.TrimSpace(f.SecondaryDiscipline)
	f.Grade = strings.TrimSpace(f.Grade)
	f.School = strings.TrimSpace(f.School)
	f.Qualification = strings.TrimSpace(f.Qualification)
	f.Skills = strings.TrimSpace(f.Skills)
	f.AdditionalInfo = strings.TrimSpace(f.AdditionalInfo)

	if f.Discipline == "" {
		return nil, fmt.Errorf("%w: discipline is required", ErrInvalid)
	}
	if f.Location == "" {
		return nil, fmt.Errorf("%w: location is required", ErrInvalid)
	}
	if f.ExperienceYears < 0 {
		return nil, fmt.Errorf("%w: experience must not be negative", ErrInvalid)
	}

	salary := AnySalary
	if f.Salary != nil {
		salary = *f.Salary
	}
	if salary.Min < 0 || salary.Max < salary.Min {
		return nil, fmt.Errorf("%w: salary range %d..%d", ErrInvalid, salary.Min, salary.Max)
	}
	f.Salary = &salary

	return &Profile{f: f}, nil
}

// Load reads a profile previously written by Save.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode profile %q: %w", path, err)
	}

	return New(f)
}

// Save writes the profile as indented JSON.
func (p *Profile) Save(path string) error {
	data, err := json.MarshalIndent(p.Fields(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Fields returns a copy of the profile fields.
func (p *Profile) Fields() Fields {
	f := p.f
	salary := *p.f.Salary
	f.Salary = &salary
	return f
}

func (p *Profile) Name() string                { return p.f.Name }
func (p *Profile) Level() string               { return p.f.Level }
func (p *Profile) Location() string            { return p.f.Location }
func (p *Profile) Discipline() string          { return p.f.Discipline }
func (p *Profile) SecondaryDiscipline() string { return p.f.SecondaryDiscipline }
func (p *Profile) Grade() string               { return p.f.Grade }
func (p *Profile) School() string              { return p.f.School }
func (p *Profile) Qualification() string       { return p.f.Qualification }
func (p *Profile) Skills() string              { return p.f.Skills }
func (p *Profile) ExperienceYears() int        { return p.f.ExperienceYears }
func (p *Profile) AdditionalInfo() string      { return p.f.AdditionalInfo }
func (p *Profile) Salary() SalaryRange         { return *p.f.Salary }

// Summary renders the profile as "key: value" lines for prompts.
func (p *Profile) Summary() string {
	lines := []string{
		"name: " + p.f.Name,
		"level: " + p.f.Level,
		"location: " + p.f.Location,
		"discipline: " + p.f.Discipline,
		"secondary_discipline: " + p.f.SecondaryDiscipline,
		"grade: " + p.f.Grade,
		"school: " + p.f.School,
		"qual: " + p.f.Qualification,
		"skills: " + p.f.Skills,
		fmt.Sprintf("experience: %d", p.f.ExperienceYears),
		"s_info: " + p.f.AdditionalInfo,
	}

	salary := *p.f.Salary
	if salary != AnySalary {
		lines = append(lines, fmt.Sprintf("salary: %d-%d", salary.Min, salary.Max))
	}

	return strings.Join(lines, "\n")
}
