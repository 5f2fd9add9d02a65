// Package rules holds the keyword tables that drive classification and
// priority scoring.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"civic-voice-go/internal/types"
)

const defaultLongCallSeconds = 300

// Rules is the YAML document describing keyword sets per category and
// per priority level.
type Rules struct {
	Categories map[types.Category][]string `json:"categories" yaml:"categories"`
	Priorities PriorityRules               `json:"priorities" yaml:"priorities"`
}

// PriorityRules lists the keyword sets for each non-default priority and
// the call length above which a report is at least high priority.
type PriorityRules struct {
	Urgent          []string `json:"urgent" yaml:"urgent"`
	High            []string `json:"high" yaml:"high"`
	Medium          []string `json:"medium" yaml:"medium"`
	LongCallSeconds int      `json:"long_call_seconds" yaml:"long_call_seconds"`
}

// Default returns the baked-in rule tables.
func Default() Rules {
	return Rules{
		Categories: map[types.Category][]string{
			types.CategoryInfrastructure: {"road", "pothole", "bridge", "water", "electricity", "power", "drainage", "streetlight", "pipe", "flood", "sewer", "traffic light"},
			types.CategorySecurity:       {"crime", "theft", "violence", "unsafe", "robbery", "security", "burglary", "assault", "gunshot", "kidnap"},
			types.CategoryHealth:         {"hospital", "clinic", "medical", "health", "disease", "sanitation", "ambulance", "outbreak"},
			types.CategoryEducation:      {"school", "teacher", "education", "student", "classroom"},
			types.CategoryWaste:          {"garbage", "waste", "dump", "refuse", "sanitation", "dirty", "trash", "litter"},
			types.CategoryOther:          {},
		},
		Priorities: PriorityRules{
			Urgent:          []string{"emergency", "urgent", "immediate", "critical", "danger", "fire", "life-threatening", "injured", "bleeding", "explosion", "collapse"},
			High:            []string{"serious", "important", "major", "significant", "hazard"},
			Medium:          []string{"moderate", "concern", "issue", "problem", "broken", "blocking"},
			LongCallSeconds: defaultLongCallSeconds,
		},
	}
}

// Load reads and validates a YAML rules file. Categories or priority sets
// the file omits keep their default keywords.
func Load(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

// document is the on-disk form of Rules. A nil LongCallSeconds means the
// key was absent; an explicit 0 disables the long-call rule.
type document struct {
	Categories map[types.Category][]string `yaml:"categories"`
	Priorities struct {
		Urgent          []string `yaml:"urgent"`
		High            []string `yaml:"high"`
		Medium          []string `yaml:"medium"`
		LongCallSeconds *int     `yaml:"long_call_seconds"`
	} `yaml:"priorities"`
}

// Parse decodes a YAML (or JSON) rules document over the defaults.
func Parse(data []byte) (Rules, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Rules{}, fmt.Errorf("parse rules: %w", err)
	}
	r := Default()
	for cat, kws := range doc.Categories {
		r.Categories[cat] = kws
	}
	if doc.Priorities.Urgent != nil {
		r.Priorities.Urgent = doc.Priorities.Urgent
	}
	if doc.Priorities.High != nil {
		r.Priorities.High = doc.Priorities.High
	}
	if doc.Priorities.Medium != nil {
		r.Priorities.Medium = doc.Priorities.Medium
	}
	if doc.Priorities.LongCallSeconds != nil {
		r.Priorities.LongCallSeconds = *doc.Priorities.LongCallSeconds
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// Validate checks category names, keyword sets and thresholds.
func (r Rules) Validate() error {
	var errs []error
	for cat, kws := range r.Categories {
		if !cat.Valid() {
			errs = append(errs, fmt.Errorf("unknown category %q", cat))
			continue
		}
		if err := validateSet("category "+string(cat), kws); err != nil {
			errs = append(errs, err)
		}
	}
	for name, kws := range map[string][]string{
		"urgent": r.Priorities.Urgent,
		"high":   r.Priorities.High,
		"medium": r.Priorities.Medium,
	} {
		if err := validateSet("priority "+name, kws); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Priorities.LongCallSeconds < 0 {
		errs = append(errs, fmt.Errorf("long_call_seconds must be >= 0, got %d", r.Priorities.LongCallSeconds))
	}
	return errors.Join(errs...)
}

func validateSet(name string, kws []string) error {
	seen := map[string]bool{}
	for _, kw := range kws {
		k := normalize(kw)
		if k == "" {
			return fmt.Errorf("%s: empty keyword", name)
		}
		if seen[k] {
			return fmt.Errorf("%s: duplicate keyword %q", name, kw)
		}
		seen[k] = true
	}
	return nil
}

func normalize(kw string) string {
	return strings.ToLower(strings.TrimSpace(kw))
}

// Keyword is a compiled case-insensitive matcher. A keyword matches when it
// starts on a word boundary, so "road" matches "roads" but "power" does not
// match "empowerment".
type Keyword struct {
	Word string
	re   *regexp.Regexp
}

func compileKeyword(kw string) Keyword {
	w := normalize(kw)
	return Keyword{Word: w, re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w))}
}

// Find returns the byte offsets of every match of k in text.
func (k Keyword) Find(text string) [][]int {
	return k.re.FindAllStringIndex(text, -1)
}

// CategorySet is one category's compiled keywords.
type CategorySet struct {
	Category types.Category
	Keywords []Keyword
}

// Compiled is the immutable, ready-to-match form of Rules.
type Compiled struct {
	Categories      []CategorySet
	Urgent          []Keyword
	High            []Keyword
	Medium          []Keyword
	LongCallSeconds int
}

// Compile validates r and builds matchers in tie-break order.
func (r Rules) Compile() (*Compiled, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	c := &Compiled{LongCallSeconds: r.Priorities.LongCallSeconds}
	for _, cat := range types.Categories {
		c.Categories = append(c.Categories, CategorySet{Category: cat, Keywords: compileAll(r.Categories[cat])})
	}
	c.Urgent = compileAll(r.Priorities.Urgent)
	c.High = compileAll(r.Priorities.High)
	c.Medium = compileAll(r.Priorities.Medium)
	return c, nil
}

// MustCompile is Compile for rule sets known to be valid, such as Default().
func MustCompile(r Rules) *Compiled {
	c, err := r.Compile()
	if err != nil {
		panic(err)
	}
	return c
}

func compileAll(kws []string) []Keyword {
	out := make([]Keyword, 0, len(kws))
	for _, kw := range kws {
		out = append(out, compileKeyword(kw))
	}
	return out
}
