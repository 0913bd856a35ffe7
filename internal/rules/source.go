package rules

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/t77yq/alert-escalation/internal/model"
)

// document is the on-disk rule format. JSON documents parse as YAML flow mappings.
type document map[string]struct {
	EscalateMinutes  *int `yaml:"escalate_minutes"`
	AutoCloseMinutes *int `yaml:"auto_close_minutes"`
}

// Source is an immutable category -> rule lookup
type Source struct {
	rules map[string]model.RuleEntry
}

// NewSource creates a source from an already loaded mapping
func NewSource(rules map[string]model.RuleEntry) *Source {
	copied := make(map[string]model.RuleEntry, len(rules))
	for category, entry := range rules {
		entry.Category = category
		copied[category] = entry
	}
	return &Source{rules: copied}
}

// Load reads the rule document at path
func Load(path string) (map[string]model.RuleEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return Parse(path, data)
}

// Parse decodes a rule document. path is only used for error reporting.
func Parse(path string, data []byte) (map[string]model.RuleEntry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if doc == nil {
		return nil, &ConfigError{Path: path, Err: errors.New("empty rule document")}
	}

	rules := make(map[string]model.RuleEntry, len(doc))
	for category, raw := range doc {
		if category == "" {
			return nil, &ConfigError{Path: path, Err: errors.New("empty category")}
		}
		entry := model.RuleEntry{Category: category}
		if raw.EscalateMinutes != nil {
			if *raw.EscalateMinutes < 0 {
				return nil, &ConfigError{Path: path, Err: fmt.Errorf("%s: negative escalate_minutes", category)}
			}
			entry.EscalateAfter = time.Duration(*raw.EscalateMinutes) * time.Minute
		}
		if raw.AutoCloseMinutes != nil {
			if *raw.AutoCloseMinutes < 0 {
				return nil, &ConfigError{Path: path, Err: fmt.Errorf("%s: negative auto_close_minutes", category)}
			}
			entry.AutoCloseAfter = time.Duration(*raw.AutoCloseMinutes) * time.Minute
		}
		rules[category] = entry
	}
	return rules, nil
}

// LoadSource loads the rule document and falls back to an empty source on failure
func LoadSource(path string, logger *zap.Logger) *Source {
	logger = logger.Named("rules")
	if path == "" {
		logger.Info("No rule document configured, using engine defaults")
		return NewSource(nil)
	}

	rules, err := Load(path)
	if err != nil {
		logger.Error("Failed to load rules, using engine defaults",
			zap.String("path", path),
			zap.Error(err))
		return NewSource(nil)
	}

	source := NewSource(rules)
	logger.Info("Rules loaded",
		zap.String("path", path),
		zap.Int("count", source.Len()),
		zap.Strings("categories", source.Categories()))
	return source
}

// Lookup returns the rule for category, if one is configured
func (s *Source) Lookup(category string) (model.RuleEntry, bool) {
	if s == nil {
		return model.RuleEntry{}, false
	}
	entry, ok := s.rules[category]
	return entry, ok
}

// Categories returns the configured categories in sorted order
func (s *Source) Categories() []string {
	if s == nil {
		return nil
	}
	categories := make([]string, 0, len(s.rules))
	for category := range s.rules {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

// Len returns the number of configured categories
func (s *Source) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
