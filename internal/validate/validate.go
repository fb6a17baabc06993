// Package validate applies declarative business rules to extracted field
// maps and produces per-field verdict tables.
package validate

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/leaseops/leaseverify/internal/model"
)

// Rule is one declarative constraint on a named field. Zero-valued
// checks are skipped, so a rule can combine any subset of them.
type Rule struct {
	Field      string   `yaml:"field"`
	Required   bool     `yaml:"required"`
	Pattern    string   `yaml:"pattern"`
	OneOf      []string `yaml:"one_of"`
	Min        *float64 `yaml:"min"`
	Max        *float64 `yaml:"max"`
	DateFormat string   `yaml:"date_format"`
	MaxLen     int      `yaml:"max_len"`

	re *regexp.Regexp
}

// RuleSet is the rules for one validation pass, keyed by field name.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`

	byField map[string]*Rule
}

// Load reads a YAML rule file and compiles its patterns.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: read rules %s", path)
	}
	return Parse(data)
}

// Parse decodes rule YAML and compiles its patterns.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, eris.Wrap(err, "validate: parse rules")
	}

	rs.byField = make(map[string]*Rule, len(rs.Rules))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.Field == "" {
			return nil, eris.Errorf("validate: rule %d has no field", i)
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, eris.Wrapf(err, "validate: rule for %q", r.Field)
			}
			r.re = re
		}
		rs.byField[r.Field] = r
	}
	return &rs, nil
}

// Engine validates field maps against a rule set.
type Engine struct {
	rules *RuleSet
}

// NewEngine wraps a rule set.
func NewEngine(rules *RuleSet) *Engine {
	return &Engine{rules: rules}
}

// Validate produces one verdict row per field of fm, in field order,
// followed by rows for required fields fm does not carry. Fields with no
// applicable rule pass with an explanatory reason.
func (e *Engine) Validate(fm *model.FieldMap) model.ValidationTable {
	table := make(model.ValidationTable, 0, fm.Len())

	for _, field := range fm.Keys() {
		v, _ := fm.Get(field)
		rendered := v.String()

		rule, ok := e.rules.byField[field]
		if !ok {
			table = append(table, model.ValidationRow{
				Field:  field,
				Value:  rendered,
				Valid:  true,
				Reason: "no rule applied",
			})
			continue
		}

		valid, reason := checkRule(rule, rendered)
		table = append(table, model.ValidationRow{
			Field:  field,
			Value:  rendered,
			Valid:  valid,
			Reason: reason,
		})
	}

	for _, rule := range e.rules.Rules {
		if rule.Required && !fm.Has(rule.Field) {
			table = append(table, model.ValidationRow{
				Field:  rule.Field,
				Value:  model.Absent,
				Valid:  false,
				Reason: "required field missing",
			})
		}
	}

	return table
}

func checkRule(r *Rule, value string) (bool, string) {
	trimmed := strings.TrimSpace(value)

	if r.Required && trimmed == "" {
		return false, "required field is empty"
	}
	if trimmed == "" {
		// Optional and empty: nothing further to check.
		return true, "ok"
	}

	if r.re != nil && !r.re.MatchString(trimmed) {
		return false, fmt.Sprintf("does not match pattern %s", r.Pattern)
	}

	if len(r.OneOf) > 0 {
		found := false
		for _, allowed := range r.OneOf {
			if strings.EqualFold(trimmed, allowed) {
				found = true
				break
			}
		}
		if !found {
			return false, fmt.Sprintf("not one of %s", strings.Join(r.OneOf, ", "))
		}
	}

	if r.Min != nil || r.Max != nil {
		n, err := strconv.ParseFloat(strings.ReplaceAll(trimmed, ",", ""), 64)
		if err != nil {
			return false, "not numeric"
		}
		if r.Min != nil && n < *r.Min {
			return false, fmt.Sprintf("below minimum %v", *r.Min)
		}
		if r.Max != nil && n > *r.Max {
			return false, fmt.Sprintf("above maximum %v", *r.Max)
		}
	}

	if r.DateFormat != "" {
		if _, err := time.Parse(r.DateFormat, trimmed); err != nil {
			return false, fmt.Sprintf("not a date in format %s", r.DateFormat)
		}
	}

	if r.MaxLen > 0 && len(trimmed) > r.MaxLen {
		return false, fmt.Sprintf("longer than %d characters", r.MaxLen)
	}

	return true, "ok"
}
