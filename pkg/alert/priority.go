package alert

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/roshinpv/regulateai/pkg/update"
)

// PriorityPolicy assigns a priority to a new alert.
type PriorityPolicy interface {
	Priority(u update.Update, t UpdateType) Priority
}

// PriorityFunc adapts a function to PriorityPolicy.
type PriorityFunc func(u update.Update, t UpdateType) Priority

func (f PriorityFunc) Priority(u update.Update, t UpdateType) Priority { return f(u, t) }

// DefaultPriority is the built-in table: enforcement and rule changes are
// High; guidance, advisories, bulletins and notices Medium; the rest Low.
func DefaultPriority(t UpdateType) Priority {
	switch t {
	case TypeEnforcementAction, TypeRuleChange:
		return PriorityHigh
	case TypeGuidance, TypeAdvisory, TypeBulletin, TypeNotice:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// TablePolicy applies DefaultPriority.
var TablePolicy = PriorityFunc(func(_ update.Update, t UpdateType) Priority { return DefaultPriority(t) })

// Rule is one CEL priority rule. When is a boolean expression over
// agency_id, update_type, title, content and collector_kind.
type Rule struct {
	Name     string   `yaml:"name"`
	When     string   `yaml:"when"`
	Priority Priority `yaml:"priority"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// RulePolicy evaluates rules in order and falls back to DefaultPriority
// when none matches.
type RulePolicy struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewRulePolicy compiles rules. Every invalid rule is reported.
func NewRulePolicy(rules []Rule) (*RulePolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("agency_id", cel.StringType),
		cel.Variable("update_type", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("content", cel.StringType),
		cel.Variable("collector_kind", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	p := &RulePolicy{logger: slog.Default().With("component", "priority")}
	var errs []error
	for i, r := range rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		if !r.Priority.valid() {
			errs = append(errs, fmt.Errorf("rule %s: unknown priority %q", name, r.Priority))
			continue
		}
		ast, issues := env.Compile(r.When)
		if issues != nil && issues.Err() != nil {
			errs = append(errs, fmt.Errorf("rule %s: compile: %w", name, issues.Err()))
			continue
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			errs = append(errs, fmt.Errorf("rule %s: expression must be boolean, got %s", name, ast.OutputType()))
			continue
		}
		prg, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: program: %w", name, err))
			continue
		}
		r.Name = name
		p.rules = append(p.rules, compiledRule{Rule: r, prg: prg})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// Priority implements PriorityPolicy. A rule that fails to evaluate is
// logged and treated as not matching.
func (p *RulePolicy) Priority(u update.Update, t UpdateType) Priority {
	vars := map[string]any{
		"agency_id":      u.AgencyID,
		"update_type":    string(t),
		"title":          u.Title,
		"content":        u.Content,
		"collector_kind": string(u.CollectorKind),
	}
	for _, r := range p.rules {
		out, _, err := r.prg.Eval(vars)
		if err != nil {
			p.logger.Warn("priority rule failed", "rule", r.Name, "error", err)
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return r.Priority
		}
	}
	return DefaultPriority(t)
}

// Len returns the number of compiled rules.
func (p *RulePolicy) Len() int {
	return len(p.rules)
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule file of the form:
//
//	rules:
//	  - name: sec-enforcement
//	    when: agency_id == "SEC" && update_type == "EnforcementAction"
//	    priority: High
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read priority rules: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse priority rules %s: %w", path, err)
	}
	return f.Rules, nil
}

func (p Priority) valid() bool {
	return p.Rank() > 0
}
