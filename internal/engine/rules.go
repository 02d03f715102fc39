package engine

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"syrup-backend/internal/metadata"
)

// RuleEngine evaluates schema-declared validation rules. Programs are
// compiled once per expression and cached for the process lifetime.
type RuleEngine struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

func NewRuleEngine() *RuleEngine {
	return &RuleEngine{programs: make(map[string]*vm.Program)}
}

// Check runs the entity's rules against the candidate record. The rule
// environment exposes the merged record, the prior row (empty on create)
// and the action name. A rule passes when its expression is true.
func (re *RuleEngine) Check(entity *metadata.Entity, record, old map[string]any, action string) error {
	var details []ErrorDetail

	env := map[string]any{
		"record": record,
		"old":    old,
		"action": action,
	}

	for _, rule := range entity.Rules {
		prog, err := re.compile(rule.Expr)
		if err != nil {
			return fmt.Errorf("rule %q on %s: %w", rule.Expr, entity.Name, err)
		}
		out, err := expr.Run(prog, env)
		if err != nil {
			return fmt.Errorf("rule %q on %s: %w", rule.Expr, entity.Name, err)
		}
		ok, _ := out.(bool)
		if ok {
			continue
		}
		msg := rule.Message
		if msg == "" {
			msg = fmt.Sprintf("Rule failed: %s", rule.Expr)
		}
		details = append(details, ErrorDetail{Field: rule.Field, Rule: "rule", Message: msg})
		if rule.StopOnFail {
			break
		}
	}

	if len(details) > 0 {
		return ValidationError(details)
	}
	return nil
}

func (re *RuleEngine) compile(src string) (*vm.Program, error) {
	re.mu.Lock()
	defer re.mu.Unlock()
	if prog, ok := re.programs[src]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	re.programs[src] = prog
	return prog, nil
}
