package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openhearth/hearth/pkg/engine"
)

// Engine evaluates safety policies against computed change lists. It
// implements engine.SafetyGuard.
type Engine struct {
	policies []Policy
	logger   zerolog.Logger
}

// NewEngine creates a policy engine with the built-in safety policies
// loaded.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		policies: BuiltinPolicies(),
		logger:   logger.With().Str("component", "policy").Logger(),
	}
}

// CheckDiff evaluates every enabled policy against the diff. Any
// error-severity violation fails the check with a safety error; the run
// must not proceed.
func (e *Engine) CheckDiff(ctx context.Context, diff *engine.DiffResult) error {
	violations, err := e.Evaluate(ctx, diff)
	if err != nil {
		return engine.NewSafetyError("policy evaluation failed", err).
			WithCode(engine.ErrCodeSafetyViolation)
	}

	for i := range violations {
		if violations[i].Severity == SeverityError {
			return engine.NewSafetyError(violations[i].Message, nil).
				WithResource(violations[i].Resource).
				WithCode(engine.ErrCodeSafetyViolation)
		}
		e.logger.Warn().
			Str("policy", violations[i].Policy).
			Str("resource", violations[i].Resource).
			Msg(violations[i].Message)
	}
	return nil
}

// Evaluate runs every enabled policy against the diff and returns all
// violations, warnings included.
func (e *Engine) Evaluate(ctx context.Context, diff *engine.DiffResult) ([]Violation, error) {
	input, err := diffInput(diff)
	if err != nil {
		return nil, err
	}

	var all []Violation
	for i := range e.policies {
		p := &e.policies[i]
		if !p.Enabled {
			continue
		}
		violations, err := e.evaluatePolicy(ctx, p, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.Name, err)
		}
		all = append(all, violations...)
	}
	return all, nil
}

// evaluatePolicy evaluates a single policy's deny set.
func (e *Engine) evaluatePolicy(ctx context.Context, p *Policy, input interface{}) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(p.Rego))

	r := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.toViolation(p, d))
		}
	}
	return violations, nil
}

// toViolation converts a raw deny result to a Violation.
func (e *Engine) toViolation(p *Policy, result interface{}) Violation {
	v := Violation{
		Policy:     p.Name,
		Severity:   p.Severity,
		DetectedAt: time.Now(),
	}
	switch val := result.(type) {
	case string:
		v.Message = val
	case map[string]interface{}:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := val["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if res, ok := val["resource"].(string); ok {
			v.Resource = res
		}
	}
	return v
}

// diffInput converts the diff to the generic document shape Rego
// evaluates over.
func diffInput(diff *engine.DiffResult) (interface{}, error) {
	data, err := json.Marshal(diff)
	if err != nil {
		return nil, fmt.Errorf("marshal diff: %w", err)
	}
	var input map[string]interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("unmarshal diff: %w", err)
	}
	return input, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "hearth.policies"
}
