package mangle

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/parse"
)

// SchemaValidator prevents invariant bundles from silently drifting: every
// predicate referenced in a rule body must either be declared (the base
// projection facts: fact_key, fact_provenance, fact_confidence, ...) or be
// defined as the head of another rule in the same bundle. A rule over an
// undeclared predicate would simply never fire — indistinguishable at
// runtime from "invariant always holds" — so this is checked eagerly at
// registration instead of discovered by a false negative in production.
type SchemaValidator struct {
	declaredPredicates map[string]bool
	predicateArities   map[string]int
}

// NewSchemaValidator creates a validator seeded with the base projection
// text (the fixed fact_key/fact_provenance/... declarations every
// invariant bundle may read).
func NewSchemaValidator(baseProjectionText string) *SchemaValidator {
	sv := &SchemaValidator{
		declaredPredicates: make(map[string]bool),
		predicateArities:   make(map[string]int),
	}
	if baseProjectionText != "" {
		_ = sv.extractDeclsFromText(baseProjectionText)
	}
	return sv
}

// LoadBundle registers the declarations and rule heads of an invariant
// bundle so later rules in the same or a subsequent bundle may reference
// them.
func (sv *SchemaValidator) LoadBundle(bundleText string) error {
	if err := sv.extractDeclsFromText(bundleText); err != nil {
		return fmt.Errorf("parse bundle declarations: %w", err)
	}
	if err := sv.extractHeadPredicatesFromText(bundleText); err != nil {
		return fmt.Errorf("parse bundle rule heads: %w", err)
	}
	return nil
}

var declPattern = regexp.MustCompile(`(?m)^Decl\s+([a-z_][a-z0-9_]*)\s*\(([^)]*)\)`)

func (sv *SchemaValidator) extractDeclsFromText(text string) error {
	for _, match := range declPattern.FindAllStringSubmatch(text, -1) {
		predicate := match[1]
		sv.declaredPredicates[predicate] = true

		argsStr := strings.TrimSpace(match[2])
		if argsStr == "" {
			sv.predicateArities[predicate] = 0
		} else {
			sv.predicateArities[predicate] = strings.Count(argsStr, ",") + 1
		}
	}
	return nil
}

var headPattern = regexp.MustCompile(`(?m)^([a-z_][a-z0-9_]*)\s*\(`)

func (sv *SchemaValidator) extractHeadPredicatesFromText(text string) error {
	for _, match := range headPattern.FindAllStringSubmatch(text, -1) {
		sv.declaredPredicates[match[1]] = true
	}
	return nil
}

// ValidateRule checks that a single rule's body only references declared
// or already-defined predicates. Facts (no ":-") have no body to check.
func (sv *SchemaValidator) ValidateRule(ruleText string) error {
	parts := strings.SplitN(ruleText, ":-", 2)
	if len(parts) < 2 {
		return nil
	}
	body := parts[1]

	predicatePattern := regexp.MustCompile(`([a-z_][a-z0-9_]*)\s*\(`)
	var undefined []string
	for _, match := range predicatePattern.FindAllStringSubmatch(body, -1) {
		predicate := match[1]
		if sv.isBuiltin(predicate) {
			continue
		}
		if !sv.declaredPredicates[predicate] {
			undefined = append(undefined, predicate)
		}
	}

	if len(undefined) > 0 {
		return fmt.Errorf("rule uses undeclared predicates: %v (declared: %v)",
			undefined, sv.GetDeclaredPredicates())
	}
	return nil
}

// ValidateBundle parses and validates every rule line of an invariant
// bundle, returning the first parse error or a joined list of undeclared-
// predicate errors.
func (sv *SchemaValidator) ValidateBundle(bundleText string) error {
	if _, err := parse.Unit(strings.NewReader(bundleText)); err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if _, err := analysis.AnalyzeOneUnit(mustUnit(bundleText), nil); err != nil {
		return fmt.Errorf("analysis error: %w", err)
	}

	var errs []string
	for i, line := range strings.Split(bundleText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, ":-") {
			if err := sv.ValidateRule(line); err != nil {
				errs = append(errs, fmt.Sprintf("line %d: %v", i+1, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invariant bundle validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func mustUnit(text string) parse.SourceUnit {
	unit, err := parse.Unit(strings.NewReader(text))
	if err != nil {
		return parse.SourceUnit{}
	}
	return unit
}

func (sv *SchemaValidator) isBuiltin(predicate string) bool {
	builtins := map[string]bool{
		"count": true, "sum": true, "min": true, "max": true, "avg": true,
		"bound": true, "applyFn": true, "fn": true, "match": true, "collect": true,
	}
	return builtins[predicate]
}

// IsDeclared reports whether a predicate is declared or defined as a rule
// head in a loaded bundle.
func (sv *SchemaValidator) IsDeclared(predicate string) bool {
	return sv.declaredPredicates[predicate]
}

// GetDeclaredPredicates returns all known predicate names.
func (sv *SchemaValidator) GetDeclaredPredicates() []string {
	predicates := make([]string, 0, len(sv.declaredPredicates))
	for p := range sv.declaredPredicates {
		predicates = append(predicates, p)
	}
	return predicates
}

// GetArity returns the declared arity for a predicate, or -1 if unknown.
func (sv *SchemaValidator) GetArity(predicate string) int {
	if arity, ok := sv.predicateArities[predicate]; ok {
		return arity
	}
	return -1
}

// CheckArity validates a call site's argument count against the declared
// arity. An unknown arity is not an error — only the undeclared-predicate
// check above is load-bearing for drift prevention.
func (sv *SchemaValidator) CheckArity(predicate string, actualArity int) error {
	expected := sv.GetArity(predicate)
	if expected < 0 {
		return nil
	}
	if expected != actualArity {
		return fmt.Errorf("arity mismatch for %s: expected %d arguments, got %d", predicate, expected, actualArity)
	}
	return nil
}
