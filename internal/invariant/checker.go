package invariant

import (
	"fmt"
	"regexp"

	"github.com/kpernyer/converge/engine"
	"github.com/kpernyer/converge/internal/logging"
	"github.com/kpernyer/converge/internal/mangle"
)

var declHeadPattern = regexp.MustCompile(`(?m)^Decl\s+([a-z_][a-z0-9_]*)\s*\(`)

// redeclaresBasis reports the first basis predicate name bundleText
// attempts to declare for itself, if any.
func redeclaresBasis(bundleText string) (string, bool) {
	for _, match := range declHeadPattern.FindAllStringSubmatch(bundleText, -1) {
		for _, basis := range basisPredicates {
			if match[1] == basis {
				return basis, true
			}
		}
	}
	return "", false
}

// Checker loads a fixed invariant bundle once and re-evaluates it
// against a fresh projection of the context on every Check call. It
// satisfies engine.InvariantChecker.
type Checker struct {
	eng       *mangle.Engine
	validator *mangle.SchemaValidator
	bundle    string
}

// NewChecker parses and analyzes bundleText against the base
// projection, rejecting it if it redeclares a basis predicate,
// references an undeclared one, or fails to parse.
func NewChecker(bundleText string) (*Checker, error) {
	if pred, redeclared := redeclaresBasis(bundleText); redeclared {
		return nil, fmt.Errorf("invariant bundle may not redeclare basis predicate %q", pred)
	}

	validator := mangle.NewSchemaValidator(basisProjection)
	if err := validator.LoadBundle(bundleText); err != nil {
		return nil, fmt.Errorf("load invariant bundle declarations: %w", err)
	}
	if err := validator.ValidateBundle(bundleText); err != nil {
		return nil, fmt.Errorf("validate invariant bundle: %w", err)
	}

	eng := mangle.NewEngine(mangle.DefaultConfig())
	if err := eng.LoadProgram(basisProjection + "\n" + bundleText); err != nil {
		return nil, fmt.Errorf("load invariant bundle: %w", err)
	}

	return &Checker{eng: eng, validator: validator, bundle: bundleText}, nil
}

// Check implements engine.InvariantChecker. It resets the evaluator's
// fact store, re-projects ctx from scratch, evaluates the bundle to a
// fixpoint, and reports every derived violation atom.
func (c *Checker) Check(ctx *engine.Context) ([]engine.InvariantViolation, error) {
	c.eng.Reset()

	facts := Project(ctx)
	if err := c.eng.AddFacts(facts); err != nil {
		return nil, fmt.Errorf("evaluate invariant bundle: %w", err)
	}

	log := logging.Get(logging.CategoryInvariant)
	var violations []engine.InvariantViolation
	for _, pred := range violationPredicates {
		rows, err := c.eng.GetFacts(pred)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", pred, err)
		}
		for _, row := range rows {
			if len(row.Args) != 2 {
				continue
			}
			name, _ := row.Args[0].(string)
			message, _ := row.Args[1].(string)
			violations = append(violations, engine.InvariantViolation{Name: name, Message: message})
			log.Warn("%s: %s: %s", pred, name, message)
		}
	}
	return violations, nil
}

// Reload replaces the evaluated bundle text, re-validating and
// re-parsing it. Nothing in this repository calls it automatically:
// internal/config's BundleWatcher only reports that the file changed.
// It fails closed: on any error the previous bundle keeps running.
func (c *Checker) Reload(bundleText string) error {
	next, err := NewChecker(bundleText)
	if err != nil {
		return err
	}
	c.eng = next.eng
	c.validator = next.validator
	c.bundle = next.bundle
	return nil
}
