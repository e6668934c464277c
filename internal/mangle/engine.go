// Package mangle wraps Google Mangle (Datalog) into a small, job-scoped
// evaluator used to compile and run invariant programs over a projected
// context. It knows nothing about contexts, facts, or agents directly; it
// only parses, analyzes, and evaluates Datalog programs against a fact
// store, the way internal/invariant needs.
package mangle

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	_ "github.com/google/mangle/packages"
	"github.com/google/mangle/parse"
)

// Config holds engine tuning parameters.
type Config struct {
	// DerivedFactLimit bounds the number of facts a single evaluation may
	// derive, guarding against runaway recursive rules. Zero means
	// unbounded.
	DerivedFactLimit int
	// QueryTimeout is carried in the configuration; no method of Engine
	// reads it, so evaluations and lookups run without a timeout.
	QueryTimeout time.Duration
}

// DefaultConfig returns sane defaults for an invariant evaluation.
func DefaultConfig() Config {
	return Config{
		DerivedFactLimit: 50_000,
		QueryTimeout:     5 * time.Second,
	}
}

// Fact is a predicate application, independent of Mangle's internal ast
// types, so callers outside this package never import github.com/google/mangle.
type Fact struct {
	Predicate string
	Args      []interface{}
}

// String renders the Mangle source notation for the fact.
func (f Fact) String() string {
	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				args[i] = v
			} else {
				args[i] = fmt.Sprintf("%q", v)
			}
		case int:
			args[i] = fmt.Sprintf("%d", v)
		case int64:
			args[i] = fmt.Sprintf("%d", v)
		case float64:
			args[i] = fmt.Sprintf("%f", v)
		case bool:
			if v {
				args[i] = "/true"
			} else {
				args[i] = "/false"
			}
		default:
			args[i] = fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// Engine evaluates a fixed Datalog program against a mutable fact store.
// It is not safe for concurrent Load/Add calls, but GetFacts, HasFacts and
// IsDeclared may be called concurrently once loading is complete; callers serialize
// writes themselves (the engine kernel only ever touches Mangle from the
// single-threaded merge/invariant phase).
type Engine struct {
	cfg Config

	mu             sync.RWMutex
	store          factstore.ConcurrentFactStore
	baseStore      factstore.FactStoreWithRemove
	programInfo    *analysis.ProgramInfo
	queryContext   *mengine.QueryContext
	predicateIndex map[string]ast.PredicateSym
	fragments      []parse.SourceUnit
	factCount      int
}

// NewEngine creates an empty engine. Call LoadProgram before AddFacts.
func NewEngine(cfg Config) *Engine {
	base := factstore.NewSimpleInMemoryStore()
	return &Engine{
		cfg:            cfg,
		baseStore:      base,
		store:          factstore.NewConcurrentFactStore(base),
		predicateIndex: make(map[string]ast.PredicateSym),
	}
}

// LoadProgram parses and analyzes a Datalog source fragment, merging it
// with any previously loaded fragments. Declarations across fragments
// must not collide.
func (e *Engine) LoadProgram(source string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(source)))
	if err != nil {
		return fmt.Errorf("parse program: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.fragments = append(e.fragments, unit)
	if err := e.rebuildLocked(); err != nil {
		return fmt.Errorf("analyze program: %w", err)
	}
	return nil
}

// LoadProgramFile is a convenience wrapper reading a .mg file from disk.
func (e *Engine) LoadProgramFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read program file %s: %w", path, err)
	}
	return e.LoadProgram(string(data))
}

func (e *Engine) rebuildLocked() error {
	var clauses []ast.Clause
	var decls []ast.Decl
	for _, fragment := range e.fragments {
		clauses = append(clauses, fragment.Clauses...)
		decls = append(decls, fragment.Decls...)
	}

	info, err := analysis.AnalyzeOneUnit(parse.SourceUnit{Clauses: clauses, Decls: decls}, nil)
	if err != nil {
		return err
	}
	e.programInfo = info

	e.predicateIndex = make(map[string]ast.PredicateSym, len(info.Decls))
	predToDecl := make(map[ast.PredicateSym]*ast.Decl, len(info.Decls))
	for sym, decl := range info.Decls {
		e.predicateIndex[sym.Symbol] = sym
		predToDecl[sym] = decl
	}

	predToRules := make(map[ast.PredicateSym][]ast.Clause)
	for _, clause := range info.Rules {
		predToRules[clause.Head.Predicate] = append(predToRules[clause.Head.Predicate], clause)
	}

	e.queryContext = &mengine.QueryContext{
		PredToRules: predToRules,
		PredToDecl:  predToDecl,
		Store:       e.store,
	}
	return nil
}

// Reset discards all facts, keeping the loaded program. Used between
// invariant evaluations on successive merges, so one job's Engine can be
// reused across cycles without re-parsing its rule set.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseStore = factstore.NewSimpleInMemoryStore()
	e.store = factstore.NewConcurrentFactStore(e.baseStore)
	e.factCount = 0
	if e.queryContext != nil {
		e.queryContext.Store = e.store
	}
}

// AddFacts inserts extensional facts and evaluates the program to a
// fixpoint, subject to DerivedFactLimit.
func (e *Engine) AddFacts(facts []Fact) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return fmt.Errorf("no program loaded; call LoadProgram first")
	}
	for _, fact := range facts {
		atom, err := e.factToAtomLocked(fact)
		if err != nil {
			return err
		}
		e.store.Add(atom)
		e.factCount++
	}

	stats, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
	if err != nil {
		return fmt.Errorf("evaluate program: %w", err)
	}
	if e.cfg.DerivedFactLimit > 0 {
		total := 0
		for _, n := range stats.Count {
			total += n
		}
		if total > e.cfg.DerivedFactLimit {
			return fmt.Errorf("derived fact limit exceeded: %d > %d", total, e.cfg.DerivedFactLimit)
		}
	}
	return nil
}

func (e *Engine) factToAtomLocked(fact Fact) (ast.Atom, error) {
	sym, ok := e.predicateIndex[fact.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("predicate %s is not declared", fact.Predicate)
	}
	if len(fact.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("predicate %s expects %d args, got %d", fact.Predicate, sym.Arity, len(fact.Args))
	}

	args := make([]ast.BaseTerm, len(fact.Args))
	for i, raw := range fact.Args {
		term, err := convertValueToTerm(raw)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("predicate %s arg %d: %w", fact.Predicate, i, err)
		}
		args[i] = term
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

func convertValueToTerm(value interface{}) (ast.BaseTerm, error) {
	switch v := value.(type) {
	case ast.BaseTerm:
		return v, nil
	case string:
		if strings.HasPrefix(v, "/") {
			return ast.Name(v)
		}
		return ast.String(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case int64:
		return ast.Number(v), nil
	case float64:
		return ast.Float64(v), nil
	case bool:
		if v {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	default:
		return nil, fmt.Errorf("unsupported fact argument type %T", v)
	}
}

// GetFacts returns every fact (extensional or derived) for a predicate.
func (e *Engine) GetFacts(predicate string) ([]Fact, error) {
	e.mu.RLock()
	sym, ok := e.predicateIndex[predicate]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}

	var results []Fact
	err := e.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]interface{}, len(atom.Args))
		for i, arg := range atom.Args {
			args[i] = convertTermToValue(arg)
		}
		results = append(results, Fact{Predicate: predicate, Args: args})
		return nil
	})
	return results, err
}

// HasFacts reports whether any fact for the predicate exists. It is built
// on GetFacts, so the matching facts are materialized before counting.
func (e *Engine) HasFacts(ctx context.Context, predicate string) (bool, error) {
	facts, err := e.GetFacts(predicate)
	if err != nil {
		return false, err
	}
	return len(facts) > 0, nil
}

func convertTermToValue(term ast.BaseTerm) interface{} {
	switch v := term.(type) {
	case ast.Constant:
		switch v.Type {
		case ast.StringType, ast.NameType, ast.BytesType:
			return v.Symbol
		case ast.NumberType:
			return v.NumValue
		case ast.Float64Type:
			return math.Float64frombits(uint64(v.NumValue))
		default:
			return v.String()
		}
	case ast.Variable:
		return v.Symbol
	default:
		return fmt.Sprintf("%v", term)
	}
}

// IsDeclared reports whether a predicate appears in the loaded program's
// declarations.
func (e *Engine) IsDeclared(predicate string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.predicateIndex[predicate]
	return ok
}
