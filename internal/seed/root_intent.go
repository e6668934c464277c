// Package seed loads the single human-authored starting point of a job
// — a RootIntent — and materializes it into the first engine.Context an
// Engine is run against.
package seed

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kpernyer/converge/engine"
)

// RootIntent is the YAML document an operator writes to start a job: a
// small set of facts, grouped by the ContextKey they belong under,
// authored outside any agent. Every entry becomes a Fact whose
// Provenance.Producer is "human" — it is never subject to an agent's
// idempotency prefix convention, since no agent produced it.
type RootIntent struct {
	Name  string                       `yaml:"name"`
	Facts map[string][]RootIntentFact `yaml:"facts"`
}

// RootIntentFact is one human-authored seed fact.
type RootIntentFact struct {
	ID         string  `yaml:"id"`
	Content    string  `yaml:"content"`
	Confidence *float64 `yaml:"confidence,omitempty"`
}

// Load reads and parses a RootIntent document from path.
func Load(path string) (*RootIntent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read root intent %s: %w", path, err)
	}
	var ri RootIntent
	if err := yaml.Unmarshal(data, &ri); err != nil {
		return nil, fmt.Errorf("parse root intent %s: %w", path, err)
	}
	if ri.Name == "" {
		return nil, fmt.Errorf("root intent %s: name is required", path)
	}
	for key, facts := range ri.Facts {
		seen := make(map[string]bool, len(facts))
		for _, f := range facts {
			if f.ID == "" {
				return nil, fmt.Errorf("root intent %s: key %q has a fact with no id", path, key)
			}
			if seen[f.ID] {
				return nil, fmt.Errorf("root intent %s: key %q has duplicate id %q", path, key, f.ID)
			}
			seen[f.ID] = true
		}
	}
	return &ri, nil
}

// NewContext materializes a RootIntent into the initial Context an
// Engine.Run call seeds with. Every fact is stamped with the same
// timestamp (the moment of materialization, not of authoring) and
// Producer "human".
func NewContext(ri *RootIntent, at time.Time) *engine.Context {
	seeded := make(map[engine.ContextKey][]engine.Fact, len(ri.Facts))
	for key, facts := range ri.Facts {
		items := make([]engine.Fact, len(facts))
		for i, f := range facts {
			items[i] = engine.Fact{
				ID:      f.ID,
				Content: f.Content,
				Provenance: engine.Provenance{
					Producer:  "human",
					Timestamp: at,
				},
				Confidence: f.Confidence,
			}
		}
		seeded[engine.ContextKey(key)] = items
	}
	return engine.NewContext(seeded)
}
