package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// snapshotSchemaVersion guards against loading a snapshot written by an
// incompatible future layout. Bump it only on a breaking change to the
// persisted shape below.
const snapshotSchemaVersion = 1

// Snapshot is the persisted form of a Context, suitable for writing to
// a file or a row in internal/snapshotstore. It is a plain value: no
// behavior, no reference to the live Context it was taken from (spec
// §4.8).
type Snapshot struct {
	SchemaVersion int                       `json:"schema_version"`
	ID            string                    `json:"id"`
	TakenAt       time.Time                 `json:"taken_at"`
	Version       int                       `json:"version"`
	Facts         map[string][]snapshotFact `json:"facts"`
	Proposals     map[string][]snapshotProp `json:"proposals"`
	Dirty         []string                  `json:"dirty"`
}

type snapshotFact struct {
	ID                string  `json:"id"`
	Content           any     `json:"content"`
	Producer          string  `json:"producer"`
	Timestamp         time.Time `json:"timestamp"`
	ValidationOutcome string  `json:"validation_outcome,omitempty"`
	ValidatedBy       string  `json:"validated_by,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
}

type snapshotProp struct {
	ID         string    `json:"id"`
	Content    any       `json:"content"`
	Producer   string    `json:"producer"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// TakeSnapshot captures ctx's facts, proposals, dirty keys and version.
// A fact's ResolvesProposalID and ResolvesProposalKey are not persisted,
// and a proposal keeps only the Producer and Timestamp of its
// provenance. Content values must be
// JSON-marshalable for the snapshot to later round-trip through
// encoding/json — the same constraint placed on agents' own Content
// types by any persistence layer they use.
func TakeSnapshot(ctx *Context) Snapshot {
	snap := Snapshot{
		SchemaVersion: snapshotSchemaVersion,
		ID:            uuid.NewString(),
		TakenAt:       time.Now(),
		Version:       ctx.version,
		Facts:         make(map[string][]snapshotFact, len(ctx.facts)),
		Proposals:     make(map[string][]snapshotProp, len(ctx.proposals)),
	}
	for key, facts := range ctx.facts {
		items := make([]snapshotFact, len(facts))
		for i, f := range facts {
			items[i] = snapshotFact{
				ID:                f.ID,
				Content:           f.Content,
				Producer:          f.Provenance.Producer,
				Timestamp:         f.Provenance.Timestamp,
				ValidationOutcome: f.Provenance.ValidationOutcome,
				ValidatedBy:       f.Provenance.ValidatedBy,
				Confidence:        f.Confidence,
			}
		}
		snap.Facts[string(key)] = items
	}
	for key, props := range ctx.proposals {
		items := make([]snapshotProp, len(props))
		for i, p := range props {
			items[i] = snapshotProp{
				ID:         p.ID,
				Content:    p.Content,
				Producer:   p.Provenance.Producer,
				Timestamp:  p.Provenance.Timestamp,
				Confidence: p.Confidence,
			}
		}
		snap.Proposals[string(key)] = items
	}
	for key := range ctx.dirty {
		snap.Dirty = append(snap.Dirty, string(key))
	}
	return snap
}

// Marshal serializes a Snapshot to JSON.
func (s Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot parses a previously marshaled Snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if s.SchemaVersion != snapshotSchemaVersion {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: schema version %d unsupported (want %d)", s.SchemaVersion, snapshotSchemaVersion)
	}
	return s, nil
}

// Restore rebuilds a live Context from a Snapshot. If knownKeys is
// non-nil and strict is true, any key present in the snapshot but
// absent from knownKeys is rejected — a defense against resuming a
// job against a Registry whose agents no longer agree on the set of
// categories in play. With strict false, unknown keys are restored
// as-is so a resumed run can still reason over them even though no
// currently-registered agent declares them.
func Restore(s Snapshot, knownKeys map[ContextKey]bool, strict bool) (*Context, error) {
	ctx := &Context{
		facts:     make(map[ContextKey][]Fact, len(s.Facts)),
		proposals: make(map[ContextKey][]ProposedFact, len(s.Proposals)),
		dirty:     make(map[ContextKey]bool, len(s.Dirty)),
		version:   s.Version,
	}

	for rawKey, items := range s.Facts {
		key := ContextKey(rawKey)
		if strict && knownKeys != nil && !knownKeys[key] {
			return nil, fmt.Errorf("restore snapshot %s: unknown fact key %q", s.ID, rawKey)
		}
		facts := make([]Fact, len(items))
		for i, f := range items {
			facts[i] = Fact{
				ID:      f.ID,
				Content: f.Content,
				Provenance: Provenance{
					Producer:          f.Producer,
					Timestamp:         f.Timestamp,
					ValidationOutcome: f.ValidationOutcome,
					ValidatedBy:       f.ValidatedBy,
				},
				Confidence: f.Confidence,
			}
		}
		ctx.facts[key] = facts
	}

	for rawKey, items := range s.Proposals {
		key := ContextKey(rawKey)
		if strict && knownKeys != nil && !knownKeys[key] {
			return nil, fmt.Errorf("restore snapshot %s: unknown proposal key %q", s.ID, rawKey)
		}
		props := make([]ProposedFact, len(items))
		for i, p := range items {
			props[i] = ProposedFact{
				ID:      p.ID,
				Content: p.Content,
				Provenance: Provenance{
					Producer:  p.Producer,
					Timestamp: p.Timestamp,
				},
				Confidence: p.Confidence,
			}
		}
		ctx.proposals[key] = props
	}

	for _, rawKey := range s.Dirty {
		ctx.dirty[ContextKey(rawKey)] = true
	}

	return ctx, nil
}
