// Package catalog holds the immutable activity definitions and the generic
// runner that executes them. Activity content is data; there is one runner
// for every screen.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"example.com/rewards/internal/domain"
)

// Badge is the catalog-side badge descriptor for an activity.
type Badge struct {
	Name      string `json:"name"`
	ImageURL  string `json:"image_url"`
	Threshold int64  `json:"threshold,omitempty"`
}

// ActivityDefinition is one learning activity: identity, reward envelope,
// optional badge, and the declarative question set the runner executes.
type ActivityDefinition struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	QuestionCount   int        `json:"question_count"`
	TotalCoinReward int64      `json:"total_coin_reward"`
	TotalXPReward   int64      `json:"total_xp_reward"`
	Levels          int        `json:"levels,omitempty"`
	Badge           *Badge     `json:"badge,omitempty"`
	Questions       []Question `json:"questions,omitempty"`
}

// BadgeDescriptor converts the catalog badge into the ledger's form.
func (d ActivityDefinition) BadgeDescriptor() *domain.BadgeDescriptor {
	if d.Badge == nil {
		return nil
	}
	return &domain.BadgeDescriptor{
		Name:      d.Badge.Name,
		ImageURL:  d.Badge.ImageURL,
		Threshold: d.Badge.Threshold,
	}
}

// Catalog is the ordered, immutable set of activity definitions. The position
// of a definition in the source data is its ordinal, which prices replay
// unlocks.
type Catalog struct {
	defs []ActivityDefinition
	byID map[string]int
}

// New builds a Catalog from definitions in catalog order.
func New(defs []ActivityDefinition) (*Catalog, error) {
	byID := make(map[string]int, len(defs))
	for i, def := range defs {
		if err := validateDefinition(def); err != nil {
			return nil, fmt.Errorf("definition %d: %w", i+1, err)
		}
		if _, exists := byID[def.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate activity id %q", domain.ErrValidation, def.ID)
		}
		byID[def.ID] = i
	}
	return &Catalog{defs: defs, byID: byID}, nil
}

// Load parses a JSON array of activity definitions.
func Load(r io.Reader) (*Catalog, error) {
	var defs []ActivityDefinition
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&defs); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return New(defs)
}

func validateDefinition(def ActivityDefinition) error {
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("%w: activity id is required", domain.ErrValidation)
	}
	if def.QuestionCount < 0 || def.TotalCoinReward < 0 || def.TotalXPReward < 0 {
		return fmt.Errorf("%w: negative counts in %q", domain.ErrValidation, def.ID)
	}
	if len(def.Questions) > 0 && def.QuestionCount != len(def.Questions) {
		return fmt.Errorf("%w: question_count mismatch in %q", domain.ErrValidation, def.ID)
	}
	for i, q := range def.Questions {
		if err := q.validate(); err != nil {
			return fmt.Errorf("%w: question %d of %q: %v", domain.ErrValidation, i+1, def.ID, err)
		}
	}
	return nil
}

// Get returns the definition for an activity id.
func (c *Catalog) Get(activityID string) (ActivityDefinition, bool) {
	idx, ok := c.byID[activityID]
	if !ok {
		return ActivityDefinition{}, false
	}
	return c.defs[idx], true
}

// Ordinal returns the 1-based catalog position for an activity id.
func (c *Catalog) Ordinal(activityID string) (int, bool) {
	idx, ok := c.byID[activityID]
	if !ok {
		return 0, false
	}
	return idx + 1, true
}

// Len reports the number of activities in the catalog.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// All returns the definitions in catalog order.
func (c *Catalog) All() []ActivityDefinition {
	out := make([]ActivityDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}
