// Package catalog holds the static set of marker-post label definitions
// and resolves trigger keys against it. The catalog is loaded once at
// startup and never mutated afterwards.
package catalog

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// Category is the closed classification assigned to every label definition.
type Category string

const (
	CategoryPVP Category = "pvp"
	CategoryPVE Category = "pve"
	CategoryRP  Category = "rp"
)

// TriggerKeyLength is the exact length of a marker-post record key (a TID).
const TriggerKeyLength = 13

// ParseCategory validates that ident is a member of the closed category
// enumeration. Anything else is an error, never coerced.
func ParseCategory(ident string) (Category, error) {
	switch Category(ident) {
	case CategoryPVP, CategoryPVE, CategoryRP:
		return Category(ident), nil
	}
	return "", fmt.Errorf("unknown label category: %q", ident)
}

// Locale is one localized name/description pair for a label.
type Locale struct {
	Lang        string `json:"lang"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LabelDefinition is one immutable catalog entry: liking the marker post
// with record key TriggerKey applies the label Identifier to the liker.
type LabelDefinition struct {
	TriggerKey string   `json:"rkey"`
	Identifier string   `json:"identifier"`
	Category   Category `json:"category"`
	Locales    []Locale `json:"locales"`
}

func (d *LabelDefinition) validate() error {
	if len(d.TriggerKey) != TriggerKeyLength {
		return fmt.Errorf("trigger key %q: must be exactly %d characters", d.TriggerKey, TriggerKeyLength)
	}
	if d.Identifier == "" {
		return fmt.Errorf("trigger key %q: empty label identifier", d.TriggerKey)
	}
	if _, err := ParseCategory(string(d.Category)); err != nil {
		return fmt.Errorf("label %q: %w", d.Identifier, err)
	}
	if len(d.Locales) == 0 {
		return fmt.Errorf("label %q: at least one locale is required", d.Identifier)
	}
	return nil
}

// Catalog is an immutable trigger-key lookup table.
type Catalog struct {
	defs map[string]*LabelDefinition
}

// NewCatalog validates every definition and builds the lookup table.
func NewCatalog(defs []LabelDefinition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]*LabelDefinition, len(defs))}
	for i := range defs {
		d := defs[i]
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, ok := c.defs[d.TriggerKey]; ok {
			return nil, fmt.Errorf("duplicate trigger key: %q", d.TriggerKey)
		}
		c.defs[d.TriggerKey] = &d
	}
	return c, nil
}

// LoadFromFileJSON reads a catalog from a JSON array of label definitions.
func LoadFromFileJSON(p string) (*Catalog, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	var defs []LabelDefinition
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parsing label catalog: %w", err)
	}
	return NewCatalog(defs)
}

// Match resolves a trigger key to its label definition, or nil if the key
// is not one of the recognized triggers.
func (c *Catalog) Match(triggerKey string) *LabelDefinition {
	return c.defs[triggerKey]
}

// Size returns the number of definitions in the catalog.
func (c *Catalog) Size() int {
	return len(c.defs)
}

// Identifiers returns the label identifiers of every definition, mostly
// for startup logging.
func (c *Catalog) Identifiers() []string {
	out := make([]string, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d.Identifier)
	}
	return out
}
