package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefs() []LabelDefinition {
	return []LabelDefinition{
		{
			TriggerKey: "3jzfcijpj2z2a",
			Identifier: "pvp",
			Category:   CategoryPVP,
			Locales:    []Locale{{Lang: "en", Name: "PvP", Description: "open to player-versus-player"}},
		},
		{
			TriggerKey: "3jzfcijpj2z2b",
			Identifier: "pve",
			Category:   CategoryPVE,
			Locales:    []Locale{{Lang: "en", Name: "PvE", Description: "player-versus-environment only"}},
		},
		{
			TriggerKey: "3jzfcijpj2z2c",
			Identifier: "rp",
			Category:   CategoryRP,
			Locales:    []Locale{{Lang: "en", Name: "RP", Description: "roleplay account"}},
		},
	}
}

func TestParseCategory(t *testing.T) {
	for _, ident := range []string{"pvp", "pve", "rp"} {
		cat, err := ParseCategory(ident)
		require.NoError(t, err)
		assert.Equal(t, ident, string(cat))
	}

	for _, ident := range []string{"", "PVP", "pvpp", "nsfw", "other"} {
		_, err := ParseCategory(ident)
		assert.Error(t, err, "expected error for %q", ident)
	}
}

func TestCatalogMatch(t *testing.T) {
	c, err := NewCatalog(testDefs())
	require.NoError(t, err)
	assert.Equal(t, 3, c.Size())

	def := c.Match("3jzfcijpj2z2a")
	require.NotNil(t, def)
	assert.Equal(t, "pvp", def.Identifier)
	assert.Equal(t, CategoryPVP, def.Category)

	// unknown trigger keys resolve to nothing, not an error
	assert.Nil(t, c.Match("zzzzzzzzzzzzz"))
	assert.Nil(t, c.Match(""))
}

func TestCatalogValidation(t *testing.T) {
	t.Run("short trigger key", func(t *testing.T) {
		defs := testDefs()
		defs[0].TriggerKey = "short"
		_, err := NewCatalog(defs)
		assert.Error(t, err)
	})

	t.Run("bad category", func(t *testing.T) {
		defs := testDefs()
		defs[1].Category = "spicy"
		_, err := NewCatalog(defs)
		assert.Error(t, err)
	})

	t.Run("missing locales", func(t *testing.T) {
		defs := testDefs()
		defs[2].Locales = nil
		_, err := NewCatalog(defs)
		assert.Error(t, err)
	})

	t.Run("duplicate trigger key", func(t *testing.T) {
		defs := testDefs()
		defs[1].TriggerKey = defs[0].TriggerKey
		_, err := NewCatalog(defs)
		assert.Error(t, err)
	})

	t.Run("empty identifier", func(t *testing.T) {
		defs := testDefs()
		defs[0].Identifier = ""
		_, err := NewCatalog(defs)
		assert.Error(t, err)
	})
}

func TestLoadFromFileJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "labels.json")
	blob := `[
		{"rkey": "3jzfcijpj2z2a", "identifier": "pvp", "category": "pvp",
		 "locales": [{"lang": "en", "name": "PvP", "description": "open world pvp"}]}
	]`
	require.NoError(t, os.WriteFile(p, []byte(blob), 0644))

	c, err := LoadFromFileJSON(p)
	require.NoError(t, err)
	require.NotNil(t, c.Match("3jzfcijpj2z2a"))
	assert.Equal(t, []string{"pvp"}, c.Identifiers())

	_, err = LoadFromFileJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
