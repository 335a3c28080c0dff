package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	free, err := c.Get("FREE")
	require.NoError(t, err)
	assert.Equal(t, 1, free.MaxAPIKeys)
	assert.True(t, free.Entitled(FeatureCompare))
	assert.False(t, free.Entitled(FeatureBatch))

	ent, err := c.Get("ENTERPRISE")
	require.NoError(t, err)
	// Zero limits mean unlimited.
	assert.Equal(t, 0, ent.RequestsPerDay)
	assert.True(t, ent.Entitled(FeatureVideo))

	_, err = c.Get("NOPE")
	assert.ErrorIs(t, err, ErrUnknownPlan)
	assert.False(t, c.Has("NOPE"))
}

func TestNewCatalogRejectsDuplicatesAndEmptyCodes(t *testing.T) {
	_, err := NewCatalog([]Plan{{Code: "A"}, {Code: "A"}})
	assert.Error(t, err)

	_, err = NewCatalog([]Plan{{Code: ""}})
	assert.Error(t, err)
}

func TestLoadCatalogFromYAML(t *testing.T) {
	content := `
plans:
  - code: STARTER
    label: Starter
    requests_per_day: 250
    max_api_keys: 2
    price_cents_monthly: 900
    features:
      compare: true
      search: true
`
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	p, err := c.Get("STARTER")
	require.NoError(t, err)
	assert.Equal(t, 250, p.RequestsPerDay)
	assert.True(t, p.Entitled(FeatureSearch))
	assert.False(t, p.Entitled(FeatureVideo))
}

func TestLoadCatalogErrors(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("plans: {not a list"), 0644))
	_, err = LoadCatalog(bad)
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("plans: []"), 0644))
	_, err = LoadCatalog(empty)
	assert.Error(t, err)
}
