package store

import (
	"os"
	"path/filepath"
	"testing"

	"award_spider/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindDuplicates(t *testing.T) {
	a1 := models.ListingRecord{Reference: models.Str("A"), ObjectDescription: models.Str("Achat"), Buyer: models.Str("Commune")}
	a2 := models.ListingRecord{Reference: models.Str(" a "), ObjectDescription: models.Str("ACHAT"), Buyer: models.Str("commune")}
	b := models.ListingRecord{Reference: models.Str("A"), ObjectDescription: models.Str("Achat"), Buyer: models.Str("Province")}

	groups := FindDuplicates([]models.ListingRecord{a1, b, a2})
	require.Len(t, groups, 1)
	assert.Equal(t, "a|achat|commune", groups[0].Key)
	assert.Len(t, groups[0].Records, 2)
}

func TestCountItems(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`[{},{},{}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "natures.json"), []byte(`{"1":"x","2":"y"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`[`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`hi`), 0o644))

	counts, err := CountItems(dir)
	require.NoError(t, err)
	require.Len(t, counts, 3)

	assert.Equal(t, "a.json", counts[0].File)
	assert.Equal(t, 3, counts[0].Items)
	assert.Equal(t, "broken.json", counts[1].File)
	assert.Error(t, counts[1].Err)
	assert.Equal(t, 2, counts[2].Items)
}
