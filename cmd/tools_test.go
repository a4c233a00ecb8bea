package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"award_spider/internal/models"
	"award_spider/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		cleanOutDir = ""
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  data_dir: "+dataDir+"\n"), 0o644))
	return path
}

func TestCleanCommand(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, store.WriteRecords(filepath.Join(dataDir, "travaux.json"), []models.ListingRecord{
		{Reference: models.Str("A"), IsAwarded: true, AwardedCompany: models.Str("X"), Amount: models.Str("1 500,25 MAD")},
		{Reference: models.Str("B")},
	}))
	require.NoError(t, store.SaveNatures(filepath.Join(dataDir, "natures.json"), []models.Nature{{ID: "1", Label: "Travaux"}}))

	out := runCLI(t, "clean", "--config", writeConfig(t, dataDir))
	assert.Contains(t, out, "travaux.json: 1 awarded records")
	assert.NotContains(t, out, "natures.json")

	data, err := os.ReadFile(filepath.Join(dataDir, "cleaned", "travaux.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"montant": 1500.25`)
}

func TestCountCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`[1,2]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`[3]`), 0o644))

	out := runCLI(t, "count", dir)
	assert.Contains(t, out, "a.json: 2")
	assert.Contains(t, out, "total: 3")
}

func TestDuplicatesCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	rec := models.ListingRecord{Reference: models.Str("A"), ObjectDescription: models.Str("Achat"), Buyer: models.Str("Commune")}
	require.NoError(t, store.WriteRecords(path, []models.ListingRecord{rec, rec, {Reference: models.Str("B")}}))

	out := runCLI(t, "duplicates", path)
	assert.Contains(t, out, "2x a|achat|commune")
	assert.Contains(t, out, "3 records, 1 duplicate groups, 1 redundant")
}

func TestValidateCommand(t *testing.T) {
	dataDir := t.TempDir()
	good := filepath.Join(dataDir, "travaux.json")
	require.NoError(t, store.WriteRecords(good, []models.ListingRecord{
		{Reference: models.Str("A"), IsAwarded: true, AwardedCompany: models.Str("X"), Amount: models.Str("10")},
	}))
	out := runCLI(t, "validate", good)
	assert.Contains(t, out, "travaux.json: ok")

	bad := filepath.Join(dataDir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"reference": 12}]`), 0o644))
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"validate", good, bad})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 files")
	assert.Contains(t, buf.String(), "bad.json:")
}
