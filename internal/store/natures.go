package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"award_spider/internal/models"
)

const natureKeyPrefix = "nature_"

// LoadNatures reads the catalogue mapping id -> label. Keys may be the bare
// numeric id or "nature_<id>". The result is sorted by numeric id.
func LoadNatures(path string) ([]models.Nature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode natures %s: %w", path, err)
	}

	natures := make([]models.Nature, 0, len(raw))
	for key, label := range raw {
		id := strings.TrimPrefix(key, natureKeyPrefix)
		if _, err := strconv.Atoi(id); err != nil {
			return nil, fmt.Errorf("natures %s: bad key %q", path, key)
		}
		natures = append(natures, models.Nature{ID: id, Label: strings.TrimSpace(label)})
	}
	sortNatures(natures)
	return natures, nil
}

// SaveNatures writes the catalogue with bare numeric keys.
func SaveNatures(path string, natures []models.Nature) error {
	raw := make(map[string]string, len(natures))
	for _, n := range natures {
		raw[n.ID] = n.Label
	}
	return writeAtomic(path, func(w io.Writer) error {
		return encodeIndented(w, raw)
	})
}

func sortNatures(natures []models.Nature) {
	sort.Slice(natures, func(i, j int) bool {
		a, _ := strconv.Atoi(natures[i].ID)
		b, _ := strconv.Atoi(natures[j].ID)
		return a < b
	})
}
