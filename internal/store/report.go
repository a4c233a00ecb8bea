package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"award_spider/internal/models"
)

// DuplicateGroup is a set of records sharing reference, object and buyer.
type DuplicateGroup struct {
	Key     string
	Records []models.ListingRecord
}

func dupKey(r models.ListingRecord) string {
	part := func(s *string) string {
		if s == nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(*s))
	}
	return part(r.Reference) + "|" + part(r.ObjectDescription) + "|" + part(r.Buyer)
}

// FindDuplicates groups records by case-insensitive (reference, object,
// buyer) and returns the groups holding more than one record, in order of
// first appearance.
func FindDuplicates(records []models.ListingRecord) []DuplicateGroup {
	idx := make(map[string]int)
	var groups []DuplicateGroup
	for _, r := range records {
		k := dupKey(r)
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, DuplicateGroup{Key: k})
		}
		groups[i].Records = append(groups[i].Records, r)
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.Records) > 1 {
			out = append(out, g)
		}
	}
	return out
}

// FileCount is the number of top-level items in one JSON file.
type FileCount struct {
	File  string
	Items int
	Err   error
}

// CountItems counts the elements of every .json and .jsonl file directly
// under dir. Unreadable files are reported with Err set.
func CountItems(dir string) ([]FileCount, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var counts []FileCount
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".jsonl")) {
			continue
		}
		n, err := countFile(filepath.Join(dir, name))
		counts = append(counts, FileCount{File: name, Items: n, Err: err})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].File < counts[j].File })
	return counts, nil
}

func countFile(path string) (int, error) {
	if isJSONL(path) {
		records, err := ReadRecords(path)
		return len(records), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case []any:
		return len(t), nil
	case map[string]any:
		return len(t), nil
	default:
		return 1, nil
	}
}
