// Package store persists ListingRecords as JSON arrays (or JSON lines) on
// disk and merges fresh harvests into them by reference.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"award_spider/internal/models"
)

// Store is the on-disk collection for one facet, keyed by reference.
// It is not safe for concurrent use; each facet owns its own Store.
type Store struct {
	path  string
	order []string
	byRef map[string]models.ListingRecord
	// unkeyed holds loaded records that carry no reference. They cannot be
	// merged against but are written back untouched.
	unkeyed []models.ListingRecord
	// Skipped counts merged records dropped for lack of a reference.
	Skipped int
}

func New(path string) *Store {
	return &Store{path: path, byRef: make(map[string]models.ListingRecord)}
}

// Load opens the store at path. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	s := New(path)
	records, err := ReadRecords(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	for _, r := range records {
		ref := r.Ref()
		if r.Reference == nil {
			s.unkeyed = append(s.unkeyed, r)
			continue
		}
		if _, ok := s.byRef[ref]; !ok {
			s.order = append(s.order, ref)
		}
		s.byRef[ref] = r
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Len() int { return len(s.order) + len(s.unkeyed) }

func (s *Store) Get(ref string) (models.ListingRecord, bool) {
	r, ok := s.byRef[ref]
	return r, ok
}

// Merge upserts records and returns how many references were not yet
// present. An existing reference is replaced in full by the later record.
func (s *Store) Merge(records []models.ListingRecord) int {
	added := 0
	for _, r := range records {
		if r.Reference == nil {
			s.Skipped++
			continue
		}
		ref := *r.Reference
		if _, ok := s.byRef[ref]; !ok {
			s.order = append(s.order, ref)
			added++
		}
		s.byRef[ref] = r
	}
	return added
}

// Records returns unkeyed records first, then keyed ones in insertion order.
func (s *Store) Records() []models.ListingRecord {
	out := make([]models.ListingRecord, 0, s.Len())
	out = append(out, s.unkeyed...)
	for _, ref := range s.order {
		out = append(out, s.byRef[ref])
	}
	return out
}

// Save rewrites the whole file.
func (s *Store) Save() error {
	return WriteRecords(s.path, s.Records())
}

func isJSONL(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".jsonl")
}

// ReadRecords decodes a JSON array file, or a JSON lines file when the path
// ends in .jsonl.
func ReadRecords(path string) ([]models.ListingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isJSONL(path) {
		return decodeLines(data, path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []models.ListingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

func decodeLines(data []byte, path string) ([]models.ListingRecord, error) {
	var records []models.ListingRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var r models.ListingRecord
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", path, line, err)
		}
		records = append(records, r)
	}
	return records, sc.Err()
}

// WriteRecords replaces path with records. The data goes to a temporary
// file in the same directory first and is renamed into place.
func WriteRecords(path string, records []models.ListingRecord) error {
	return writeAtomic(path, func(w io.Writer) error {
		if isJSONL(path) {
			return encodeLines(w, records)
		}
		if records == nil {
			records = []models.ListingRecord{}
		}
		return encodeIndented(w, records)
	})
}

// AppendJSONL appends records to a JSON lines file, creating it if needed.
func AppendJSONL(path string, records []models.ListingRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if err := encodeLines(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeLines(w io.Writer, records []models.ListingRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

func encodeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := write(w); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	// CreateTemp opens 0600; stores are shared with downstream readers.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// SafeName turns a nature label into a file name stem.
func SafeName(label string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "-", "_")
	return r.Replace(strings.ToLower(strings.TrimSpace(label)))
}

// WriteJSON replaces path with v as indented JSON.
func WriteJSON(path string, v any) error {
	return writeAtomic(path, func(w io.Writer) error {
		return encodeIndented(w, v)
	})
}
