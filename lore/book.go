package lore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/storymesh/core"
	"gopkg.in/yaml.v3"
)

// Book is the concurrency-safe set of lore entries, keyed by lower-case name.
type Book struct {
	mu      sync.RWMutex
	entries map[string]core.LoreEntry
}

// NewBook creates a Book holding entries.
func NewBook(entries ...core.LoreEntry) *Book {
	b := &Book{}
	b.Replace(entries)
	return b
}

// Replace swaps the whole content of the book. Later entries win on name
// collisions.
func (b *Book) Replace(entries []core.LoreEntry) {
	m := make(map[string]core.LoreEntry, len(entries))
	for _, e := range entries {
		m[strings.ToLower(e.Name)] = normalize(e)
	}
	b.mu.Lock()
	b.entries = m
	b.mu.Unlock()
}

// Get looks an entry up by name, case-insensitively.
func (b *Book) Get(name string) (core.LoreEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[strings.ToLower(name)]
	return e, ok
}

// Entries returns all entries ordered by name.
func (b *Book) Entries() []core.LoreEntry {
	b.mu.RLock()
	out := make([]core.LoreEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

// Len returns the number of entries.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func normalize(e core.LoreEntry) core.LoreEntry {
	cats := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			cats = append(cats, c)
		}
	}
	if len(cats) == 0 {
		cats = []string{core.CommonLoreCategory}
	}
	e.Categories = cats
	e.Keywords = append([]string(nil), e.Keywords...)
	return e
}

// IsLoreFile reports whether path has a YAML extension.
func IsLoreFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// LoadFile parses one lore YAML file.
func LoadFile(path string) (core.LoreEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.LoreEntry{}, err
	}
	var e core.LoreEntry
	if err := yaml.Unmarshal(data, &e); err != nil {
		return core.LoreEntry{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := Validate(e); err != nil {
		return core.LoreEntry{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return normalize(e), nil
}

// Validate checks the required fields of an entry.
func Validate(e core.LoreEntry) error {
	var errs []error
	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(e.Context) == "" {
		errs = append(errs, errors.New("context is required"))
	}
	if len(e.Keywords) == 0 {
		errs = append(errs, errors.New("at least one keyword is required"))
	}
	return errors.Join(errs...)
}

// LoadDir loads every lore file in dir. Invalid files are skipped and
// reported in the joined error; valid entries are still returned. A missing
// directory yields no entries and no error.
func LoadDir(dir string) ([]core.LoreEntry, error) {
	files, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var (
		out  []core.LoreEntry
		errs []error
	)
	for _, f := range files {
		if f.IsDir() || !IsLoreFile(f.Name()) {
			continue
		}
		e, err := LoadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, e)
	}
	return out, errors.Join(errs...)
}
