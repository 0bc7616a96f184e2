package yamlstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
	"gopkg.in/yaml.v3"
)

var (
	_ core.AgentStore    = (*AgentStore)(nil)
	_ core.LocationStore = (*LocationStore)(nil)
)

const fileExt = ".yml"

// agentRecord is the on-disk agent shape.
type agentRecord struct {
	Role                string               `yaml:"role"`
	Context             string               `yaml:"context"`
	ConversationHistory []core.MessageRecord `yaml:"conversationHistory"`
	Relations           map[string]int       `yaml:"relations,omitempty"`
	Location            string               `yaml:"location"`
	Avatar              string               `yaml:"avatar"`
	KnowledgeCategories []string             `yaml:"knowledgeCategories,omitempty"`
}

// locationRecord is the on-disk location shape.
type locationRecord struct {
	Participants []string `yaml:"participants"`
	Context      []string `yaml:"context"`
	Parent       string   `yaml:"parent,omitempty"`
}

// Options configures the stores.
type Options struct {
	Logger logging.Logger
}

// AgentStore keeps agents in <dir>/npcs.
type AgentStore struct {
	dir  string
	opts Options

	mu     sync.Mutex
	cache  map[string]*core.Agent
	loaded bool
}

// NewAgentStore creates a store rooted at dataDir.
func NewAgentStore(dataDir string, optFns ...func(o *Options)) *AgentStore {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &AgentStore{dir: filepath.Join(dataDir, "npcs"), opts: opts, cache: map[string]*core.Agent{}}
}

// Get returns a copy of the agent, reading its file on first access.
func (s *AgentStore) Get(_ context.Context, name string) (*core.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.getLocked(name)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

func (s *AgentStore) getLocked(name string) (*core.Agent, error) {
	if a, ok := s.cache[name]; ok {
		return a, nil
	}
	path, err := recordPath(s.dir, name)
	if err != nil {
		return nil, err
	}
	var rec agentRecord
	if err := readYAML(path, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("agent %q: %w", name, core.ErrNotFound)
		}
		return nil, err
	}
	a := fromAgentRecord(name, rec)
	if n := len(rec.ConversationHistory) - len(a.Memory); n > 0 {
		s.opts.Logger.Warn("skipped history records with unknown roles", "agent", name, "skipped", n)
	}
	s.cache[name] = a
	return a, nil
}

// Save writes agent to disk and caches it.
func (s *AgentStore) Save(_ context.Context, agent *core.Agent) error {
	if agent == nil {
		return errors.New("save agent: nil agent")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := agent.Clone()
	s.cache[c.Name] = c
	return s.writeLocked(c)
}

// Update applies fn to the agent and writes the result.
func (s *AgentStore) Update(_ context.Context, name string, fn func(a *core.Agent) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.getLocked(name)
	if err != nil {
		return err
	}
	c := a.Clone()
	if err := fn(c); err != nil {
		return err
	}
	c.Name = name
	s.cache[name] = c
	return s.writeLocked(c)
}

// List returns the names of all agents on disk or in the cache.
func (s *AgentStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listNames(s.dir, s.cache)
}

func (s *AgentStore) writeLocked(a *core.Agent) error {
	path, err := recordPath(s.dir, a.Name)
	if err != nil {
		return err
	}
	if err := writeYAML(path, toAgentRecord(a)); err != nil {
		s.opts.Logger.Error("failed to persist agent", "agent", a.Name, "error", err)
		return err
	}
	return nil
}

func toAgentRecord(a *core.Agent) agentRecord {
	return agentRecord{
		Role:                a.Role,
		Context:             a.Context,
		ConversationHistory: core.ToRecords(a.Memory),
		Relations:           a.Relations,
		Location:            a.Location,
		Avatar:              a.Avatar,
		KnowledgeCategories: a.KnowledgeCategories,
	}
}

func fromAgentRecord(name string, rec agentRecord) *core.Agent {
	a := core.NewAgent(name)
	if rec.Role != "" {
		a.Role = rec.Role
	}
	if rec.Location != "" {
		a.Location = rec.Location
	}
	a.Context = rec.Context
	a.Avatar = rec.Avatar
	a.KnowledgeCategories = rec.KnowledgeCategories
	for k, v := range rec.Relations {
		a.Relations[k] = v
	}
	a.Memory, _ = core.FromRecords(rec.ConversationHistory)
	return a
}

// LocationStore keeps locations in <dir>/locations.
type LocationStore struct {
	dir  string
	opts Options

	mu    sync.Mutex
	cache map[string]*core.Location
}

// NewLocationStore creates a store rooted at dataDir.
func NewLocationStore(dataDir string, optFns ...func(o *Options)) *LocationStore {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &LocationStore{dir: filepath.Join(dataDir, "locations"), opts: opts, cache: map[string]*core.Location{}}
}

// Get returns a copy of the location.
func (s *LocationStore) Get(_ context.Context, name string) (*core.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.getLocked(name)
	if err != nil {
		return nil, err
	}
	return l.Clone(), nil
}

func (s *LocationStore) getLocked(name string) (*core.Location, error) {
	if l, ok := s.cache[name]; ok {
		return l, nil
	}
	path, err := recordPath(s.dir, name)
	if err != nil {
		return nil, err
	}
	var rec locationRecord
	if err := readYAML(path, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("location %q: %w", name, core.ErrNotFound)
		}
		return nil, err
	}
	l := &core.Location{Name: name, Participants: rec.Participants, Context: rec.Context, Parent: rec.Parent}
	s.cache[name] = l
	return l, nil
}

// Save writes loc to disk and caches it.
func (s *LocationStore) Save(_ context.Context, loc *core.Location) error {
	if loc == nil {
		return errors.New("save location: nil location")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := loc.Clone()
	s.cache[c.Name] = c
	return s.writeLocked(c)
}

// Update applies fn to the location, creating it when missing.
func (s *LocationStore) Update(_ context.Context, name string, fn func(l *core.Location) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.getLocked(name)
	if errors.Is(err, core.ErrNotFound) {
		l, err = &core.Location{Name: name}, nil
	}
	if err != nil {
		return err
	}
	c := l.Clone()
	if err := fn(c); err != nil {
		return err
	}
	c.Name = name
	s.cache[name] = c
	return s.writeLocked(c)
}

// List returns the names of all locations.
func (s *LocationStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listNames(s.dir, s.cache)
}

func (s *LocationStore) writeLocked(l *core.Location) error {
	path, err := recordPath(s.dir, l.Name)
	if err != nil {
		return err
	}
	rec := locationRecord{Participants: l.Participants, Context: l.Context, Parent: l.Parent}
	if err := writeYAML(path, rec); err != nil {
		s.opts.Logger.Error("failed to persist location", "location", l.Name, "error", err)
		return err
	}
	return nil
}

func recordPath(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid record name %q", name)
	}
	return filepath.Join(dir, name+fileExt), nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeYAML replaces path atomically via a temp file and rename.
func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func listNames[T any](dir string, cache map[string]T) ([]string, error) {
	seen := map[string]struct{}{}
	for n := range cache {
		seen[n] = struct{}{}
	}
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		seen[strings.TrimSuffix(e.Name(), fileExt)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}
