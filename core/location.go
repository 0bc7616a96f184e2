package core

import "context"

// Location is a named place carrying world-flavor context lines and an
// optional parent. Context resolution walks the parent chain.
type Location struct {
	Name         string   `json:"name" yaml:"-"`
	Participants []string `json:"participants" yaml:"participants"`
	Context      []string `json:"context" yaml:"context"`
	Parent       string   `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// Clone performs a deep copy.
func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}
	c := *l
	c.Participants = append([]string(nil), l.Participants...)
	c.Context = append([]string(nil), l.Context...)
	return &c
}

// LocationStore persists location records.
type LocationStore interface {
	Get(ctx context.Context, name string) (*Location, error)
	Save(ctx context.Context, loc *Location) error
	// Update applies fn to the stored record, creating an empty record named
	// name when none exists.
	Update(ctx context.Context, name string, fn func(l *Location) error) error
}

// maxLocationDepth bounds parent walks so a cyclic chain cannot loop forever.
const maxLocationDepth = 32

// ResolveLocationContext returns the context lines of name followed by those of
// each ancestor, nearest first. Unknown locations end the walk.
func ResolveLocationContext(ctx context.Context, store LocationStore, name string) []string {
	var out []string
	seen := map[string]struct{}{}
	for depth := 0; name != "" && depth < maxLocationDepth; depth++ {
		if _, ok := seen[name]; ok {
			break
		}
		seen[name] = struct{}{}
		loc, err := store.Get(ctx, name)
		if err != nil || loc == nil {
			break
		}
		out = append(out, loc.Context...)
		name = loc.Parent
	}
	return out
}
