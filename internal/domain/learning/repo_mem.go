package learning

import (
	"encoding/json"
	"io"
	"sort"
	"sync"
)

// MemoryRepository is a mutex-guarded in-process pattern store with
// JSON import/export for persistence between runs.
type MemoryRepository struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{patterns: make(map[string]*Pattern)}
}

func (r *MemoryRepository) Save(p *Pattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.patterns[p.ID] = &cp
	return nil
}

func (r *MemoryRepository) Find(id string) (*Pattern, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patterns[id]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

func (r *MemoryRepository) List() ([]*Pattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Export writes every pattern as a JSON array.
func (r *MemoryRepository) Export(w io.Writer) error {
	patterns, _ := r.List()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(patterns)
}

// Import merges patterns from a JSON array, overwriting same-ID entries.
func (r *MemoryRepository) Import(reader io.Reader) error {
	var patterns []*Pattern
	if err := json.NewDecoder(reader).Decode(&patterns); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range patterns {
		r.patterns[p.ID] = p
	}
	return nil
}
