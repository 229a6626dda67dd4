package speaker

import "sync"

// Bindings maps session speakers to persistent character ids. Unbound
// speakers are analyzed but never merged, so binding is an explicit
// operator action.
type Bindings struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewBindings() *Bindings {
	return &Bindings{m: make(map[string]string)}
}

func (b *Bindings) Bind(speakerID, characterID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[speakerID] = characterID
}

func (b *Bindings) Unbind(speakerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, speakerID)
}

// Resolve returns the bound character id, if any.
func (b *Bindings) Resolve(speakerID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.m[speakerID]
	return id, ok
}

// All snapshots the current bindings.
func (b *Bindings) All() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.m))
	for k, v := range b.m {
		out[k] = v
	}
	return out
}
