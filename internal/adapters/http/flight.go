package httpadapter

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/farum-voice/internal/app/persona"
	"github.com/PabloGalante/farum-voice/internal/domain"
)

// inflight rejects a second operation on a key while the first one runs.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: make(map[string]struct{})}
}

func (f *inflight) acquire(key string) (release func(), ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, busy := f.keys[key]; busy {
		return nil, false
	}
	f.keys[key] = struct{}{}

	return func() {
		f.mu.Lock()
		delete(f.keys, key)
		f.mu.Unlock()
	}, true
}

const draftTTL = 30 * time.Minute

type draft struct {
	owner   string
	wf      *persona.Workflow
	touched time.Time
}

// draftStore keeps persona workflows between the preview and the confirmation request.
// Drafts live only in memory and expire after draftTTL without use.
type draftStore struct {
	mu    sync.Mutex
	items map[string]*draft
	now   func() time.Time
}

func newDraftStore() *draftStore {
	return &draftStore{
		items: make(map[string]*draft),
		now:   time.Now,
	}
}

func (d *draftStore) put(id domain.Identity, wf *persona.Workflow) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweep()
	key := uuid.NewString()
	d.items[key] = &draft{owner: id.Key(), wf: wf, touched: d.now()}
	return key
}

func (d *draftStore) get(id domain.Identity, key string) (*persona.Workflow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweep()
	it, ok := d.items[key]
	if !ok || it.owner != id.Key() {
		return nil, domain.ErrDraftNotFound
	}
	it.touched = d.now()
	return it.wf, nil
}

func (d *draftStore) remove(id domain.Identity, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	it, ok := d.items[key]
	if !ok || it.owner != id.Key() {
		return domain.ErrDraftNotFound
	}
	delete(d.items, key)
	return nil
}

// sweep must be called with d.mu held.
func (d *draftStore) sweep() {
	cutoff := d.now().Add(-draftTTL)
	for k, it := range d.items {
		if it.touched.Before(cutoff) {
			delete(d.items, k)
		}
	}
}
