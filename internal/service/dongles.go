package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"headset_monitor/internal/models"
	"headset_monitor/internal/repository"
)

// IsDongleName reports whether a detected device name describes a receiver dongle.
func IsDongleName(name string) bool {
	return strings.Contains(strings.ToLower(name), "dongle")
}

// DongleTable tracks the connected receivers of this host.
type DongleTable struct {
	mu           sync.RWMutex
	repo         repository.DongleRepo
	hostname     string
	writeTimeout time.Duration
	now          func() time.Time

	dongles map[string]models.Dongle
}

func NewDongleTable(repo repository.DongleRepo, hostname string, writeTimeout time.Duration, now func() time.Time) *DongleTable {
	if now == nil {
		now = time.Now
	}
	return &DongleTable{
		repo:         repo,
		hostname:     hostname,
		writeTimeout: writeTimeout,
		now:          now,
		dongles:      make(map[string]models.Dongle),
	}
}

// Connected marks the dongle connected, keeping a previous headset association.
func (t *DongleTable) Connected(ctx context.Context, id, name string) (models.Dongle, error) {
	t.mu.Lock()
	d, ok := t.dongles[id]
	if !ok {
		d = models.Dongle{ID: id, Hostname: t.hostname}
	}
	if name != "" {
		d.Name = name
	}
	d.Connected = true
	d.LastSeen = t.now().UTC()
	t.dongles[id] = d
	t.mu.Unlock()

	return copyDongle(d), t.persist(ctx, d)
}

// Disconnected marks the dongle disconnected. The second result is false for unknown ids.
func (t *DongleTable) Disconnected(ctx context.Context, id string) (models.Dongle, bool, error) {
	t.mu.Lock()
	d, ok := t.dongles[id]
	if !ok {
		t.mu.Unlock()
		return models.Dongle{}, false, nil
	}
	d.Connected = false
	d.LastSeen = t.now().UTC()
	t.dongles[id] = d
	t.mu.Unlock()

	return copyDongle(d), true, t.persist(ctx, d)
}

// Associate binds headsetID to a known dongle, replacing any previous binding.
func (t *DongleTable) Associate(ctx context.Context, dongleID, headsetID string) (models.Dongle, bool, error) {
	t.mu.Lock()
	d, ok := t.dongles[dongleID]
	if !ok {
		t.mu.Unlock()
		return models.Dongle{}, false, nil
	}
	// a headset is served by one receiver at a time
	var released []models.Dongle
	for id, other := range t.dongles {
		if id != dongleID && other.HeadsetID != nil && *other.HeadsetID == headsetID {
			other.HeadsetID = nil
			t.dongles[id] = other
			released = append(released, other)
		}
	}
	hs := headsetID
	d.HeadsetID = &hs
	t.dongles[dongleID] = d
	t.mu.Unlock()

	var errs []error
	for _, other := range released {
		errs = append(errs, t.persist(ctx, other))
	}
	errs = append(errs, t.persist(ctx, d))
	return copyDongle(d), true, errors.Join(errs...)
}

// List returns connected dongles ordered by id.
func (t *DongleTable) List() []models.Dongle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Dongle, 0, len(t.dongles))
	for _, d := range t.dongles {
		if d.Connected {
			out = append(out, copyDongle(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load restores associations from the store. Every dongle starts disconnected.
func (t *DongleTable) Load(ctx context.Context) error {
	rctx, cancel := withTimeout(ctx, t.writeTimeout)
	defer cancel()
	list, err := t.repo.List(rctx, t.hostname)
	if err != nil {
		return storageErr("load dongles", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range list {
		d.Connected = false
		t.dongles[d.ID] = d
	}
	return nil
}

func (t *DongleTable) persist(ctx context.Context, d models.Dongle) error {
	wctx, cancel := withTimeout(ctx, t.writeTimeout)
	defer cancel()
	return storageErr("upsert dongle", t.repo.Upsert(wctx, d))
}

func copyDongle(d models.Dongle) models.Dongle {
	if d.HeadsetID != nil {
		v := *d.HeadsetID
		d.HeadsetID = &v
	}
	return d
}
