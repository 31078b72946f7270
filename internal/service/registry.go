package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"headset_monitor/internal/models"
	"headset_monitor/internal/repository"

	"github.com/google/uuid"
)

// RegisterInput describes a new device. Empty Color picks the next free palette color.
type RegisterInput struct {
	ID              string  `json:"id,omitempty"`
	SerialNumber    *string `json:"serial_number,omitempty"`
	Name            string  `json:"name,omitempty"`
	Model           string  `json:"model,omitempty"`
	Color           string  `json:"color,omitempty"`
	Number          *int    `json:"number,omitempty"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`
}

// DevicePatch lists the mutable identity fields. Nil fields are left untouched.
type DevicePatch struct {
	Name            *string `json:"name,omitempty"`
	Color           *string `json:"color,omitempty"`
	Number          *int    `json:"number,omitempty"`
	Model           *string `json:"model,omitempty"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`
}

// Registry owns the durable identity of every registered device on this host.
// Writes go to memory first; failed store writes stay dirty until FlushPending succeeds.
type Registry struct {
	mu           sync.RWMutex
	repo         repository.DeviceRepo
	hostname     string
	defaultModel string
	now          func() time.Time
	writeTimeout time.Duration

	devices map[string]models.Device
	dirty   map[string]struct{} // pending upserts
	deleted map[string]struct{} // pending deletes
}

func NewRegistry(repo repository.DeviceRepo, hostname, defaultModel string, now func() time.Time, writeTimeout time.Duration) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		repo:         repo,
		hostname:     hostname,
		defaultModel: defaultModel,
		now:          now,
		writeTimeout: writeTimeout,
		devices:      make(map[string]models.Device),
		dirty:        make(map[string]struct{}),
		deleted:      make(map[string]struct{}),
	}
}

// Load replaces the in-memory registry with the devices stored for this host.
func (r *Registry) Load(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, r.writeTimeout)
	defer cancel()

	list, err := r.repo.List(ctx, r.hostname)
	if err != nil {
		return storageErr("load devices", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]models.Device, len(list))
	for _, d := range list {
		r.devices[d.ID] = d
	}
	return nil
}

// Register validates and stores a new device. On a store failure the device is kept
// in memory and the returned error is a *StorageError.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (models.Device, error) {
	r.mu.Lock()
	policy := r.policyLocked()

	color := strings.TrimSpace(in.Color)
	if color == "" {
		next, err := policy.NextAvailableColor()
		if err != nil {
			r.mu.Unlock()
			return models.Device{}, err
		}
		color = next
	}

	id := strings.TrimSpace(in.ID)
	if err := policy.check(color, id); err != nil {
		r.mu.Unlock()
		return models.Device{}, err
	}
	if in.SerialNumber != nil && *in.SerialNumber != "" {
		if owner, ok := r.bySerialLocked(*in.SerialNumber); ok {
			r.mu.Unlock()
			return models.Device{}, fmt.Errorf("%w: %s belongs to %s", ErrSerialInUse, *in.SerialNumber, owner.ID)
		}
	}
	if id == "" {
		id = newDeviceID()
	} else if _, exists := r.devices[id]; exists {
		r.mu.Unlock()
		return models.Device{}, fmt.Errorf("%w: %s", ErrIDInUse, id)
	}
	if len(r.devices) >= MaxDevices() {
		r.mu.Unlock()
		return models.Device{}, ErrNoColorAvailable
	}

	number := r.nextNumberLocked()
	if in.Number != nil && *in.Number > 0 {
		number = *in.Number
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = fmt.Sprintf("Headset %d", number)
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = r.defaultModel
	}

	now := r.now().UTC()
	d := models.Device{
		ID:              id,
		Hostname:        r.hostname,
		SerialNumber:    nonEmpty(in.SerialNumber),
		Name:            name,
		Model:           model,
		Color:           color,
		Number:          number,
		FirmwareVersion: nonEmpty(in.FirmwareVersion),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.devices[id] = d
	delete(r.deleted, id)
	r.mu.Unlock()

	return d, r.persist(ctx, d)
}

// Update applies patch to device id. Color changes are validated against other devices.
func (r *Registry) Update(ctx context.Context, id string, patch DevicePatch) (models.Device, error) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return models.Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if patch.Color != nil {
		if err := r.policyLocked().check(*patch.Color, id); err != nil {
			r.mu.Unlock()
			return models.Device{}, err
		}
		d.Color = *patch.Color
	}
	if patch.Name != nil {
		d.Name = *patch.Name
	}
	if patch.Number != nil {
		d.Number = *patch.Number
	}
	if patch.Model != nil {
		d.Model = *patch.Model
	}
	if patch.FirmwareVersion != nil {
		d.FirmwareVersion = nonEmpty(patch.FirmwareVersion)
	}
	d.UpdatedAt = r.now().UTC()
	r.devices[id] = d
	r.mu.Unlock()

	return d, r.persist(ctx, d)
}

// Remove deletes device id and releases its color and number.
func (r *Registry) Remove(ctx context.Context, id string) (models.Device, error) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return models.Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.devices, id)
	delete(r.dirty, id)
	r.mu.Unlock()

	wctx, cancel := withTimeout(ctx, r.writeTimeout)
	defer cancel()
	if err := r.repo.Delete(wctx, id); err != nil {
		r.mu.Lock()
		r.deleted[id] = struct{}{}
		r.mu.Unlock()
		return d, storageErr("delete device", err)
	}
	return d, nil
}

// Get returns a copy of device id.
func (r *Registry) Get(id string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// FindBySerial returns the device registered with serial.
func (r *Registry) FindBySerial(serial string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySerialLocked(serial)
}

// List returns all devices ordered by number.
func (r *Registry) List() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Policy returns a color policy over the current registry.
func (r *Registry) Policy() ColorPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policyLocked()
}

// Pending reports the number of writes waiting for the next flush.
func (r *Registry) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dirty) + len(r.deleted)
}

// FlushPending retries failed deletes first, then failed upserts.
func (r *Registry) FlushPending(ctx context.Context) error {
	r.mu.RLock()
	deletes := make([]string, 0, len(r.deleted))
	for id := range r.deleted {
		deletes = append(deletes, id)
	}
	upserts := make([]models.Device, 0, len(r.dirty))
	for id := range r.dirty {
		if d, ok := r.devices[id]; ok {
			upserts = append(upserts, d)
		}
	}
	r.mu.RUnlock()
	sort.Strings(deletes)
	sortDevices(upserts)

	var errs []error
	for _, id := range deletes {
		r.mu.Lock()
		_, back := r.devices[id]
		if back {
			// re-registered under the same id since the failed delete
			delete(r.deleted, id)
		}
		r.mu.Unlock()
		if back {
			continue
		}

		wctx, cancel := withTimeout(ctx, r.writeTimeout)
		err := r.repo.Delete(wctx, id)
		cancel()
		if err != nil {
			errs = append(errs, storageErr("delete device", err))
			continue
		}
		r.mu.Lock()
		delete(r.deleted, id)
		if _, ok := r.devices[id]; ok {
			r.dirty[id] = struct{}{}
		}
		r.mu.Unlock()
	}
	for _, d := range upserts {
		wctx, cancel := withTimeout(ctx, r.writeTimeout)
		err := r.repo.Upsert(wctx, d)
		cancel()
		if err != nil {
			errs = append(errs, storageErr("upsert device", err))
			continue
		}
		if err := r.reconcileUpsert(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reconcileUpsert runs after a flushed upsert of d. A Remove that landed during the write
// has already deleted the row, so the stale upsert is undone. A newer in-memory version
// stays dirty for the next flush.
func (r *Registry) reconcileUpsert(ctx context.Context, d models.Device) error {
	r.mu.Lock()
	cur, ok := r.devices[d.ID]
	switch {
	case !ok:
		delete(r.dirty, d.ID)
		r.deleted[d.ID] = struct{}{}
	case cur.UpdatedAt.Equal(d.UpdatedAt):
		delete(r.dirty, d.ID)
	default:
		r.dirty[d.ID] = struct{}{}
	}
	r.mu.Unlock()
	if ok {
		return nil
	}

	wctx, cancel := withTimeout(ctx, r.writeTimeout)
	err := r.repo.Delete(wctx, d.ID)
	cancel()
	if err != nil {
		return storageErr("delete device", err)
	}
	r.mu.Lock()
	delete(r.deleted, d.ID)
	if _, back := r.devices[d.ID]; back {
		r.dirty[d.ID] = struct{}{}
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) persist(ctx context.Context, d models.Device) error {
	wctx, cancel := withTimeout(ctx, r.writeTimeout)
	defer cancel()
	if err := r.repo.Upsert(wctx, d); err != nil {
		r.mu.Lock()
		r.dirty[d.ID] = struct{}{}
		r.mu.Unlock()
		return storageErr("upsert device", err)
	}
	r.mu.Lock()
	delete(r.dirty, d.ID)
	r.mu.Unlock()
	return nil
}

func (r *Registry) policyLocked() ColorPolicy {
	return NewColorPolicy(r.listLocked())
}

func (r *Registry) listLocked() []models.Device {
	out := make([]models.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sortDevices(out)
	return out
}

func (r *Registry) bySerialLocked(serial string) (models.Device, bool) {
	for _, d := range r.devices {
		if d.SerialNumber != nil && *d.SerialNumber == serial {
			return d, true
		}
	}
	return models.Device{}, false
}

// nextNumberLocked returns max+1; gaps left by removals are not refilled.
func (r *Registry) nextNumberLocked() int {
	highest := 0
	for _, d := range r.devices {
		if d.Number > highest {
			highest = d.Number
		}
	}
	return highest + 1
}

func sortDevices(list []models.Device) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Number != list[j].Number {
			return list[i].Number < list[j].Number
		}
		return list[i].ID < list[j].ID
	})
}

func newDeviceID() string {
	return "hs_" + uuid.NewString()
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
