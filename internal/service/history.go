package service

import (
	"context"
	"sync"
	"time"

	"headset_monitor/internal/models"
	"headset_monitor/internal/repository"
)

const defaultHistoryBuffer = 1000

// HistoryRecorder keeps a bounded in-memory ring of recent samples and appends every
// sample to the durable store.
type HistoryRecorder struct {
	mu           sync.RWMutex
	repo         repository.HistoryRepo
	hostname     string
	writeTimeout time.Duration
	now          func() time.Time

	ring  []models.HistoryPoint
	head  int // next write position
	count int
}

func NewHistoryRecorder(repo repository.HistoryRepo, hostname string, capacity int, writeTimeout time.Duration, now func() time.Time) *HistoryRecorder {
	if capacity <= 0 {
		capacity = defaultHistoryBuffer
	}
	if now == nil {
		now = time.Now
	}
	return &HistoryRecorder{
		repo:         repo,
		hostname:     hostname,
		writeTimeout: writeTimeout,
		now:          now,
		ring:         make([]models.HistoryPoint, capacity),
	}
}

// Record appends p to the ring, evicting the oldest sample when full, then to the store.
// A store failure only loses the durable copy.
func (h *HistoryRecorder) Record(ctx context.Context, p models.HistoryPoint) error {
	if p.Hostname == "" {
		p.Hostname = h.hostname
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = h.now().UTC()
	}

	h.mu.Lock()
	h.ring[h.head] = p
	h.head = (h.head + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
	h.mu.Unlock()

	wctx, cancel := withTimeout(ctx, h.writeTimeout)
	defer cancel()
	return storageErr("append history", h.repo.Append(wctx, p))
}

// Query returns durable samples at or after since. An empty deviceID matches all devices.
func (h *HistoryRecorder) Query(ctx context.Context, since time.Time, deviceID string) ([]models.HistoryPoint, error) {
	rctx, cancel := withTimeout(ctx, h.writeTimeout)
	defer cancel()
	points, err := h.repo.List(rctx, h.hostname, deviceID, since)
	if err != nil {
		return nil, storageErr("list history", err)
	}
	return points, nil
}

// QueryHours returns the samples of the last hours.
func (h *HistoryRecorder) QueryHours(ctx context.Context, hours float64, deviceID string) ([]models.HistoryPoint, error) {
	since := h.now().Add(-time.Duration(hours * float64(time.Hour)))
	return h.Query(ctx, since, deviceID)
}

// Recent returns up to n of the newest buffered samples, oldest first.
func (h *HistoryRecorder) Recent(deviceID string, n int) []models.HistoryPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]models.HistoryPoint, 0, n)
	for i := 1; i <= h.count && len(out) < n; i++ {
		idx := (h.head - i + len(h.ring)) % len(h.ring)
		p := h.ring[idx]
		if deviceID != "" && p.DeviceID != deviceID {
			continue
		}
		out = append(out, p)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len is the number of buffered samples.
func (h *HistoryRecorder) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
