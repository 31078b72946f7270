package service

import (
	"sync"
	"time"

	"headset_monitor/internal/models"
)

// Subscriber receives engine events in processing order. Notify must not block.
type Subscriber interface {
	Notify(ev models.Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ev models.Event)

func (f SubscriberFunc) Notify(ev models.Event) { f(ev) }

// Publisher fans engine events out to the subscribers given at construction.
type Publisher struct {
	mu       sync.Mutex
	hostname string
	now      func() time.Time
	subs     []Subscriber
}

func NewPublisher(hostname string, now func() time.Time, subs ...Subscriber) *Publisher {
	if now == nil {
		now = time.Now
	}
	return &Publisher{hostname: hostname, now: now, subs: subs}
}

// Publish delivers the event synchronously to every subscriber.
func (p *Publisher) Publish(typ models.EventType, deviceID string, data any) models.Event {
	ev := models.Event{
		Type:      typ,
		DeviceID:  deviceID,
		Data:      data,
		Hostname:  p.hostname,
		Timestamp: p.now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.subs {
		s.Notify(ev)
	}
	return ev
}
