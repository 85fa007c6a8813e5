// Package marketdata implements the Market-Data Ingestor (C4): per-(venue,
// symbol, timeframe) reconnecting subscriptions fanned out to any number of
// consumers (the Strategy Runtime instances) through a non-blocking
// broadcast, plus a stale-data heartbeat.
package marketdata

import (
	"sync"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/metrics"
)

// Broadcaster fans bars out to subscribers without ever blocking the
// producer (the ingestor's reconnect loop) on a slow consumer. Each
// subscriber gets its own bounded channel; when it's full the oldest
// buffered bar is dropped to make room for the new one, per §4.4's
// "broadcast is non-blocking, slow consumers drop the oldest buffered bar"
// rule. This mirrors the teacher's StreamKlines callback fan-out
// (internal/adapters/binanceclient/client.go) generalized from "one
// callback" to "N independent subscriber queues".
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan domain.Bar
	next    int
	dropped *metrics.Counter // nil means drops go uncounted
}

func NewBroadcaster(dropped *metrics.Counter) *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan domain.Bar), dropped: dropped}
}

// Subscribe registers a new consumer with the given buffer depth and
// returns its channel plus an unsubscribe func.
func (b *Broadcaster) Subscribe(buffer int) (<-chan domain.Bar, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan domain.Bar, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Publish delivers bar to every current subscriber, dropping the oldest
// queued bar on any subscriber whose buffer is full rather than blocking.
func (b *Broadcaster) Publish(bar domain.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- bar:
		default:
			select {
			case <-ch:
				if b.dropped != nil {
					b.dropped.Inc()
				}
			default:
			}
			select {
			case ch <- bar:
			default:
			}
		}
	}
}

// SubscriberCount reports how many consumers are currently attached.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
