package analysis

import (
	"sync"

	"github.com/google/uuid"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// Broker fans analysis events out to live observers. Delivery is best-effort
// and at-most-once per observer; a slow observer drops events rather than
// blocking the publishing unit. Observers needing the full history read the
// persisted event log first, then subscribe (replay-then-tail).
type Broker struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan *models.AnalysisEvent]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]map[chan *models.AnalysisEvent]struct{})}
}

// Subscribe registers an observer for one analysis. The returned cancel
// function must be called when the observer is done; it closes the channel.
func (b *Broker) Subscribe(analysisID uuid.UUID, buffer int) (<-chan *models.AnalysisEvent, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan *models.AnalysisEvent, buffer)

	b.mu.Lock()
	if b.subs[analysisID] == nil {
		b.subs[analysisID] = make(map[chan *models.AnalysisEvent]struct{})
	}
	b.subs[analysisID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[analysisID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, analysisID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers without blocking.
func (b *Broker) Publish(event *models.AnalysisEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[event.AnalysisID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of live observers for an analysis.
func (b *Broker) SubscriberCount(analysisID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[analysisID])
}
