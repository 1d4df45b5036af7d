package services

import (
	"sync"

	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

// ProgressPublisher manages subscriptions and publishing of run progress events
type ProgressPublisher struct {
	channels map[string][]chan models.ProgressEvent
	mu       sync.RWMutex

	// Optional broadcaster for WebSocket delivery
	broadcaster ports.ProgressBroadcaster
}

var _ ports.ProgressPublisher = (*ProgressPublisher)(nil)

// NewProgressPublisher creates a new progress publisher.
// The broadcaster is optional; pass nil if push delivery is not needed.
func NewProgressPublisher(broadcaster ports.ProgressBroadcaster) *ProgressPublisher {
	return &ProgressPublisher{
		channels:    make(map[string][]chan models.ProgressEvent),
		broadcaster: broadcaster,
	}
}

// Subscribe creates a buffered channel receiving the events of a run
func (p *ProgressPublisher) Subscribe(runID string) <-chan models.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan models.ProgressEvent, subscriberBuffer)
	p.channels[runID] = append(p.channels[runID], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel. Channels already
// closed by Close are ignored.
func (p *ProgressPublisher) Unsubscribe(runID string, ch <-chan models.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	channels := p.channels[runID]
	for i, subscriberCh := range channels {
		if subscriberCh == ch {
			p.channels[runID] = append(channels[:i], channels[i+1:]...)
			close(subscriberCh)
			break
		}
	}

	if len(p.channels[runID]) == 0 {
		delete(p.channels, runID)
	}
}

// Publish sends an event to all subscribers of its run and to the broadcaster.
// A subscriber whose buffer is full misses the event, except terminal events
// which are always delivered by dropping the oldest buffered one.
func (p *ProgressPublisher) Publish(event models.ProgressEvent) {
	if p.broadcaster != nil {
		p.broadcaster.BroadcastProgress(event.RunID, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, ch := range p.channels[event.RunID] {
		select {
		case ch <- event:
			continue
		default:
		}
		if !event.IsTerminal() {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all channels of a run
func (p *ProgressPublisher) Close(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.channels[runID] {
		close(ch)
	}
	delete(p.channels, runID)
}

// SubscriberCount returns the number of active subscribers for a run
func (p *ProgressPublisher) SubscriberCount(runID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.channels[runID])
}
