package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events map[string][]models.ProgressEvent
}

func (b *recordingBroadcaster) BroadcastProgress(runID string, event models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		b.events = make(map[string][]models.ProgressEvent)
	}
	b.events[runID] = append(b.events[runID], event)
}

func TestProgressPublisher_SubscribePublish(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	publisher := NewProgressPublisher(broadcaster)

	first := publisher.Subscribe("run-1")
	second := publisher.Subscribe("run-1")
	other := publisher.Subscribe("run-2")
	assert.Equal(t, 2, publisher.SubscriberCount("run-1"))

	publisher.Publish(models.ProgressEvent{Type: models.ProgressEventState, RunID: "run-1"})

	assert.Equal(t, models.ProgressEventState, (<-first).Type)
	assert.Equal(t, models.ProgressEventState, (<-second).Type)
	assert.Len(t, other, 0)
	assert.Len(t, broadcaster.events["run-1"], 1)

	publisher.Unsubscribe("run-1", first)
	_, open := <-first
	assert.False(t, open)
	assert.Equal(t, 1, publisher.SubscriberCount("run-1"))

	publisher.Close("run-1")
	_, open = <-second
	assert.False(t, open)
	assert.Equal(t, 0, publisher.SubscriberCount("run-1"))

	// Unsubscribing after Close does not close twice.
	publisher.Unsubscribe("run-1", second)
}

func TestProgressPublisher_FullBufferKeepsTerminalEvent(t *testing.T) {
	publisher := NewProgressPublisher(nil)
	ch := publisher.Subscribe("run-1")

	for i := 0; i < subscriberBuffer+10; i++ {
		publisher.Publish(models.ProgressEvent{Type: models.ProgressEventDelta, RunID: "run-1"})
	}
	publisher.Publish(models.ProgressEvent{Type: models.ProgressEventCompleted, RunID: "run-1"})
	publisher.Close("run-1")

	var events []models.ProgressEvent
	for e := range ch {
		events = append(events, e)
	}
	require.Len(t, events, subscriberBuffer)
	assert.Equal(t, models.ProgressEventCompleted, events[len(events)-1].Type)
}
