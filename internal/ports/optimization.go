package ports

import "github.com/anyhui/aleeai-prompt/internal/domain/models"

// ProgressPublisher fans run progress events out to subscribers.
type ProgressPublisher interface {
	Subscribe(runID string) <-chan models.ProgressEvent
	Unsubscribe(runID string, ch <-chan models.ProgressEvent)
	Publish(event models.ProgressEvent)
	Close(runID string)
}

// ProgressBroadcaster delivers progress events to push transports such as WebSocket.
type ProgressBroadcaster interface {
	BroadcastProgress(runID string, event models.ProgressEvent)
}
