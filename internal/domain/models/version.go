package models

import "time"

// VersionSchemaVersion is the layout version written with every persisted list.
const VersionSchemaVersion = 1

// Version is one immutable snapshot of a prompt's content.
// VersionNumber is positional: it is recomputed densely when a version is deleted.
// ID is the permanent identifier.
type Version struct {
	ID                string `json:"id" msgpack:"id"`
	PromptID          string `json:"promptId" msgpack:"promptId"`
	VersionNumber     int    `json:"versionNumber" msgpack:"versionNumber"`
	Content           string `json:"content" msgpack:"content"`
	ChangeDescription string `json:"changeDescription" msgpack:"changeDescription"`
	Timestamp         int64  `json:"timestamp" msgpack:"timestamp"`
}

// NewVersion creates a version stamped with the current time in Unix milliseconds.
func NewVersion(id, promptID string, number int, content, description string) *Version {
	return &Version{
		ID:                id,
		PromptID:          promptID,
		VersionNumber:     number,
		Content:           content,
		ChangeDescription: description,
		Timestamp:         time.Now().UnixMilli(),
	}
}

// CreatedAt returns the timestamp as a time.Time.
func (v *Version) CreatedAt() time.Time {
	return time.UnixMilli(v.Timestamp)
}

// Renumber assigns dense 1-based version numbers in slice order.
func Renumber(versions []*Version) {
	for i, v := range versions {
		v.VersionNumber = i + 1
	}
}

// DiffType classifies a DiffEntry.
type DiffType string

const (
	DiffAdded     DiffType = "added"
	DiffRemoved   DiffType = "removed"
	DiffChanged   DiffType = "changed"
	DiffUnchanged DiffType = "unchanged"
)

// DiffEntry is one reported line difference between two versions.
type DiffEntry struct {
	Type       DiffType `json:"type" msgpack:"type"`
	OldText    string   `json:"oldText" msgpack:"oldText"`
	NewText    string   `json:"newText" msgpack:"newText"`
	LineNumber int      `json:"lineNumber" msgpack:"lineNumber"`
}
