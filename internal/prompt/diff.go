package prompt

import (
	"strings"

	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

// Compare reports the line differences between two versions.
//
// Lines are compared by position, not aligned: an insertion near the top of
// a version shows up as a run of changed lines followed by one added line.
// Equal lines at the same position produce no entry. Line numbers are 0-based.
// A missing version yields no entries.
func Compare(v1, v2 *models.Version) []models.DiffEntry {
	if v1 == nil || v2 == nil {
		return []models.DiffEntry{}
	}
	return CompareText(v1.Content, v2.Content)
}

// CompareText is Compare over raw contents.
func CompareText(oldContent, newContent string) []models.DiffEntry {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	n := max(len(oldLines), len(newLines))
	entries := make([]models.DiffEntry, 0)
	for i := 0; i < n; i++ {
		switch {
		case i >= len(oldLines):
			entries = append(entries, models.DiffEntry{Type: models.DiffAdded, NewText: newLines[i], LineNumber: i})
		case i >= len(newLines):
			entries = append(entries, models.DiffEntry{Type: models.DiffRemoved, OldText: oldLines[i], LineNumber: i})
		case oldLines[i] != newLines[i]:
			entries = append(entries, models.DiffEntry{
				Type:       models.DiffChanged,
				OldText:    oldLines[i],
				NewText:    newLines[i],
				LineNumber: i,
			})
		}
	}
	return entries
}
