package notes

import (
	"fmt"
	"strings"
	"time"
)

// snapshotRevision appends the note's current ciphertext/iv pair to its history.
// Timestamps never go backwards within a note even if the clock does.
func snapshotRevision(note *Note, message string, at time.Time) Revision {
	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultRevisionMessage
	}

	timestamp := at.UTC()
	if count := len(note.History); count > 0 {
		if previous := note.History[count-1].Timestamp; timestamp.Before(previous) {
			timestamp = previous
		}
	}

	revision := Revision{
		Content:   note.Content,
		IV:        note.IV,
		Message:   message,
		Timestamp: timestamp,
	}
	note.History = append(note.History, revision)
	return revision
}

// listRevisions returns a copy of the history in insertion order.
func listRevisions(note *Note) []Revision {
	revisions := make([]Revision, len(note.History))
	copy(revisions, note.History)
	return revisions
}

func revisionAt(note *Note, index int) (Revision, error) {
	if index < 0 || index >= len(note.History) {
		return Revision{}, fmt.Errorf("%w: revision %d of %d", ErrNotFound, index, len(note.History))
	}
	return note.History[index], nil
}

func revertMessage(target Revision) string {
	return fmt.Sprintf("revert to revision from %s", target.Timestamp.UTC().Format(time.RFC3339Nano))
}
