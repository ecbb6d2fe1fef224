package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	maxIdentifierLength = 190
	maxTitleLength      = 512

	defaultRevisionMessage = "unspecified change"
)

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
	// ErrValidation indicates that a title or content failed validation.
	ErrValidation = errors.New("notes: validation failed")
	// ErrNotFound covers missing notes, notes owned by someone else and out-of-range history indexes.
	ErrNotFound = errors.New("notes: not found")
	// ErrConcurrentModification indicates that the note changed between read and commit.
	ErrConcurrentModification = errors.New("notes: concurrent modification")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Revision is an immutable snapshot of the ciphertext/iv pair a note held before a mutation.
type Revision struct {
	Content   string    `json:"content"`
	IV        string    `json:"iv"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Note models the persisted encrypted file together with its embedded revision history.
type Note struct {
	ID        string                        `gorm:"column:id;primaryKey;size:190;not null"`
	OwnerID   string                        `gorm:"column:owner_id;size:190;not null;index:idx_notes_owner_updated,priority:1"`
	Title     string                        `gorm:"column:title;size:512;not null"`
	Content   string                        `gorm:"column:content;type:text;not null"`
	IV        string                        `gorm:"column:iv;size:32;not null"`
	History   datatypes.JSONSlice[Revision] `gorm:"column:history_json;not null"`
	Version   int64                         `gorm:"column:version;not null;default:1"`
	CreatedAt time.Time                     `gorm:"column:created_at;not null"`
	UpdatedAt time.Time                     `gorm:"column:updated_at;not null;index:idx_notes_owner_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// FileView is the decrypted representation of a note returned to callers.
type FileView struct {
	ID               string
	Title            string
	Content          string
	DecryptionFailed bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Revisions        int
}

// RevisionView is a decrypted history entry.
type RevisionView struct {
	Index            int
	Timestamp        time.Time
	Message          string
	Content          string
	DecryptionFailed bool
}
