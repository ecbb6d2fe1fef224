package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/securenotes/internal/encryption"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingCipher     = errors.New("cipher is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "notes.service.new"
	opCreateFile   = "notes.create_file"
	opGetFile      = "notes.get_file"
	opUpdateFile   = "notes.update_file"
	opRevertFile   = "notes.revert_file"
	opDeleteFile   = "notes.delete_file"
	opListFiles    = "notes.list_files"
	opListRevision = "notes.list_revisions"

	fieldUserID         = "user_id"
	fieldNoteID         = "note_id"
	queryOwner          = "owner_id = ?"
	queryOwnerNote      = "id = ? AND owner_id = ?"
	queryOwnerNoteAtVer = "id = ? AND owner_id = ? AND version = ?"
	orderUpdatedAtDesc  = "updated_at DESC, id ASC"

	reasonMissingDatabase  = "missing_database"
	reasonMissingCipher    = "missing_cipher"
	reasonInvalidTitle     = "invalid_title"
	reasonInvalidContent   = "invalid_content"
	reasonNotFound         = "not_found"
	reasonRevisionNotFound = "revision_not_found"
	reasonConflict         = "concurrent_modification"
	reasonEncryptFailed    = "encrypt_failed"
	reasonIDFailed         = "id_generation_failed"
	reasonQueryFailed      = "query_failed"
	reasonInsertFailed     = "insert_failed"
	reasonSaveFailed       = "save_failed"
	reasonDeleteFailed     = "delete_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Cipher seals and opens note content. *encryption.Service satisfies it.
type Cipher interface {
	Encrypt(plaintext string) (encryption.Sealed, error)
	DecryptOrPlaceholder(content, iv string) (string, bool)
}

type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Cipher     Cipher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns the note lifecycle. It is the only component that combines the cipher with
// the revision history, and every operation is scoped to the calling owner.
type Service struct {
	db         *gorm.DB
	cipher     Cipher
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Cipher == nil {
		return nil, newServiceError(opServiceNew, reasonMissingCipher, errMissingCipher)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		cipher:     cfg.Cipher,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create encrypts plaintext and stores a new note with an empty history.
func (service *Service) Create(ctx context.Context, userID UserID, title, plaintext string) (FileView, error) {
	if err := service.ready(opCreateFile); err != nil {
		return FileView{}, err
	}
	title, err := validateInput(opCreateFile, title, plaintext)
	if err != nil {
		return FileView{}, err
	}

	noteID, err := service.idProvider.NewID()
	if err != nil {
		service.logError(opCreateFile, reasonIDFailed, err, zap.String(fieldUserID, userID.String()))
		return FileView{}, newServiceError(opCreateFile, reasonIDFailed, err)
	}

	sealed, err := service.cipher.Encrypt(plaintext)
	if err != nil {
		service.logError(opCreateFile, reasonEncryptFailed, err, zap.String(fieldUserID, userID.String()))
		return FileView{}, newServiceError(opCreateFile, reasonEncryptFailed, err)
	}

	now := service.clock().UTC()
	note := Note{
		ID:        noteID,
		OwnerID:   userID.String(),
		Title:     title,
		Content:   sealed.Content,
		IV:        sealed.IV,
		History:   datatypes.JSONSlice[Revision]{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := service.db.WithContext(ctx).Create(&note).Error; err != nil {
		service.logError(opCreateFile, reasonInsertFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldNoteID, noteID))
		return FileView{}, newServiceError(opCreateFile, reasonInsertFailed, err)
	}

	return service.fileView(note), nil
}

// Get returns the decrypted current content of a note owned by userID.
func (service *Service) Get(ctx context.Context, userID UserID, noteID NoteID) (FileView, error) {
	if err := service.ready(opGetFile); err != nil {
		return FileView{}, err
	}
	note, err := service.loadOwned(service.db.WithContext(ctx), opGetFile, userID, noteID, false)
	if err != nil {
		return FileView{}, err
	}
	return service.fileView(note), nil
}

// Update snapshots the current content into history and replaces it with the new plaintext.
// The snapshot and the replacement are committed by a single statement.
func (service *Service) Update(ctx context.Context, userID UserID, noteID NoteID, title, plaintext, message string) (FileView, error) {
	if err := service.ready(opUpdateFile); err != nil {
		return FileView{}, err
	}
	title, err := validateInput(opUpdateFile, title, plaintext)
	if err != nil {
		return FileView{}, err
	}

	var updated Note
	txErr := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := service.loadOwned(tx, opUpdateFile, userID, noteID, true)
		if err != nil {
			return err
		}

		now := service.clock().UTC()
		snapshotRevision(&note, message, now)

		sealed, err := service.cipher.Encrypt(plaintext)
		if err != nil {
			service.logError(opUpdateFile, reasonEncryptFailed, err,
				zap.String(fieldUserID, userID.String()),
				zap.String(fieldNoteID, noteID.String()))
			return newServiceError(opUpdateFile, reasonEncryptFailed, err)
		}
		note.Title = title
		note.Content = sealed.Content
		note.IV = sealed.IV

		if err := service.commit(tx, opUpdateFile, &note, now); err != nil {
			return err
		}
		updated = note
		return nil
	})
	if txErr != nil {
		return FileView{}, txErr
	}
	return service.fileView(updated), nil
}

// Revert snapshots the current content and restores the ciphertext/iv pair of the history
// entry at historyIndex. The restored entry stays in history and the title is unchanged.
func (service *Service) Revert(ctx context.Context, userID UserID, noteID NoteID, historyIndex int) (FileView, error) {
	if err := service.ready(opRevertFile); err != nil {
		return FileView{}, err
	}

	var reverted Note
	txErr := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := service.loadOwned(tx, opRevertFile, userID, noteID, true)
		if err != nil {
			return err
		}

		target, err := revisionAt(&note, historyIndex)
		if err != nil {
			return newServiceError(opRevertFile, reasonRevisionNotFound, err)
		}

		now := service.clock().UTC()
		snapshotRevision(&note, revertMessage(target), now)
		note.Content = target.Content
		note.IV = target.IV

		if err := service.commit(tx, opRevertFile, &note, now); err != nil {
			return err
		}
		reverted = note
		return nil
	})
	if txErr != nil {
		return FileView{}, txErr
	}
	return service.fileView(reverted), nil
}

// History decrypts every revision of a note independently; entries that fail carry the
// decryption placeholder instead of aborting the whole result.
func (service *Service) History(ctx context.Context, userID UserID, noteID NoteID) ([]RevisionView, error) {
	if err := service.ready(opListRevision); err != nil {
		return nil, err
	}
	note, err := service.loadOwned(service.db.WithContext(ctx), opListRevision, userID, noteID, false)
	if err != nil {
		return nil, err
	}

	revisions := listRevisions(&note)
	views := make([]RevisionView, 0, len(revisions))
	for index, revision := range revisions {
		plaintext, ok := service.cipher.DecryptOrPlaceholder(revision.Content, revision.IV)
		if !ok {
			service.logDecryptionFailure(opListRevision, userID, noteID.String(), zap.Int("revision_index", index))
		}
		views = append(views, RevisionView{
			Index:            index,
			Timestamp:        revision.Timestamp,
			Message:          revision.Message,
			Content:          plaintext,
			DecryptionFailed: !ok,
		})
	}
	return views, nil
}

// List returns every note owned by userID, most recently updated first.
func (service *Service) List(ctx context.Context, userID UserID) ([]FileView, error) {
	if err := service.ready(opListFiles); err != nil {
		return nil, err
	}

	var stored []Note
	if err := service.db.WithContext(ctx).
		Where(queryOwner, userID.String()).
		Order(orderUpdatedAtDesc).
		Find(&stored).Error; err != nil {
		service.logError(opListFiles, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opListFiles, reasonQueryFailed, err)
	}

	views := make([]FileView, 0, len(stored))
	for _, note := range stored {
		views = append(views, service.fileView(note))
	}
	return views, nil
}

// Delete removes a note and its entire history.
func (service *Service) Delete(ctx context.Context, userID UserID, noteID NoteID) error {
	if err := service.ready(opDeleteFile); err != nil {
		return err
	}

	result := service.db.WithContext(ctx).
		Where(queryOwnerNote, noteID.String(), userID.String()).
		Delete(&Note{})
	if result.Error != nil {
		service.logError(opDeleteFile, reasonDeleteFailed, result.Error,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldNoteID, noteID.String()))
		return newServiceError(opDeleteFile, reasonDeleteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteFile, reasonNotFound, ErrNotFound)
	}
	return nil
}

// loadOwned is the single ownership check: a note owned by someone else is reported
// exactly like a note that does not exist.
func (service *Service) loadOwned(tx *gorm.DB, operation string, userID UserID, noteID NoteID, forUpdate bool) (Note, error) {
	query := tx
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var note Note
	err := query.Where(queryOwnerNote, noteID.String(), userID.String()).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, newServiceError(operation, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		service.logError(operation, reasonQueryFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldNoteID, noteID.String()))
		return Note{}, newServiceError(operation, reasonQueryFailed, err)
	}
	return note, nil
}

// commit writes content, iv, title, history and the bumped version in one statement guarded
// by the version that was read.
func (service *Service) commit(tx *gorm.DB, operation string, note *Note, now time.Time) error {
	nextVersion := note.Version + 1
	result := tx.Model(&Note{}).
		Where(queryOwnerNoteAtVer, note.ID, note.OwnerID, note.Version).
		Updates(map[string]interface{}{
			"title":        note.Title,
			"content":      note.Content,
			"iv":           note.IV,
			"history_json": note.History,
			"version":      nextVersion,
			"updated_at":   now,
		})
	if result.Error != nil {
		service.logError(operation, reasonSaveFailed, result.Error,
			zap.String(fieldUserID, note.OwnerID),
			zap.String(fieldNoteID, note.ID))
		return newServiceError(operation, reasonSaveFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		service.loggerOrDefault().Warn("notes version guard rejected write",
			zap.String("operation", operation),
			zap.String(fieldUserID, note.OwnerID),
			zap.String(fieldNoteID, note.ID),
			zap.Int64("version", note.Version))
		return newServiceError(operation, reasonConflict, ErrConcurrentModification)
	}
	note.Version = nextVersion
	note.UpdatedAt = now
	return nil
}

func (service *Service) fileView(note Note) FileView {
	plaintext, ok := service.cipher.DecryptOrPlaceholder(note.Content, note.IV)
	if !ok {
		service.logDecryptionFailure(opGetFile, UserID(note.OwnerID), note.ID)
	}
	return FileView{
		ID:               note.ID,
		Title:            note.Title,
		Content:          plaintext,
		DecryptionFailed: !ok,
		CreatedAt:        note.CreatedAt,
		UpdatedAt:        note.UpdatedAt,
		Revisions:        len(note.History),
	}
}

func (service *Service) ready(operation string) error {
	if service == nil || service.db == nil {
		service.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}
	if service.cipher == nil {
		service.logError(operation, reasonMissingCipher, errMissingCipher)
		return newServiceError(operation, reasonMissingCipher, errMissingCipher)
	}
	return nil
}

func validateInput(operation, title, plaintext string) (string, error) {
	trimmedTitle := strings.TrimSpace(title)
	if trimmedTitle == "" {
		return "", newServiceError(operation, reasonInvalidTitle, fmt.Errorf("%w: title is required", ErrValidation))
	}
	if len(trimmedTitle) > maxTitleLength {
		return "", newServiceError(operation, reasonInvalidTitle, fmt.Errorf("%w: title exceeds %d characters", ErrValidation, maxTitleLength))
	}
	if plaintext == "" {
		return "", newServiceError(operation, reasonInvalidContent, fmt.Errorf("%w: content is required", ErrValidation))
	}
	return trimmedTitle, nil
}

func (service *Service) loggerOrDefault() *zap.Logger {
	if service == nil {
		return noOpLogger
	}
	if service.logger == nil {
		return noOpLogger
	}
	return service.logger
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Error("notes service error", attrs...)
}

func (service *Service) logDecryptionFailure(operation string, userID UserID, noteID string, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String(fieldUserID, userID.String()),
		zap.String(fieldNoteID, noteID),
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Warn("note content could not be decrypted", attrs...)
}
