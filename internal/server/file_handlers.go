package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/securenotes/internal/notes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fileRequestPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Message string `json:"message"`
}

type revertRequestPayload struct {
	HistoryIndex *int `json:"historyIndex"`
}

type fileResponsePayload struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	DecryptionFailed bool      `json:"decryptionFailed"`
	Revisions        int       `json:"revisions"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type revisionResponsePayload struct {
	Index            int       `json:"index"`
	Timestamp        time.Time `json:"timestamp"`
	Message          string    `json:"message"`
	Content          string    `json:"content"`
	DecryptionFailed bool      `json:"decryptionFailed"`
}

func (h *httpHandler) handleCreateFile(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	var request fileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	file, err := h.notesService.Create(c.Request.Context(), userID, request.Title, request.Content)
	if err != nil {
		h.writeFileError(c, err, "create_failed")
		return
	}

	h.publishFileChange(userID, FileActionCreated, file.ID)
	c.JSON(http.StatusCreated, newFileResponse(file))
}

func (h *httpHandler) handleListFiles(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	files, err := h.notesService.List(c.Request.Context(), userID)
	if err != nil {
		h.writeFileError(c, err, "list_failed")
		return
	}

	response := make([]fileResponsePayload, 0, len(files))
	for _, file := range files {
		response = append(response, newFileResponse(file))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetFile(c *gin.Context) {
	userID, noteID, ok := h.currentUserAndFile(c)
	if !ok {
		return
	}

	file, err := h.notesService.Get(c.Request.Context(), userID, noteID)
	if err != nil {
		h.writeFileError(c, err, "get_failed")
		return
	}
	c.JSON(http.StatusOK, newFileResponse(file))
}

func (h *httpHandler) handleUpdateFile(c *gin.Context) {
	userID, noteID, ok := h.currentUserAndFile(c)
	if !ok {
		return
	}

	var request fileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	file, err := h.notesService.Update(c.Request.Context(), userID, noteID, request.Title, request.Content, request.Message)
	if err != nil {
		h.writeFileError(c, err, "update_failed")
		return
	}

	h.publishFileChange(userID, FileActionUpdated, file.ID)
	c.JSON(http.StatusOK, newFileResponse(file))
}

func (h *httpHandler) handleDeleteFile(c *gin.Context) {
	userID, noteID, ok := h.currentUserAndFile(c)
	if !ok {
		return
	}

	if err := h.notesService.Delete(c.Request.Context(), userID, noteID); err != nil {
		h.writeFileError(c, err, "delete_failed")
		return
	}

	h.publishFileChange(userID, FileActionDeleted, noteID.String())
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": noteID.String()})
}

func (h *httpHandler) handleFileHistory(c *gin.Context) {
	userID, noteID, ok := h.currentUserAndFile(c)
	if !ok {
		return
	}

	revisions, err := h.notesService.History(c.Request.Context(), userID, noteID)
	if err != nil {
		h.writeFileError(c, err, "history_failed")
		return
	}

	response := make([]revisionResponsePayload, 0, len(revisions))
	for _, revision := range revisions {
		response = append(response, revisionResponsePayload{
			Index:            revision.Index,
			Timestamp:        revision.Timestamp,
			Message:          revision.Message,
			Content:          revision.Content,
			DecryptionFailed: revision.DecryptionFailed,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRevertFile(c *gin.Context) {
	userID, noteID, ok := h.currentUserAndFile(c)
	if !ok {
		return
	}

	var request revertRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.HistoryIndex == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	file, err := h.notesService.Revert(c.Request.Context(), userID, noteID, *request.HistoryIndex)
	if err != nil {
		h.writeFileError(c, err, "revert_failed")
		return
	}

	h.publishFileChange(userID, FileActionReverted, file.ID)
	c.JSON(http.StatusOK, newFileResponse(file))
}

func (h *httpHandler) currentUser(c *gin.Context) (notes.UserID, bool) {
	userID, err := notes.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) currentUserAndFile(c *gin.Context) (notes.UserID, notes.NoteID, bool) {
	userID, ok := h.currentUser(c)
	if !ok {
		return "", "", false
	}
	noteID, err := notes.NewNoteID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_file_id"})
		return "", "", false
	}
	return userID, noteID, true
}

func (h *httpHandler) publishFileChange(userID notes.UserID, action, fileID string) {
	if h.realtime == nil || fileID == "" {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    userID.String(),
		EventType: RealtimeEventFileChanged,
		Action:    action,
		FileIDs:   []string{fileID},
		Timestamp: time.Now().UTC(),
	})
	h.logger.Debug("file change published", zap.String("user_id", userID.String()), zap.String("file_id", fileID), zap.String("action", action))
}

func newFileResponse(file notes.FileView) fileResponsePayload {
	return fileResponsePayload{
		ID:               file.ID,
		Title:            file.Title,
		Content:          file.Content,
		DecryptionFailed: file.DecryptionFailed,
		Revisions:        file.Revisions,
		CreatedAt:        file.CreatedAt,
		UpdatedAt:        file.UpdatedAt,
	}
}
