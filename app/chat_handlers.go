package chatapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/tharunsathyamoorthy/chat-application/core"
	"github.com/tharunsathyamoorthy/chat-application/router"
)

// multipart form overhead allowed on top of the attachment ceiling
const uploadFormSlack = 1 << 20

type ChatHandler struct {
	chatLog     *core.ChatLog
	attachments core.AttachmentStore
}

func NewChatHandler(chatLog *core.ChatLog, attachments core.AttachmentStore) *ChatHandler {
	return &ChatHandler{chatLog: chatLog, attachments: attachments}
}

// GetMessagesHandler returns the full non-deleted history in append order.
func (h *ChatHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	messages, err := h.chatLog.List(r.Context())
	if err != nil {
		return err
	}

	if messages == nil {
		messages = []core.Message{}
	}

	if err := json.NewEncoder(w).Encode(messages); err != nil {
		return err
	}
	return nil
}

// SendMessageHandler appends a message through the same path the websocket
// actions take, so HTTP-posted messages are broadcast like any other.
func (h *ChatHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) error {
	var payload core.MessageCreateInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid request body")
	}
	r.Body.Close()

	message, err := h.chatLog.Append(r.Context(), payload)
	if err != nil {
		if errors.Is(err, core.ErrInvalidMessage) || errors.Is(err, core.ErrInvalidMessageKind) {
			return router.NewJsonError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(message)
	return nil
}

// UploadAttachmentHandler stores an uploaded file and appends a message
// whose body is the attachment reference. Payloads over the 60 MB ceiling
// are rejected before any state is touched.
func (h *ChatHandler) UploadAttachmentHandler(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, core.MaxAttachmentSize+uploadFormSlack)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return router.NewJsonError(http.StatusRequestEntityTooLarge, core.ErrAttachmentTooLarge.Error())
		}
		return router.NewJsonError(http.StatusBadRequest, "missing file field")
	}
	defer file.Close()

	if header.Size > core.MaxAttachmentSize {
		return router.NewJsonError(http.StatusRequestEntityTooLarge, core.ErrAttachmentTooLarge.Error())
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	ref, err := h.attachments.Put(data)
	if err != nil {
		if errors.Is(err, core.ErrAttachmentTooLarge) {
			return router.NewJsonError(http.StatusRequestEntityTooLarge, err.Error())
		}
		return err
	}

	author := r.FormValue("author")
	if author == "" {
		author = "anonymous"
	}

	message, err := h.chatLog.Append(r.Context(), core.MessageCreateInput{
		Author: author,
		Kind:   attachmentKind(data),
		Body:   ref,
	})
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(message)
	return nil
}

// attachmentKind classifies an uploaded payload by its sniffed content
// type. Audio uploads become playable audio messages; everything else is a
// plain file attachment.
func attachmentKind(data []byte) core.MessageKind {
	if strings.HasPrefix(mimetype.Detect(data).String(), "audio/") {
		return core.AudioMessage
	}
	return core.FileMessage
}

// GetAttachmentHandler serves a stored attachment by its reference.
func (h *ChatHandler) GetAttachmentHandler(w http.ResponseWriter, r *http.Request) error {
	ref := chi.URLParam(r, "ref")
	data, contentType, err := h.attachments.Get(ref)
	if err != nil {
		if errors.Is(err, core.ErrAttachmentNotFound) {
			return router.NewJsonError(http.StatusNotFound, err.Error())
		}
		return err
	}

	w.Header().Set("Content-Type", contentType)
	_, err = w.Write(data)
	return err
}
