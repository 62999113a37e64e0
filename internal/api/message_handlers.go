package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/auth"
	"github.com/Tyrowin/echoes/internal/events"
	"github.com/Tyrowin/echoes/internal/media"
	"github.com/Tyrowin/echoes/internal/store"
)

func (a *API) usersForSidebar(c *gin.Context) {
	me, _ := auth.CurrentUser(c)

	users, err := a.store.ListUsersExcept(c.Request.Context(), me.ID.Hex())
	if err != nil {
		zap.S().Errorw("listing users", "error", err)
		abort(c, http.StatusInternalServerError, msgInternal)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (a *API) conversation(c *gin.Context) {
	me, _ := auth.CurrentUser(c)

	messages, err := a.store.Conversation(c.Request.Context(), me.ID.Hex(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrInvalidID) {
			abort(c, http.StatusBadRequest, msgInvalidUserID)
			return
		}
		zap.S().Errorw("loading conversation", "error", err)
		abort(c, http.StatusInternalServerError, msgInternal)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// sendMessage persists a message, then hands it to the delivery router.
// The message is returned with 201 whether or not the receiver is online.
func (a *API) sendMessage(c *gin.Context) {
	me, _ := auth.CurrentUser(c)
	ctx := c.Request.Context()
	receiverID := c.Param("id")

	var req sendMessageRequest
	if !bind(c, &req) {
		return
	}
	if req.Text == "" && req.Image == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"message": msgValidationFailed,
			"errors":  []string{msgTextOrImage},
		})
		return
	}

	if _, err := a.store.UserByID(ctx, receiverID); err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidID):
			abort(c, http.StatusBadRequest, msgInvalidUserID)
		case errors.Is(err, store.ErrNotFound):
			abort(c, http.StatusNotFound, msgUserNotFound)
		default:
			zap.S().Errorw("loading receiver", "receiver_id", receiverID, "error", err)
			abort(c, http.StatusInternalServerError, msgInternal)
		}
		return
	}

	var imageURL string
	if req.Image != "" {
		url, ok := a.upload(c, folderMessages, req.Image)
		if !ok {
			return
		}
		imageURL = url
	}

	msg, err := a.store.CreateMessage(ctx, me.ID.Hex(), receiverID, req.Text, imageURL)
	if err != nil {
		zap.S().Errorw("creating message", "error", err)
		abort(c, http.StatusInternalServerError, msgInternal)
		return
	}

	a.presence.Deliver(ctx, msg)
	if err := a.events.Publish(events.SubjectMessageCreated, msg); err != nil {
		zap.S().Warnw("message mirror publish failed", "message_id", msg.ID.Hex(), "error", err)
	}

	c.JSON(http.StatusCreated, msg)
}

// upload decodes and stores an image payload. On failure the response is
// written and false returned.
func (a *API) upload(c *gin.Context, folder, payload string) (string, bool) {
	img, err := media.DecodeImage(payload)
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			abort(c, http.StatusBadRequest, msgFileTooLarge)
		} else {
			abort(c, http.StatusBadRequest, msgInvalidFileType)
		}
		return "", false
	}

	url, err := a.uploader.Upload(c.Request.Context(), folder, img)
	if err != nil {
		if errors.Is(err, media.ErrDisabled) {
			abort(c, http.StatusServiceUnavailable, msgUploadsDisabled)
			return "", false
		}
		zap.S().Errorw("uploading image", "folder", folder, "error", err)
		abort(c, http.StatusInternalServerError, msgUploadFailed)
		return "", false
	}
	return url, true
}
