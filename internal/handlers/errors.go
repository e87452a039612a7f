package handlers

import (
	stdErrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/events"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/logger"
	"github.com/charlesng35/liveclass/pkg/response"
)

// writeError renders err and logs server side failures with their cause.
func writeError(c *gin.Context, err error) {
	appErr := errors.FromError(translateError(err))
	if appErr.StatusCode >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.WithModule("http").Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("code", appErr.Code),
			zap.Error(err),
		)
	}
	response.Error(c, appErr)
}

// translateError maps engine sentinels onto API errors. Unknown errors become 500s that keep
// the cause for logging.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stdErrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stdErrors.Is(err, services.ErrSessionNotFound):
		return errors.ErrNotFound.WithMessage("Video session not found").WithInternal(err)
	case stdErrors.Is(err, services.ErrWhiteboardNotFound):
		return errors.ErrNotFound.WithMessage("Whiteboard not found").WithInternal(err)
	case stdErrors.Is(err, services.ErrSnapshotNotFound):
		return errors.ErrNotFound.WithMessage("Snapshot not found").WithInternal(err)
	case stdErrors.Is(err, services.ErrNotificationNotFound):
		return errors.ErrNotFound.WithMessage("Notification not found").WithInternal(err)
	case stdErrors.Is(err, services.ErrSessionAlreadyExists):
		return errors.ErrConflict.WithMessage("A video session already exists for this class session").WithInternal(err)
	case stdErrors.Is(err, services.ErrConcurrentModification):
		return errors.New("CONCURRENT_MODIFICATION", "The session changed concurrently, retry the request", http.StatusConflict).WithInternal(err)
	case stdErrors.Is(err, services.ErrSessionNotJoinable):
		return errors.New("SESSION_NOT_JOINABLE", "The session is not open for joining", http.StatusConflict).WithInternal(err)
	case stdErrors.Is(err, services.ErrSessionNotActive):
		return errors.New("SESSION_NOT_ACTIVE", "The session is not in progress", http.StatusConflict).WithInternal(err)
	case stdErrors.Is(err, services.ErrWhiteboardClosed):
		return errors.New("WHITEBOARD_CLOSED", "The whiteboard has been closed", http.StatusConflict).WithInternal(err)
	case stdErrors.Is(err, services.ErrInvalidTransition):
		return errors.ErrPrecondition.WithInternal(err)
	case stdErrors.Is(err, services.ErrSessionUnauthorized),
		stdErrors.Is(err, services.ErrWhiteboardForbidden):
		return errors.ErrForbidden.WithInternal(err)
	case stdErrors.Is(err, services.ErrInvalidInput),
		stdErrors.Is(err, events.ErrInvalidEvent):
		return errors.NewBadRequest(err.Error()).WithInternal(err)
	case stdErrors.Is(err, services.ErrProvider):
		return errors.ErrBadGateway.WithInternal(err)
	}
	return errors.ErrInternalServer.WithInternal(err)
}
