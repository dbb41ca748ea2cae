package gateway

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/classboard-dev/classboard-worker/internal/cachestore"
	"github.com/classboard-dev/classboard-worker/internal/logger"
)

// Message types understood from foreground pages.
const (
	MessageForceCheck   = "TIMETABLE_FORCE_CHECK"
	MessagePrefChanged  = "TIMETABLE_PREF_CHANGED"
	MessageClassContext = "CLASS_CONTEXT"
)

// workerMessage is the structured {type, ...} payload posted by the board.
type workerMessage struct {
	Type    string                   `json:"type"`
	Enabled *bool                    `json:"enabled,omitempty"`
	Context *cachestore.ClassContext `json:"context,omitempty"`
}

// handleMessage dispatches foreground commands: force an immediate timetable
// check, apply a notification preference change, or update the class context.
func (s *Server) handleMessage(c echo.Context) error {
	var msg workerMessage
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid message payload",
		})
	}

	ctx := c.Request().Context()
	switch msg.Type {
	case MessageForceCheck:
		if err := s.sched.ForceCheck(ctx); err != nil {
			s.log.Warn("forced timetable check failed", logger.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "timetable check failed",
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "check complete"})

	case MessagePrefChanged:
		if msg.Enabled == nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "enabled field is required",
			})
		}
		if err := s.sched.HandlePrefChanged(ctx, *msg.Enabled); err != nil {
			s.log.Warn("preference change failed", logger.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "failed to apply preference",
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "preference applied"})

	case MessageClassContext:
		if msg.Context == nil || !msg.Context.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "context with positive grade and section is required",
			})
		}
		if err := s.sched.UpdateClassContext(ctx, *msg.Context); err != nil {
			s.log.Warn("class context update failed", logger.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "failed to persist class context",
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "class context updated"})

	default:
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "unknown message type",
		})
	}
}
