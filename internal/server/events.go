package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nutrilog/daybook/internal/notify"
	"go.uber.org/zap"
)

const heartbeatInterval = 25 * time.Second

type changeEventPayload struct {
	MealID     int64    `json:"mealId"`
	Status     string   `json:"status,omitempty"`
	DateKey    string   `json:"dateKey,omitempty"`
	Calories   float64  `json:"calories,omitempty"`
	Foods      []string `json:"foods,omitempty"`
	AnalysisID string   `json:"analysisId,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

// handleEvents streams meal change events over SSE. A reconnecting client
// supplies its last seen journal cursor (Last-Event-ID header or ?cursor=) and
// missed changes are replayed from the journal before live delivery begins.
// Either way the payload is a hint: clients re-read the day view on receipt.
func (h *httpHandler) handleEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.notifier == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "events_unavailable"})
		return
	}

	// subscribe before the headers flush: once the client observes the open
	// stream, live changes are already being captured.
	ctx := c.Request.Context()
	stream, cancel := h.notifier.Subscribe(ctx, userID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	if h.journal != nil {
		if cursor, ok := eventCursor(c); ok {
			missed, _, err := h.journal.ChangesAfter(ctx, userID, cursor)
			if err != nil {
				h.logger.Warn("event replay failed", zap.String("user_id", userID), zap.Error(err))
			}
			for _, change := range missed {
				h.writeEvent(c, change)
			}
			c.Writer.Flush()
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := c.Writer.WriteString("event: heartbeat\ndata: {}\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case change, open := <-stream:
			if !open {
				return
			}
			h.writeEvent(c, change)
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) writeEvent(c *gin.Context, change notify.Change) {
	payload := changeEventPayload{
		MealID:     change.SlotID,
		Status:     change.Status,
		DateKey:    change.DateKey,
		Calories:   change.Calories,
		Foods:      change.Foods,
		AnalysisID: change.AnalysisID,
	}
	if !change.Timestamp.IsZero() {
		payload.Timestamp = change.Timestamp.UTC().Format(time.RFC3339)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("failed to encode change event", zap.Error(err))
		return
	}
	eventType := change.EventType
	if eventType == "" {
		eventType = notify.EventMealCompleted
	}
	// the id line feeds EventSource's Last-Event-ID, so a reconnecting client
	// resumes from the journal cursor of the last frame it saw.
	frame := "event: " + eventType + "\n"
	if change.ChangeID > 0 {
		frame += "id: " + strconv.FormatInt(change.ChangeID, 10) + "\n"
	}
	frame += "data: " + string(encoded) + "\n\n"
	_, _ = c.Writer.WriteString(frame)
}

func eventCursor(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.GetHeader("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(c.Query("cursor"))
	}
	if raw == "" {
		return 0, false
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0, false
	}
	return cursor, true
}
