package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"tokenescrow/core"
	"tokenescrow/core/state"
)

const (
	wsWriteTimeout = 10 * time.Second
)

type eventPayload struct {
	Type   string            `json:"type"`
	Cursor string            `json:"cursor"`
	Event  state.EventRecord `json:"event"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if _, err := core.ParseCursor(cursor); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	patterns := s.cfg.AllowedOrigins
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The stream is write-only; CloseRead handles control frames and cancels
	// ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream failed",
				slog.String("request_id", requestIDFrom(r.Context())),
				slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog, err := s.node.EventsSubscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, record := range backlog {
		if err := writeEventUpdate(ctx, conn, record); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEventUpdate(ctx, conn, record); err != nil {
				return err
			}
		}
	}
}

func writeEventUpdate(ctx context.Context, conn *websocket.Conn, record state.EventRecord) error {
	payload := eventPayload{
		Type:   "escrow_event",
		Cursor: strconv.FormatUint(record.Sequence, 10),
		Event:  record,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
