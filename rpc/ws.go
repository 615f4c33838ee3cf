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

	"jobmarket/core/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 64
	wsBacklogLimit = 500
)

// HandleEventsWS streams committed ledger events to a websocket client.
// Query parameters: types (comma separated event types), jobId, and after
// (audit sequence to replay from before switching to live events). Replayed
// and live events may overlap at the seam.
func (s *Server) HandleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	filter, err := parseStreamFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream failed", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

type streamFilter struct {
	types  map[string]struct{}
	jobID  string
	after  uint64
	replay bool
}

func parseStreamFilter(r *http.Request) (streamFilter, error) {
	q := r.URL.Query()
	f := streamFilter{}
	if raw := strings.TrimSpace(q.Get("types")); raw != "" {
		f.types = make(map[string]struct{})
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.types[t] = struct{}{}
			}
		}
	}
	if raw := strings.TrimSpace(q.Get("jobId")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return f, err
		}
		f.jobID = strconv.FormatUint(id, 10)
	}
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return f, err
		}
		f.after = after
		f.replay = true
	}
	return f, nil
}

func (f streamFilter) match(evt *types.Event) bool {
	if evt == nil {
		return false
	}
	if f.types != nil {
		if _, ok := f.types[evt.Type]; !ok {
			return false
		}
	}
	if f.jobID != "" && evt.Attributes["jobId"] != f.jobID {
		return false
	}
	return true
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter streamFilter) error {
	updates, cancel := s.bus.Subscribe(wsBuffer, filter.match)
	defer cancel()

	if filter.replay && s.events != nil {
		backlog, err := s.events.List(ctx, filter.after, wsBacklogLimit)
		if err != nil {
			return err
		}
		for _, rec := range backlog {
			evt, err := rec.Event()
			if err != nil {
				return err
			}
			if !filter.match(evt) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(EventJSON{Type: evt.Type, Attributes: evt.Attributes})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
