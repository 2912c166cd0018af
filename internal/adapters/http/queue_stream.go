package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/queuefeed"
)

// streamQueue pushes the caller's reduced queue as server-sent events. Each
// "queue" event carries the full list, newest first. Events the hub dropped
// are recovered by the periodic snapshot.
func (rt *Router) streamQueue(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming is not supported by response writer"))
		return
	}
	if rt.svc.Feed == nil {
		writeError(w, r, domain.WrapError(domain.ErrTemporary, "stream queue", fmt.Errorf("queue feed is not configured")))
		return
	}

	ctx := r.Context()
	userID := userIDFromContext(ctx)
	events, unsubscribe := rt.svc.Feed.Subscribe(userID)
	defer unsubscribe()

	// Subscribing first means nothing published during the first listing is
	// lost; Apply discards whichever copy is older.
	state := queuefeed.NewState()
	if _, err := rt.resync(ctx, state, userID); err != nil {
		writeError(w, r, err)
		return
	}

	// The stream outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := writeQueueEvent(w, state.Items()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(rt.opts.StreamKeepAlive)
	defer keepAlive.Stop()
	resync := time.NewTicker(rt.opts.StreamResyncEvery)
	defer resync.Stop()

	for {
		changed := false
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			changed = state.Apply(event)
		case <-resync.C:
			var err error
			changed, err = rt.resync(ctx, state, userID)
			if err != nil {
				rt.logger.Warn("queue_stream_resync_failed", "user_id", userID, "error", err)
				continue
			}
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			continue
		}
		if !changed {
			continue
		}
		if err := writeQueueEvent(w, state.Items()); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (rt *Router) resync(ctx context.Context, state *queuefeed.State, userID string) (bool, error) {
	at := time.Now().UTC()
	items, err := rt.svc.Queue.ListQueue(ctx, domain.QueueFilter{UserID: userID})
	if err != nil {
		return false, err
	}
	return state.Apply(domain.QueueEvent{Kind: domain.EventSnapshot, Items: items, At: at}), nil
}

func writeQueueEvent(w io.Writer, items []domain.QueueItem) error {
	payload, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: queue\ndata: %s\n\n", payload)
	return err
}
