package httpadapter

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/queuefeed"
)

type streamPayload struct {
	Items []domain.QueueItem `json:"items"`
}

func readQueueEvent(t *testing.T, lines *bufio.Scanner) streamPayload {
	t.Helper()
	for lines.Scan() {
		line := lines.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload streamPayload
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return payload
	}
	t.Fatalf("stream ended: %v", lines.Err())
	return streamPayload{}
}

func TestQueueStreamSendsSnapshotThenChanges(t *testing.T) {
	backend := newBackendFake()
	created := time.Now().UTC().Add(-time.Minute)
	backend.items["q-old"] = domain.QueueItem{ID: "q-old", UserID: "user-1", Status: domain.QueueDone, CreatedAt: created, UpdatedAt: created}

	hub := queuefeed.NewHub()
	rt, err := NewRouter(servicesFor(backend, hub), Options{StreamKeepAlive: time.Hour, StreamResyncEvery: time.Hour})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	server := httptest.NewServer(rt.Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/queue/stream", nil)
	req.Header.Set(devUserHeader, "user-1")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := bufio.NewScanner(res.Body)
	first := readQueueEvent(t, lines)
	if len(first.Items) != 1 || first.Items[0].ID != "q-old" {
		t.Fatalf("unexpected snapshot %+v", first.Items)
	}

	now := time.Now().UTC()
	hub.Publish(domain.QueueEvent{Kind: domain.EventInsert, At: now, Item: &domain.QueueItem{
		ID: "q-new", UserID: "user-1", Status: domain.QueueWaiting, CreatedAt: now, UpdatedAt: now,
	}})
	hub.Publish(domain.QueueEvent{Kind: domain.EventInsert, At: now, Item: &domain.QueueItem{
		ID: "q-other", UserID: "user-2", Status: domain.QueueWaiting, CreatedAt: now, UpdatedAt: now,
	}})

	second := readQueueEvent(t, lines)
	if len(second.Items) != 2 || second.Items[0].ID != "q-new" || second.Items[1].ID != "q-old" {
		t.Fatalf("unexpected update %+v", second.Items)
	}

	hub.Publish(domain.QueueEvent{Kind: domain.EventDelete, At: now.Add(time.Second), Item: &domain.QueueItem{ID: "q-old", UserID: "user-1", UpdatedAt: created}})
	third := readQueueEvent(t, lines)
	if len(third.Items) != 1 || third.Items[0].ID != "q-new" {
		t.Fatalf("unexpected state after delete %+v", third.Items)
	}
}
