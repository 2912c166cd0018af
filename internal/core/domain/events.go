package domain

import "time"

type QueueEventKind string

const (
	EventInsert   QueueEventKind = "insert"
	EventUpdate   QueueEventKind = "update"
	EventDelete   QueueEventKind = "delete"
	EventSnapshot QueueEventKind = "snapshot"
)

// QueueEvent is a change notification for doc_queue rows. Snapshot events
// carry the full listing in Items; the others carry a single Item.
type QueueEvent struct {
	Kind  QueueEventKind `json:"kind"`
	Item  *QueueItem     `json:"item,omitempty"`
	Items []QueueItem    `json:"items,omitempty"`
	At    time.Time      `json:"at"`
}

// TriggersProcessing reports whether the event should start automatic
// processing of its row.
func (e QueueEvent) TriggersProcessing() bool {
	if e.Item == nil || e.Item.Status != QueueWaiting {
		return false
	}
	return e.Kind == EventInsert || e.Kind == EventUpdate
}
