package notify

import (
	"encoding/json"
	"time"

	"folderSync/backend/internal/revision"

	"github.com/google/uuid"
)

const (
	// 服务端接受了一条修订
	EventRevisionApplied = "REVISION_APPLIED"
	// 客户端本地对象发生变化
	EventObjectChanged = "OBJECT_CHANGED"
)

type RevisionEvent struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	ObjectID  string          `json:"objectId"`
	RevID     uint64          `json:"revId"`
	BaseRevID uint64          `json:"baseRevId,omitempty"`
	AuthorID  string          `json:"authorId"`
	Checksum  string          `json:"checksum,omitempty"`
	Source    string          `json:"source,omitempty"`
	Delta     json.RawMessage `json:"delta,omitempty"`
	Snapshot  string          `json:"snapshot,omitempty"`
	AppliedAt time.Time       `json:"appliedAt"`
}

// Applied 服务端接受修订后的事件
func Applied(r revision.Revision) RevisionEvent {
	return RevisionEvent{
		EventID:   uuid.NewString(),
		EventType: EventRevisionApplied,
		ObjectID:  r.ObjectID,
		RevID:     r.RevID,
		BaseRevID: r.BaseRevID,
		AuthorID:  r.AuthorID,
		Checksum:  r.Checksum,
		Delta:     json.RawMessage(r.Delta),
		AppliedAt: time.Now(),
	}
}

// Changed 客户端的对象变更事件
func Changed(evt revision.Event) RevisionEvent {
	return RevisionEvent{
		EventID:   uuid.NewString(),
		EventType: EventObjectChanged,
		ObjectID:  evt.ObjectID,
		RevID:     evt.RevID,
		AuthorID:  evt.AuthorID,
		Source:    evt.Source,
		Snapshot:  evt.Snapshot,
		AppliedAt: evt.AppliedAt,
	}
}
