package revision

import (
	"context"
	"time"
)

// Persistence 持久化协作方，append 必须原子且落盘后才返回
type Persistence interface {
	Append(ctx context.Context, objectID string, rec Record) error
	Read(ctx context.Context, objectID string, rng Range) ([]Record, error)
	Latest(ctx context.Context, objectID string) (uint64, bool, error)

	// Ack 把本地记录标记为已确认
	Ack(ctx context.Context, objectID string, revID uint64) error
	// ReplaceTail 在一个事务里删掉 rev_id >= from 的记录并写入 recs
	ReplaceTail(ctx context.Context, objectID string, from uint64, recs []Record) error
	// Reset 清空该对象的日志，只在全量重新同步时使用
	Reset(ctx context.Context, objectID string) error
}

// CloudService 本地没有缓存时拉取历史
type CloudService interface {
	FetchHistory(ctx context.Context, userID, objectID string) ([]Revision, error)
}

const (
	SourceLocal  = "local"
	SourceRemote = "remote"
	SourceReload = "reload"
)

// Event 每次成功应用修订后发给通知方，Snapshot 对本包来说是不透明的
type Event struct {
	ObjectID  string    `json:"objectId"`
	RevID     uint64    `json:"revId"`
	AuthorID  string    `json:"authorId"`
	Source    string    `json:"source"`
	Snapshot  string    `json:"snapshot"`
	AppliedAt time.Time `json:"appliedAt"`
}

type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}
