package revision

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"folderSync/backend/internal/ot/delta"
)

// Revision 一次不可变的版本化修改
// 线上格式：{object_id, base_rev_id, rev_id, delta, author_id, checksum}
type Revision struct {
	ObjectID  string `json:"object_id"`
	BaseRevID uint64 `json:"base_rev_id"`
	RevID     uint64 `json:"rev_id"`
	// delta 的 JSON 序列化结果，在 JSON 里会被编码成 base64
	Delta    []byte `json:"delta"`
	AuthorID string `json:"author_id"`
	// 应用后整个文档快照的 md5，不是 delta 本身的
	Checksum string `json:"checksum"`
}

func New(objectID string, baseRevID, revID uint64, deltaBytes []byte, authorID, checksum string) Revision {
	b := make([]byte, len(deltaBytes))
	copy(b, deltaBytes)
	return Revision{
		ObjectID:  objectID,
		BaseRevID: baseRevID,
		RevID:     revID,
		Delta:     b,
		AuthorID:  authorID,
		Checksum:  checksum,
	}
}

// Operations 解析出 delta
func (r Revision) Operations() (delta.Delta, error) {
	d, err := delta.FromBytes(r.Delta)
	if err != nil {
		return nil, fmt.Errorf("revision %s/%d: %w", r.ObjectID, r.RevID, err)
	}
	return d, nil
}

// Same 判断是否是同一次修改（重传去重用）
func (r Revision) Same(o Revision) bool {
	return r.ObjectID == o.ObjectID &&
		r.BaseRevID == o.BaseRevID &&
		r.RevID == o.RevID &&
		r.AuthorID == o.AuthorID &&
		r.Checksum == o.Checksum
}

func (r Revision) String() string {
	return fmt.Sprintf("%s@%d(base=%d,author=%s)", r.ObjectID, r.RevID, r.BaseRevID, r.AuthorID)
}

// Checksum 对序列化后的文档状态取 md5（小写十六进制）
func Checksum(state string) string {
	sum := md5.Sum([]byte(state))
	return hex.EncodeToString(sum[:])
}

// Range 闭区间 [Start, End]
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (r Range) Contains(revID uint64) bool { return revID >= r.Start && revID <= r.End }

func (r Range) Empty() bool { return r.End < r.Start }

type State int

const (
	// 本地产生、服务端还没确认
	StateLocal State = iota
	// 服务端已确认
	StateAcked
)

func (s State) String() string {
	if s == StateAcked {
		return "acked"
	}
	return "local"
}

// Record 持久化形式
type Record struct {
	Revision
	State State
}
