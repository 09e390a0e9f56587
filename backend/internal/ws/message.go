package ws

import (
	"encoding/json"

	"folderSync/backend/internal/revision"
)

// 客户端 -> 服务端
const (
	TypeRevision    = "revision"
	TypePull        = "pull"
	TypePassthrough = "passthrough"
	TypeHeartbeat   = "heartbeat"
)

// 服务端 -> 客户端（另外也会发 revision / passthrough）
const (
	TypeWelcome  = "welcome"
	TypeAck      = "ack"
	TypePush     = "push"
	TypePresence = "presence"
	TypeError    = "error"
)

// 错误码
const (
	CodeOutOfOrder = "OUT_OF_ORDER"
	CodeDivergence = "DIVERGENCE"
	CodeMalformed  = "MALFORMED_DELTA"
	CodeBusy       = "BUSY"
	CodeInternal   = "INTERNAL"
	CodeUnknown    = "UNKNOWN_TYPE"
)

type ClientMessage struct {
	Type     string             `json:"type"`
	ObjectID string             `json:"objectId"`
	Revision *revision.Revision `json:"revision,omitempty"`
	Range    *revision.Range    `json:"range,omitempty"`
	Payload  json.RawMessage    `json:"payload,omitempty"`
}

type ServerMessage struct {
	Type      string              `json:"type"`
	ObjectID  string              `json:"objectId,omitempty"`
	UserID    string              `json:"userId,omitempty"`
	RevID     uint64              `json:"revId,omitempty"`
	Checksum  string              `json:"checksum,omitempty"`
	Revisions []revision.Revision `json:"revisions,omitempty"`
	Members   []string            `json:"members,omitempty"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
	Code      string              `json:"code,omitempty"`
	Content   string              `json:"content,omitempty"`
}

// Passthrough 其他协作者发来的、不经过修订流程的消息
type Passthrough struct {
	ObjectID string
	UserID   string
	Payload  json.RawMessage
}
