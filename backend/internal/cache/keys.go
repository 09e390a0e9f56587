package cache

import "fmt"

// 键语义：
// - roomKey(objectID):         对象在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - stateKey(objectID, user):  成员最近一次 passthrough 内容（String）
// - revKey(objectID):          服务端最新 rev id（String，-1 为空值标记）

const (
	keyRoomFmt  = "foldersync:room:{obj:%s}"
	keyStateFmt = "foldersync:state:{obj:%s}:%s"
	keyRevFmt   = "foldersync:rev:{obj:%s}"
	keyRoomScan = "foldersync:room:*"
)

func roomKey(objectID string) string          { return fmt.Sprintf(keyRoomFmt, objectID) }
func stateKey(objectID, userID string) string { return fmt.Sprintf(keyStateFmt, objectID, userID) }
func revKey(objectID string) string           { return fmt.Sprintf(keyRevFmt, objectID) }
