package cache

import "fmt"

// 键语义：
// - roomKey(docID):    房间在线会话（ZSet<sessionId, expireAtUnix>，score=expireAt）
// - namesKey(docID):   会话信息表（Hash<sessionId -> json{userId,username}>）
// - cursorKey(...):    会话光标/选区（String，带 TTL）
// {docID:...} hash tag 保证同一文档的键落在同一 slot

const (
	keyRoomFmt   = "presence:room:{docID:%s}"
	keyNamesFmt  = "presence:room:names:{docID:%s}"
	keyCursorFmt = "presence:cursor:{docID:%s}:%s"
)

func roomKey(docID string) string  { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string { return fmt.Sprintf(keyNamesFmt, docID) }
func cursorKey(docID, sessionID string) string {
	return fmt.Sprintf(keyCursorFmt, docID, sessionID)
}
