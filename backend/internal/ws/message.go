package ws

import (
	"encoding/json"
	"time"

	"syncServer/backend/internal/cache"
	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/ot"
)

type ClientMessage struct {
	Type     string `json:"type"`
	DocID    string `json:"docId,omitempty"`
	DocTitle string `json:"docTitle,omitempty"`
	// join 时客户端已知的最新版本，catch-up 从它之后开始
	KnownVersion uint64 `json:"knownVersion,omitempty"`
	// op_submit：客户端创建操作时观察到的服务端版本
	BaseRevision uint64          `json:"baseRevision,omitempty"`
	ClientID     string          `json:"clientId,omitempty"`
	ClientSeq    uint64          `json:"clientSeq,omitempty"`
	Op           ot.Operation    `json:"op,omitempty"`
	Cursor       json.RawMessage `json:"cursor,omitempty"` // {position, selection}
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string          { return m.Type }
func (m CatchUpMessage) MessageType() string         { return m.Type }
func (m OpAppliedMessage) MessageType() string       { return m.Type }
func (m OpBroadcastMessage) MessageType() string     { return m.Type }
func (m OpRejectedMessage) MessageType() string      { return m.Type }
func (m CursorMessage) MessageType() string          { return m.Type }
func (m PresenceMessage) MessageType() string        { return m.Type }
func (m PresenceChangedMessage) MessageType() string { return m.Type }

type ServerMessage struct {
	Type     string `json:"type"`
	DocID    string `json:"docId,omitempty"`
	Revision uint64 `json:"revision,omitempty"`
	Content  string `json:"content,omitempty"`
}

// join 的应答：缺失操作 + 在线名单 + 当前版本，按序应用后客户端追平。
type CatchUpMessage struct {
	Type           string              `json:"type"` // 固定 "catch_up"
	DocID          string              `json:"docId"`
	Ops            []collab.AppliedOp  `json:"ops"`
	Presence       []cache.SessionInfo `json:"presence"`
	CurrentVersion uint64              `json:"currentVersion"`
}

// 发给提交者的 ack；op 是变换后的最终形态
type OpAppliedMessage struct {
	Type         string       `json:"type"` // 固定 "op_applied"
	DocID        string       `json:"docId"`
	BaseRevision uint64       `json:"baseRevision"`
	Seq          uint64       `json:"seq"`
	ClientID     string       `json:"clientId"`
	ClientSeq    uint64       `json:"clientSeq"`
	Op           ot.Operation `json:"op"`
}

// 广播给房间内其他连接的已应用操作。
// 所有成员观察到的 op_broadcast 严格按 seq 升序。
type OpBroadcastMessage struct {
	Type      string       `json:"type"` // 固定 "op_broadcast"
	DocID     string       `json:"docId"`
	Seq       uint64       `json:"seq"`
	AuthorID  uint64       `json:"authorId"`
	ClientID  string       `json:"clientId,omitempty"`
	ClientSeq uint64       `json:"clientSeq,omitempty"`
	Op        ot.Operation `json:"op"`
	AppliedAt time.Time    `json:"appliedAt,omitempty"`
}

// 只发给提交者本人；其他成员永远看不到别人被拒的操作
type OpRejectedMessage struct {
	Type      string `json:"type"` // 固定 "op_rejected"
	DocID     string `json:"docId"`
	ClientID  string `json:"clientId"`
	ClientSeq uint64 `json:"clientSeq"`
	Reason    string `json:"reason"`
}

type CursorMessage struct {
	Type      string          `json:"type"` // 固定 "cursor"
	DocID     string          `json:"docId"`
	SessionID string          `json:"sessionId"`
	UserID    uint64          `json:"userId"`
	Cursor    json.RawMessage `json:"cursor"`
}

type PresenceMessage struct {
	Type     string              `json:"type"` // 固定 "presence"
	DocID    string              `json:"docId"`
	Sessions []cache.SessionInfo `json:"sessions"`
}

type PresenceChangedMessage struct {
	Type      string `json:"type"` // 固定 "presence_changed"
	DocID     string `json:"docId"`
	SessionID string `json:"sessionId"`
	UserID    uint64 `json:"userId"`
	Status    string `json:"status"` // "joined" | "left"
}
