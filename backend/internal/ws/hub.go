package ws

import (
	"sync"

	"syncServer/backend/internal/cache"
	"syncServer/backend/internal/collab"
)

// Hub：docID -> 房间（连接集合）。
// 房间里存连接而不是 userID：同一用户可开多个标签页/设备，
// 广播要逐连接发。
type Hub struct {
	presence cache.PresenceCache
	mu       sync.RWMutex
	rooms    map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// roomConns：在锁内把房间成员拷出来。房间 map 会被 Join/Leave
// 并发改写，绝不能在锁外迭代
func (h *Hub) roomConns(docID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.rooms[docID]))
	for c := range h.rooms[docID] {
		conns = append(conns, c)
	}
	return conns
}

// BroadcastApplied 由 Engine 的按序回调驱动（Sequencer 单写者里
// 逐条调用），因此同一文档的 op_broadcast 到达每个 send 队列的
// 顺序就是序列号顺序。提交者本人走 Submit 返回路径收 ack，这里跳过。
func (h *Hub) BroadcastApplied(docID string, ap collab.AppliedOp) {
	msg := OpBroadcastMessage{
		Type:      "op_broadcast",
		DocID:     docID,
		Seq:       ap.Seq,
		AuthorID:  ap.AuthorID,
		ClientID:  ap.ClientID,
		ClientSeq: ap.ClientSeq,
		Op:        ap.Op,
		AppliedAt: ap.AppliedAt,
	}
	for _, c := range h.roomConns(docID) {
		// 空 clientId 不参与跳过判定，否则会误伤别的匿名连接
		if ap.ClientID != "" && c.clientID == ap.ClientID {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}

func (h *Hub) BroadcastCursor(docID string, sender *Conn, msg CursorMessage) {
	for _, c := range h.roomConns(docID) {
		if c == sender {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}

func (h *Hub) BroadcastPresenceChanged(docID string, sender *Conn, msg PresenceChangedMessage) {
	for _, c := range h.roomConns(docID) {
		if c == sender {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}

// RoomSize 给空闲驱逐与测试用
func (h *Hub) RoomSize(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}
