package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"syncServer/backend/internal/authz"
	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/ot"
)

// 会话状态机：Joining -> Active -> Disconnected（终态）
type sessionState int

const (
	stateJoining sessionState = iota
	stateActive
	stateDisconnected
)

const (
	// 超过这个窗口没有任何入站消息（含心跳）视为失联
	heartbeatTimeout = 30 * time.Second
	// redis 侧的逻辑 TTL 放宽一些，网络抖动时以连接判定为准
	presenceTTL = 600 * time.Second
)

type Conn struct {
	ws        *websocket.Conn
	hub       *Hub
	svc       collab.Service
	sem       *collab.SemaphoreControl
	checker   authz.Checker
	docID     string
	sessionID string
	userID    uint64
	username  string
	clientID  string
	state     sessionState

	send     chan OutboundMessage
	dead     chan struct{}
	deadOnce sync.Once
}

func NewConn(ws *websocket.Conn, hub *Hub, sessionID string, userID uint64, username string,
	svc collab.Service, sem *collab.SemaphoreControl, checker authz.Checker) *Conn {
	return &Conn{
		ws:        ws,
		hub:       hub,
		svc:       svc,
		sem:       sem,
		checker:   checker,
		sessionID: sessionID,
		userID:    userID,
		username:  username,
		state:     stateJoining,
		send:      make(chan OutboundMessage, 64),
		dead:      make(chan struct{}),
	}
}

// SendMessage_Enqueue：入站广播统一走这里。
// 队列满说明消费端已经跟不上，丢消息会破坏 "成员不可能先看到
// seq N+1 再看到 N" 的保证，所以直接判死连接，让客户端重连 catch-up。
func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
		c.kill()
	}
}

func (c *Conn) kill() {
	c.deadOnce.Do(func() {
		close(c.dead)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	docID := msg.DocID
	if docID == "" && msg.DocTitle != "" {
		id, err := c.svc.GetDocumentID(ctx, msg.DocTitle)
		if err != nil {
			c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "GET_DOCID_FAILED"})
			return
		}
		docID = id
	}
	if docID == "" {
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "MISSING_DOC_ID"})
		return
	}

	// 权限预检：外部协作方说了算
	allowed, err := c.checker.Check(ctx, c.userID, docID, "write")
	if err != nil {
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "AUTHZ_UPSTREAM_ERROR"})
		return
	}
	if !allowed {
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: authz.ErrPermissionDenied.Error()})
		return
	}

	// 动态切换房间：先退旧房间
	if c.state == stateActive && c.docID != "" && c.docID != docID {
		c.leaveRoom(ctx)
		c.state = stateJoining
	}

	if err := c.svc.Attach(ctx, docID); err != nil {
		log.Printf("join: attach doc=%s failed: %v", docID, err)
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "JOIN_FAILED"})
		return
	}
	c.docID = docID
	c.clientID = msg.ClientID

	// 先入房间、再算 catch-up：这个顺序保证窗口期内被定序的操作
	// 要么进 catch-up、要么进 send 队列，不可能两头都漏。重叠部分
	// 客户端按 seq 去重（反过来先算再入房会留下永久的空洞）
	c.hub.Join(docID, c)

	// catch-up 包：knownVersion 之后的全部操作 + 在线名单 + 当前版本
	ops, err := c.svc.OpsSince(ctx, docID, msg.KnownVersion, 0)
	if err != nil {
		c.abortJoin(docID)
		return
	}
	rev, err := c.svc.CurrentRevision(ctx, docID)
	if err != nil {
		c.abortJoin(docID)
		return
	}

	if err := c.hub.presence.AddSession(ctx, docID, c.sessionID, c.userID, c.username, presenceTTL); err != nil {
		log.Printf("join: presence add session=%s failed: %v", c.sessionID, err)
	}
	sessions, err := c.hub.presence.GetAliveSessions(ctx, docID)
	if err != nil {
		log.Printf("join: presence list doc=%s failed: %v", docID, err)
	}

	c.SendMessage_Enqueue(CatchUpMessage{
		Type:           "catch_up",
		DocID:          docID,
		Ops:            ops,
		Presence:       sessions,
		CurrentVersion: rev,
	})
	c.state = stateActive

	c.hub.BroadcastPresenceChanged(docID, c, PresenceChangedMessage{
		Type: "presence_changed", DocID: docID,
		SessionID: c.sessionID, UserID: c.userID, Status: "joined",
	})
}

// abortJoin：catch-up 失败时回退 join 的副作用
func (c *Conn) abortJoin(docID string) {
	c.hub.Leave(docID, c)
	c.svc.Detach(docID)
	c.docID = ""
	c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "CATCH_UP_FAILED"})
}

func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	if c.state != stateActive || c.docID == "" {
		c.SendMessage_Enqueue(OpRejectedMessage{
			Type: "op_rejected", DocID: msg.DocID,
			ClientID: msg.ClientID, ClientSeq: msg.ClientSeq,
			Reason: "NOT_JOINED",
		})
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.sem.Acquire(submitCtx); err != nil {
		c.reject(msg, collab.ErrBusy)
		return
	}
	defer c.sem.Release()

	ap, err := c.svc.Submit(submitCtx, c.docID, c.userID, c.sessionID,
		msg.BaseRevision, msg.ClientID, msg.ClientSeq, msg.Op)
	if err != nil {
		c.reject(msg, err)
		return
	}

	// 给提交者的 ack；房间广播由 Engine 的按序回调负责
	c.SendMessage_Enqueue(OpAppliedMessage{
		Type:         "op_applied",
		DocID:        c.docID,
		BaseRevision: msg.BaseRevision,
		Seq:          ap.Seq,
		ClientID:     msg.ClientID,
		ClientSeq:    msg.ClientSeq,
		Op:           ap.Op,
	})
}

// reject：拒绝原因只发给提交者本人
func (c *Conn) reject(msg ClientMessage, err error) {
	c.SendMessage_Enqueue(OpRejectedMessage{
		Type:      "op_rejected",
		DocID:     c.docID,
		ClientID:  msg.ClientID,
		ClientSeq: msg.ClientSeq,
		Reason:    rejectReason(err),
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, collab.ErrBusy):
		return collab.ErrBusy.Error()
	case errors.Is(err, collab.ErrStaleReference):
		return collab.ErrStaleReference.Error()
	case errors.Is(err, collab.ErrRevisionConflict):
		return collab.ErrRevisionConflict.Error()
	case errors.Is(err, collab.ErrDuplicateOrOutOfOrder):
		return collab.ErrDuplicateOrOutOfOrder.Error()
	case errors.Is(err, ot.ErrMalformedOperation):
		return ot.ErrMalformedOperation.Error()
	case errors.Is(err, collab.ErrDocumentNotFound):
		return collab.ErrDocumentNotFound.Error()
	case errors.Is(err, authz.ErrPermissionDenied):
		return authz.ErrPermissionDenied.Error()
	default:
		return "INTERNAL"
	}
}

func (c *Conn) handleCursor(ctx context.Context, msg ClientMessage) {
	if c.state != stateActive {
		return
	}
	if err := c.hub.presence.SetCursor(ctx, c.docID, c.sessionID, msg.Cursor, presenceTTL); err != nil {
		log.Printf("cursor: persist session=%s failed: %v", c.sessionID, err)
	}
	c.hub.BroadcastCursor(c.docID, c, CursorMessage{
		Type: "cursor", DocID: c.docID,
		SessionID: c.sessionID, UserID: c.userID, Cursor: msg.Cursor,
	})
}

func (c *Conn) leaveRoom(ctx context.Context) {
	if c.docID == "" {
		return
	}
	c.hub.Leave(c.docID, c)
	c.svc.Detach(c.docID)
	if err := c.hub.presence.RemoveSession(ctx, c.docID, c.sessionID); err != nil {
		log.Printf("leave: presence remove session=%s failed: %v", c.sessionID, err)
	}
	c.hub.BroadcastPresenceChanged(c.docID, c, PresenceChangedMessage{
		Type: "presence_changed", DocID: c.docID,
		SessionID: c.sessionID, UserID: c.userID, Status: "left",
	})
	c.docID = ""
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.leaveRoom(context.Background())
		c.state = stateDisconnected
		// send 永不关闭：还拿着旧房间快照的广播方可能在此之后入队，
		// 对关闭的通道发送会 panic。writeLoop 由 dead 信号收尾
		c.kill()
	}()

	for {
		// 心跳窗口：每条入站消息都续期
		_ = c.ws.SetReadDeadline(time.Now().Add(heartbeatTimeout))

		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (user=%d, session=%s, doc=%s): %v", c.userID, c.sessionID, c.docID, err)
			return
		}

		select {
		case <-c.dead:
			return
		default:
		}

		switch msg.Type {
		case "heartbeat":
			if c.state == stateActive && c.docID != "" {
				if err := c.hub.presence.AddSession(ctx, c.docID, c.sessionID, c.userID, c.username, presenceTTL); err != nil {
					log.Printf("heartbeat: presence refresh failed: %v", err)
				}
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})

		case "join":
			c.handleJoin(ctx, msg)

		case "op_submit":
			c.handleOpSubmit(ctx, msg)

		case "cursor":
			c.handleCursor(ctx, msg)

		case "presence_query":
			sessions, err := c.hub.presence.GetAliveSessions(ctx, c.docID)
			if err != nil {
				log.Printf("presence query doc=%s failed: %v", c.docID, err)
			}
			c.SendMessage_Enqueue(PresenceMessage{Type: "presence", DocID: c.docID, Sessions: sessions})

		case "create_document":
			docID, err := c.svc.CreateDocument(ctx, c.userID, msg.DocTitle)
			if err != nil {
				log.Printf("create document error: %v", err)
				c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "CREATE_DOC_FAILED"})
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "create_document", DocID: docID})

		case "save_document":
			if err := c.svc.SaveSnapshot(ctx, c.docID); err != nil {
				log.Printf("save document error: %v", err)
				c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "SAVE_FAILED"})
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "save_document", DocID: c.docID})

		case "load_document":
			content, rev, err := c.svc.LoadDocumentContent(ctx, c.docID)
			if err != nil {
				log.Printf("load document content error: %v", err)
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "load_document", DocID: c.docID, Content: content, Revision: rev})

		case "leave":
			return

		default:
			c.SendMessage_Enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteJSON(msg); err != nil {
				c.kill()
				return
			}
		case <-c.dead:
			return
		}
	}
}
