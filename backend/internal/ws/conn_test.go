package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"syncServer/backend/internal/authz"
	"syncServer/backend/internal/cache"
	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/ot"
)

type fakePresence struct{}

func (fakePresence) AddSession(ctx context.Context, docID, sessionID string, userID uint64, username string, ttl time.Duration) error {
	return nil
}
func (fakePresence) RemoveSession(ctx context.Context, docID, sessionID string) error { return nil }
func (fakePresence) GetAliveSessions(ctx context.Context, docID string) ([]cache.SessionInfo, error) {
	return nil, nil
}
func (fakePresence) SetCursor(ctx context.Context, docID, sessionID string, jsonData []byte, ttl time.Duration) error {
	return nil
}
func (fakePresence) GetCursor(ctx context.Context, docID, sessionID string) ([]byte, error) {
	return nil, nil
}

type stubService struct {
	hub *Hub
	ops []collab.AppliedOp
	rev uint64

	revErr error

	// 非 nil 时在 OpsSince 执行中途广播一条操作，
	// 模拟 join 窗口期被定序的并发提交
	duringCatchUp *collab.AppliedOp
}

func (s *stubService) Submit(ctx context.Context, docID string, authorID uint64, sessionID string,
	baseRevision uint64, clientID string, clientSeq uint64, op ot.Operation) (collab.AppliedOp, error) {
	return collab.AppliedOp{}, nil
}

func (s *stubService) CurrentRevision(ctx context.Context, docID string) (uint64, error) {
	return s.rev, s.revErr
}

func (s *stubService) LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error) {
	return "", s.rev, nil
}

func (s *stubService) OpsSince(ctx context.Context, docID string, fromRevision uint64, limit int) ([]collab.AppliedOp, error) {
	if s.duringCatchUp != nil {
		ap := *s.duringCatchUp
		s.duringCatchUp = nil
		s.hub.BroadcastApplied(docID, ap)
	}
	return s.ops, nil
}

func (s *stubService) SaveSnapshot(ctx context.Context, docID string) error { return nil }
func (s *stubService) CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error) {
	return "d-1", nil
}
func (s *stubService) GetDocumentID(ctx context.Context, title string) (string, error) {
	return "d-1", nil
}
func (s *stubService) Attach(ctx context.Context, docID string) error { return nil }
func (s *stubService) Detach(docID string)                            {}

func TestConn_JoinDeliversOpsSequencedDuringCatchUp(t *testing.T) {
	h := NewHub(fakePresence{})
	svc := &stubService{
		hub: h,
		ops: []collab.AppliedOp{{Seq: 1, ClientID: "B", Op: ot.Operation{Kind: ot.KindInsert, Pos: 0, Text: "a"}}},
		rev: 1,
		// catch-up 计算期间另一个客户端的 seq 2 被定序并广播
		duringCatchUp: &collab.AppliedOp{Seq: 2, ClientID: "B", Op: ot.Operation{Kind: ot.KindInsert, Pos: 1, Text: "b"}},
	}
	c := NewConn(nil, h, "s-1", 1, "alice", svc, nil, authz.AllowAll{})

	c.handleJoin(context.Background(), ClientMessage{Type: "join", DocID: "doc1", ClientID: "A"})

	if c.state != stateActive {
		t.Fatalf("state = %v, want active", c.state)
	}

	var sawCatchUp, sawSeq2 bool
	for _, raw := range drain(t, c) {
		switch msg := raw.(type) {
		case CatchUpMessage:
			sawCatchUp = true
			if len(msg.Ops) != 1 || msg.Ops[0].Seq != 1 {
				t.Fatalf("catch-up ops = %+v, want exactly seq 1", msg.Ops)
			}
			if msg.CurrentVersion != 1 {
				t.Fatalf("currentVersion = %d, want 1", msg.CurrentVersion)
			}
		case OpBroadcastMessage:
			if msg.Seq == 2 {
				sawSeq2 = true
			}
		}
	}
	if !sawCatchUp {
		t.Fatalf("catch_up message never sent")
	}
	// 窗口期的操作必须通过广播补上，否则客户端留下永久空洞
	if !sawSeq2 {
		t.Fatalf("op sequenced during catch-up was never delivered")
	}
}

func TestConn_JoinAbortsCleanlyOnRevisionError(t *testing.T) {
	h := NewHub(fakePresence{})
	svc := &stubService{hub: h, revErr: errors.New("db down")}
	c := NewConn(nil, h, "s-1", 1, "alice", svc, nil, authz.AllowAll{})

	c.handleJoin(context.Background(), ClientMessage{Type: "join", DocID: "doc1", ClientID: "A"})

	if c.state == stateActive {
		t.Fatalf("join succeeded despite revision load failure")
	}
	if got := h.RoomSize("doc1"); got != 0 {
		t.Fatalf("RoomSize = %d, want 0 after aborted join", got)
	}
	msgs := drain(t, c)
	if len(msgs) == 0 {
		t.Fatalf("no error message sent")
	}
	last, ok := msgs[len(msgs)-1].(ServerMessage)
	if !ok || last.Type != "error" || last.Content != "CATCH_UP_FAILED" {
		t.Fatalf("last message = %+v, want CATCH_UP_FAILED error", msgs[len(msgs)-1])
	}
}
