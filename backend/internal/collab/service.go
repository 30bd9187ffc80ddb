package collab

import (
	"context"
	"errors"
	"time"

	"syncServer/backend/internal/ot"
)

// 协作引擎接口。Submit 之外的方法都只读，可并发调用。
type Service interface {
	// Submit 把一个以 baseRevision 为基准的客户端操作提交给
	// 该文档的 Sequencer，返回变换后的操作与服务端序列号。
	Submit(ctx context.Context, docID string, authorID uint64, sessionID string,
		baseRevision uint64, clientID string, clientSeq uint64,
		op ot.Operation) (AppliedOp, error)

	CurrentRevision(ctx context.Context, docID string) (uint64, error)

	LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error)

	// OpsSince 返回 fromRevision 之后的操作，按序列号升序，无空洞。
	// 用于握手 catch-up 与断线重连。
	OpsSince(ctx context.Context, docID string, fromRevision uint64, limit int) ([]AppliedOp, error)

	SaveSnapshot(ctx context.Context, docID string) error

	CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error)
	GetDocumentID(ctx context.Context, title string) (string, error)

	// Attach/Detach 维护文档的活跃会话计数，决定空闲驱逐时机
	Attach(ctx context.Context, docID string) error
	Detach(docID string)
}

// 提交被接受后的结果：变换后的操作 + 服务端序列号。
type AppliedOp struct {
	OperationID string       `json:"operationId"`
	Seq         uint64       `json:"seq"`
	AuthorID    uint64       `json:"authorId"`
	ClientID    string       `json:"clientId"`
	ClientSeq   uint64       `json:"clientSeq"`
	Op          ot.Operation `json:"op"`
	AppliedAt   time.Time    `json:"appliedAt"`
}

// 操作日志里的一行（append-only，按 (docID, seq) 唯一）。
type OperationRecord struct {
	OperationID string
	DocID       string
	Seq         uint64
	AuthorID    uint64
	SessionID   string
	Op          ot.Operation
	AppliedAt   time.Time
}

// OperationLog 由 Sequencer 临界区独占写入。
// Append 必须把操作行与文档版本推进放在同一个事务里：
// 要么整体提交（序列号生效），要么整体失败（无部分状态）。
type OperationLog interface {
	Append(ctx context.Context, rec OperationRecord, newContent string) error
	ListSince(ctx context.Context, docID string, afterSeq uint64) ([]OperationRecord, error)
}

// 快照存储接口
type SnapshotStore interface {
	SaveDocumentSnapshot(ctx context.Context, docID string, seq uint64, content string) error
	LatestSnapshot(ctx context.Context, docID string) (content string, seq uint64, err error)
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error)
	GetDocumentID(ctx context.Context, title string) (string, error)
	GetDocument(ctx context.Context, docID string) (content string, version uint64, err error)
}

// 下游事件出口（AI 建议、动态流等），永远不在提交关键路径上。
type EventSink interface {
	Enqueue(ctx context.Context, evt DocOpEvent) error
}

var (
	ErrRevisionConflict      = errors.New("REVISION_CONFLICT")
	ErrDuplicateOrOutOfOrder = errors.New("DUPLICATE_OR_OUT_OF_ORDER")
	ErrStaleReference        = errors.New("STALE_REFERENCE")
	ErrBusy                  = errors.New("BUSY")
	ErrDocumentNotFound      = errors.New("DOCUMENT_NOT_FOUND")
	ErrNoSnapshot            = errors.New("NO_SNAPSHOT")
)
