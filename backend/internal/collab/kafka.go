package collab

import (
	"time"

	"syncServer/backend/internal/ot"
)

// 发往下游消费者（AI 建议、动态流）的已应用操作事件。
type DocOpEvent struct {
	EventType    string       `json:"eventType"` // 固定 "OP_APPLIED"
	DocID        string       `json:"docId"`
	OperationID  string       `json:"operationId"`
	Seq          uint64       `json:"seq"`
	AuthorID     uint64       `json:"authorId"`
	ClientID     string       `json:"clientId"`
	ClientSeq    uint64       `json:"clientSeq"`
	BaseRevision uint64       `json:"baseRevision"`
	Op           ot.Operation `json:"op"`
	AppliedAt    time.Time    `json:"appliedAt"`
}
