package collab

import (
	"context"
	"fmt"
	"log"
	"time"

	"syncServer/backend/internal/ot"
)

type submitRequest struct {
	ctx          context.Context
	authorID     uint64
	sessionID    string
	baseRevision uint64
	clientID     string
	clientSeq    uint64
	op           ot.Operation
	resp         chan submitResult
}

type submitResult struct {
	ap  AppliedOp
	err error
}

// Submit 把操作交给该文档的 Sequencer goroutine 排队。
// 在 SubmitWait 内挤不进队列（或等不到结果）返回 ErrBusy —— 这是
// 文档级的背压信号，客户端携带同一操作退避重试即可：序列号只在
// 成功路径上提交，重试不会产生第二个操作。
func (e *Engine) Submit(ctx context.Context, docID string, authorID uint64, sessionID string,
	baseRevision uint64, clientID string, clientSeq uint64,
	op ot.Operation) (AppliedOp, error) {

	ds, err := e.getOrLoadDoc(ctx, docID)
	if err != nil {
		return AppliedOp{}, err
	}

	op.ClientID = clientID
	op.ClientSeq = clientSeq

	req := submitRequest{
		ctx:          ctx,
		authorID:     authorID,
		sessionID:    sessionID,
		baseRevision: baseRevision,
		clientID:     clientID,
		clientSeq:    clientSeq,
		op:           op,
		resp:         make(chan submitResult, 1),
	}

	wait := time.NewTimer(e.opt.SubmitWait)
	defer wait.Stop()

	select {
	case ds.requests <- req:
	case <-wait.C:
		return AppliedOp{}, ErrBusy
	case <-ctx.Done():
		return AppliedOp{}, ErrBusy
	case <-ds.quit:
		// 文档刚被驱逐；重试会重新加载
		return AppliedOp{}, ErrBusy
	}

	select {
	case res := <-req.resp:
		return res.ap, res.err
	case <-wait.C:
		return AppliedOp{}, ErrBusy
	case <-ctx.Done():
		return AppliedOp{}, ErrBusy
	}
}

// runSequencer：文档的单写者。全部提交串行通过这里，
// 序列号分配、transform 与落库因此天然原子，不需要分布式事务。
func (e *Engine) runSequencer(ds *docState) {
	for {
		select {
		case req := <-ds.requests:
			res := e.process(ds, req)
			req.resp <- res // resp 带缓冲，发送不阻塞
			if res.err == nil {
				// 从单写者按序列号次序对外广播
				e.notifyApplied(ds.docID, res.ap)
			}
		case <-ds.quit:
			return
		}
	}
}

// process 执行一次提交。单个操作的失败只打掉这次提交，
// 绝不打掉 Sequencer 本身（一个坏操作不能把文档卡死）。
func (e *Engine) process(ds *docState, req submitRequest) (res submitResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("sequencer: panic on doc=%s client=%s seq=%d: %v", ds.docID, req.clientID, req.clientSeq, r)
			res = submitResult{err: fmt.Errorf("%w: %v", ot.ErrMalformedOperation, r)}
		}
	}()

	ds.mu.Lock()
	defer ds.mu.Unlock()

	// 去重窗口：同一 clientSeq 的重放返回上次的结果（幂等 ack），
	// 更早的序号视为乱序拒绝
	if last, ok := ds.lastSeqByClient[req.clientID]; ok {
		if req.clientSeq == last {
			if ap, ok := ds.lastApplied[req.clientID]; ok {
				return submitResult{ap: ap}
			}
			return submitResult{err: ErrDuplicateOrOutOfOrder}
		}
		if req.clientSeq < last {
			return submitResult{err: ErrDuplicateOrOutOfOrder}
		}
	}

	if req.baseRevision > ds.revision {
		return submitResult{err: ErrRevisionConflict}
	}
	if req.baseRevision < ds.floorLocked() {
		// 基准已被压实进快照，客户端需要重新 join + 全量 catch-up
		return submitResult{err: ErrStaleReference}
	}

	// 把操作穿过基准之后的全部并发操作（日志序）
	transformed := req.op
	for _, c := range ds.ring {
		if c.Seq > req.baseRevision {
			transformed = ot.Transform(transformed, c.Op)
		}
	}

	if err := transformed.Validate(ds.buf.Len()); err != nil {
		return submitResult{err: err}
	}

	newContent, err := ot.Apply(ds.buf.String(), transformed)
	if err != nil {
		return submitResult{err: err}
	}

	seq := ds.revision + 1
	now := time.Now()
	rec := OperationRecord{
		OperationID: fmt.Sprintf("o-%d", now.UnixNano()),
		DocID:       ds.docID,
		Seq:         seq,
		AuthorID:    req.authorID,
		SessionID:   req.sessionID,
		Op:          transformed,
		AppliedAt:   now,
	}

	// 唯一的 I/O：操作行 + 文档版本在一个事务里落库。
	// 失败则整体失败，内存不动，序列号没有被占用
	if err := e.oplog.Append(req.ctx, rec, newContent); err != nil {
		return submitResult{err: err}
	}

	// 落库确认后才推进内存状态
	if err := ds.buf.ApplyOp(transformed); err != nil {
		// Validate 已过，这里不应该发生；记录并保持与落库内容一致
		log.Printf("sequencer: buffer apply failed doc=%s seq=%d: %v", ds.docID, seq, err)
		ds.buf = NewPieceTable(newContent)
	}
	ds.revision = seq
	ap := recordToApplied(rec)
	ds.appendRingLocked(ap, e.opt.RingCap)
	ds.lastSeqByClient[req.clientID] = req.clientSeq
	ds.lastApplied[req.clientID] = ap
	ds.lastActive = now

	// 下游事件：尽力而为，不影响提交结果
	if e.sink != nil {
		evt := DocOpEvent{
			EventType:    "OP_APPLIED",
			DocID:        ds.docID,
			OperationID:  ap.OperationID,
			Seq:          ap.Seq,
			AuthorID:     ap.AuthorID,
			ClientID:     ap.ClientID,
			ClientSeq:    ap.ClientSeq,
			BaseRevision: req.baseRevision,
			Op:           ap.Op,
			AppliedAt:    ap.AppliedAt,
		}
		sinkCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if err := e.sink.Enqueue(sinkCtx, evt); err != nil {
			log.Printf("sequencer: drop event doc=%s seq=%d: %v", ds.docID, seq, err)
		}
		cancel()
	}

	// 周期压实：异步落快照，不在临界路径上等待
	if e.opt.SnapshotEvery > 0 && seq%e.opt.SnapshotEvery == 0 {
		go func(docID, content string, rev uint64) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.snapshots.SaveDocumentSnapshot(ctx, docID, rev, content); err != nil {
				log.Printf("sequencer: periodic snapshot doc=%s rev=%d: %v", docID, rev, err)
			}
		}(ds.docID, newContent, seq)
	}

	return submitResult{ap: ap}
}
