package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// 单文档状态：Sequencer goroutine 独占写，读走 RLock。
type docState struct {
	mu       sync.RWMutex
	docID    string
	revision uint64
	buf      Buffer
	// 近期操作尾部（seq 连续升序），transform 与 catch-up 的快路径
	ring []AppliedOp
	// 去重窗口：clientId -> 最近一次已应用的 clientSeq / 结果
	lastSeqByClient map[string]uint64
	lastApplied     map[string]AppliedOp

	requests chan submitRequest
	quit     chan struct{}

	refs       int
	lastActive time.Time
}

// ring 之外的序列号已被压实进快照；floor 是 transform 可用的最低基准。
func (ds *docState) floorLocked() uint64 {
	return ds.revision - uint64(len(ds.ring))
}

type EngineOptions struct {
	RingCap       int           // 近期操作环形缓冲容量
	SnapshotEvery uint64        // 每 N 个操作异步存一次快照，0 关闭
	SubmitWait    time.Duration // 入队 + 等待结果的上限，超时返回 BUSY
	IdleGrace     time.Duration // 无会话文档的驱逐宽限期
	QueueDepth    int           // 每文档提交队列深度
}

// Engine：按文档 id 编址的 per-document Sequencer 竞技场。
// 文档状态首次 join 时创建，空闲后驱逐；没有全局锁参与提交路径。
type Engine struct {
	mu   sync.RWMutex
	docs map[string]*docState
	opt  EngineOptions

	oplog     OperationLog
	snapshots SnapshotStore
	documents DocumentStore
	sink      EventSink

	// 顺序回调：每个已应用操作按序列号次序从 Sequencer goroutine 通知，
	// ws 层据此做房间广播
	appliedMu sync.RWMutex
	applied   func(docID string, ap AppliedOp)

	janitorQuit chan struct{}
	closeOnce   sync.Once
}

func NewEngine(oplog OperationLog, snapshots SnapshotStore, documents DocumentStore, sink EventSink, opt EngineOptions) *Engine {
	if opt.RingCap <= 0 {
		opt.RingCap = 1024
	}
	if opt.SubmitWait <= 0 {
		opt.SubmitWait = 2 * time.Second
	}
	if opt.IdleGrace <= 0 {
		opt.IdleGrace = 5 * time.Minute
	}
	if opt.QueueDepth <= 0 {
		opt.QueueDepth = 256
	}
	e := &Engine{
		docs:        make(map[string]*docState),
		opt:         opt,
		oplog:       oplog,
		snapshots:   snapshots,
		documents:   documents,
		sink:        sink,
		janitorQuit: make(chan struct{}),
	}
	go e.janitorLoop()
	return e
}

// SetAppliedListener 注册按序通知的广播回调（ws.Hub 挂接）。
func (e *Engine) SetAppliedListener(fn func(docID string, ap AppliedOp)) {
	e.appliedMu.Lock()
	e.applied = fn
	e.appliedMu.Unlock()
}

func (e *Engine) notifyApplied(docID string, ap AppliedOp) {
	e.appliedMu.RLock()
	fn := e.applied
	e.appliedMu.RUnlock()
	if fn != nil {
		fn(docID, ap)
	}
}

// getOrLoadDoc：双检创建。慢路径从最新快照 + 日志重放恢复状态，
// 并用重放的尾部预热 ring，让低版本客户端的 catch-up 走内存。
func (e *Engine) getOrLoadDoc(ctx context.Context, docID string) (*docState, error) {
	e.mu.RLock()
	ds := e.docs[docID]
	e.mu.RUnlock()
	if ds != nil {
		return ds, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ds = e.docs[docID]; ds != nil {
		return ds, nil
	}

	content, seq, err := e.loadBase(ctx, docID)
	if err != nil {
		return nil, err
	}

	ds = &docState{
		docID:           docID,
		revision:        seq,
		buf:             NewPieceTable(content),
		ring:            make([]AppliedOp, 0, e.opt.RingCap),
		lastSeqByClient: make(map[string]uint64),
		lastApplied:     make(map[string]AppliedOp),
		requests:        make(chan submitRequest, e.opt.QueueDepth),
		quit:            make(chan struct{}),
		lastActive:      time.Now(),
	}

	// 快照之后的日志重放
	recs, err := e.oplog.ListSince(ctx, docID, seq)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.Seq != ds.revision+1 {
			return nil, fmt.Errorf("operation log gap for doc %s: have %d, next %d", docID, ds.revision, rec.Seq)
		}
		if err := ds.buf.ApplyOp(rec.Op); err != nil {
			return nil, fmt.Errorf("replay doc %s seq %d: %w", docID, rec.Seq, err)
		}
		ds.revision = rec.Seq
		ds.appendRingLocked(recordToApplied(rec), e.opt.RingCap)
		ds.lastSeqByClient[rec.Op.ClientID] = rec.Op.ClientSeq
	}

	e.docs[docID] = ds
	go e.runSequencer(ds)
	return ds, nil
}

// loadBase：优先快照，否则 documents 行，两者都没有视为不存在。
func (e *Engine) loadBase(ctx context.Context, docID string) (string, uint64, error) {
	content, seq, err := e.snapshots.LatestSnapshot(ctx, docID)
	if err == nil {
		return content, seq, nil
	}
	if !errors.Is(err, ErrNoSnapshot) {
		return "", 0, err
	}
	return e.documents.GetDocument(ctx, docID)
}

func (ds *docState) appendRingLocked(ap AppliedOp, capacity int) {
	if len(ds.ring) == capacity {
		copy(ds.ring, ds.ring[1:])
		ds.ring = ds.ring[:len(ds.ring)-1]
	}
	ds.ring = append(ds.ring, ap)
}

func recordToApplied(rec OperationRecord) AppliedOp {
	return AppliedOp{
		OperationID: rec.OperationID,
		Seq:         rec.Seq,
		AuthorID:    rec.AuthorID,
		ClientID:    rec.Op.ClientID,
		ClientSeq:   rec.Op.ClientSeq,
		Op:          rec.Op,
		AppliedAt:   rec.AppliedAt,
	}
}

func (e *Engine) CurrentRevision(ctx context.Context, docID string) (uint64, error) {
	ds, err := e.getOrLoadDoc(ctx, docID)
	if err != nil {
		return 0, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.revision, nil
}

func (e *Engine) LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error) {
	ds, err := e.getOrLoadDoc(ctx, docID)
	if err != nil {
		return "", 0, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.buf.String(), ds.revision, nil
}

// OpsSince：ring 覆盖不到的老版本退回操作日志，catch-up 永远完整。
func (e *Engine) OpsSince(ctx context.Context, docID string, fromRevision uint64, limit int) ([]AppliedOp, error) {
	ds, err := e.getOrLoadDoc(ctx, docID)
	if err != nil {
		return nil, err
	}

	ds.mu.RLock()
	floor := ds.floorLocked()
	if fromRevision >= floor {
		var out []AppliedOp
		for _, ap := range ds.ring {
			if ap.Seq > fromRevision {
				out = append(out, ap)
				if limit > 0 && len(out) >= limit {
					break
				}
			}
		}
		ds.mu.RUnlock()
		return out, nil
	}
	ds.mu.RUnlock()

	recs, err := e.oplog.ListSince(ctx, docID, fromRevision)
	if err != nil {
		return nil, err
	}
	out := make([]AppliedOp, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordToApplied(rec))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (e *Engine) SaveSnapshot(ctx context.Context, docID string) error {
	e.mu.RLock()
	ds := e.docs[docID]
	e.mu.RUnlock()
	if ds == nil {
		return ErrDocumentNotFound
	}
	ds.mu.RLock()
	content := ds.buf.String()
	rev := ds.revision
	ds.mu.RUnlock()
	return e.snapshots.SaveDocumentSnapshot(ctx, docID, rev, content)
}

func (e *Engine) CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error) {
	return e.documents.CreateDocument(ctx, ownerID, title)
}

func (e *Engine) GetDocumentID(ctx context.Context, title string) (string, error) {
	return e.documents.GetDocumentID(ctx, title)
}

func (e *Engine) Attach(ctx context.Context, docID string) error {
	ds, err := e.getOrLoadDoc(ctx, docID)
	if err != nil {
		return err
	}
	ds.mu.Lock()
	ds.refs++
	ds.lastActive = time.Now()
	ds.mu.Unlock()
	return nil
}

func (e *Engine) Detach(docID string) {
	e.mu.RLock()
	ds := e.docs[docID]
	e.mu.RUnlock()
	if ds == nil {
		return
	}
	ds.mu.Lock()
	if ds.refs > 0 {
		ds.refs--
	}
	ds.lastActive = time.Now()
	ds.mu.Unlock()
}

// janitorLoop：驱逐无会话且超过宽限期的空闲文档，先落快照再下线。
func (e *Engine) janitorLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.evictIdle()
		case <-e.janitorQuit:
			return
		}
	}
}

func (e *Engine) evictIdle() {
	type candidate struct {
		docID   string
		ds      *docState
		content string
		rev     uint64
	}

	var idle []candidate
	e.mu.RLock()
	for docID, ds := range e.docs {
		ds.mu.RLock()
		if ds.refs == 0 && len(ds.requests) == 0 && time.Since(ds.lastActive) > e.opt.IdleGrace {
			idle = append(idle, candidate{docID: docID, ds: ds, content: ds.buf.String(), rev: ds.revision})
		}
		ds.mu.RUnlock()
	}
	e.mu.RUnlock()

	for _, c := range idle {
		// 快照写在引擎锁外：驱逐一个文档不能拖住其他文档的
		// 加载与提交（文档之间是独立的并发单元）
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := e.snapshots.SaveDocumentSnapshot(ctx, c.docID, c.rev, c.content)
		cancel()
		if err != nil {
			log.Printf("evict: snapshot doc=%s rev=%d failed, keep in memory: %v", c.docID, c.rev, err)
			continue
		}

		// 落快照期间文档可能又活跃了：重新校验后才下线
		e.mu.Lock()
		ds := e.docs[c.docID]
		if ds != c.ds {
			e.mu.Unlock()
			continue
		}
		ds.mu.RLock()
		stillIdle := ds.refs == 0 && len(ds.requests) == 0 &&
			ds.revision == c.rev && time.Since(ds.lastActive) > e.opt.IdleGrace
		ds.mu.RUnlock()
		if !stillIdle {
			e.mu.Unlock()
			continue
		}
		close(ds.quit)
		delete(e.docs, c.docID)
		e.mu.Unlock()
	}
}

func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.janitorQuit)
		e.mu.Lock()
		defer e.mu.Unlock()
		for docID, ds := range e.docs {
			close(ds.quit)
			delete(e.docs, docID)
		}
	})
}
