package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"folderSync/backend/internal/notify"
	"folderSync/backend/internal/revision"
)

// 服务端权威：只接受基于最新版本的修订，从不做 transform
type Service interface {
	Submit(ctx context.Context, r revision.Revision) (SubmitResult, error)

	CurrentRevision(ctx context.Context, objectID string) (uint64, error)

	LoadContent(ctx context.Context, objectID string) (string, uint64, error)

	// 握手/追平用
	RevisionsSince(ctx context.Context, objectID string, from uint64) ([]revision.Revision, error)
	RevisionRange(ctx context.Context, objectID string, rng revision.Range) ([]revision.Revision, error)

	SaveSnapshot(ctx context.Context, objectID string) error
}

// 快照存储接口
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, objectID string, rev uint64, content string) error
	LatestSnapshot(ctx context.Context, objectID string) (uint64, string, bool, error)
}

type Publisher interface {
	Enqueue(ctx context.Context, evt notify.RevisionEvent) error
}

// RevisionCache 最新 rev id 的外部缓存（redis）
type RevisionCache interface {
	Set(ctx context.Context, objectID string, revID uint64) error
	LatestRevID(ctx context.Context, objectID string, fetch func(context.Context) (uint64, bool, error)) (uint64, error)
}

type Outcome int

const (
	OutcomeApplied Outcome = iota
	// 重传，已经接受过
	OutcomeDuplicate
	// base 落后，需要把 (base, tip] 推给客户端
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeConflict:
		return "conflict"
	}
	return "applied"
}

type SubmitResult struct {
	Outcome Outcome
	// Applied/Duplicate 时是存下来的那条修订
	Revision revision.Revision
	// Conflict 时客户端缺的修订
	Push []revision.Revision
}

type docState struct {
	mu     sync.RWMutex
	loaded bool
	tip    uint64
	// 近期修订环形缓冲
	ring []revision.Revision
	buf  Buffer
}

func (ds *docState) remember(r revision.Revision, capacity int) {
	if capacity > 0 && len(ds.ring) == capacity {
		copy(ds.ring[0:], ds.ring[1:])
		ds.ring = ds.ring[:len(ds.ring)-1]
	}
	ds.ring = append(ds.ring, r)
}

type Options struct {
	// 近期修订环形缓冲容量
	RingCap int
	// 每接受多少条修订自动存一次快照，0 表示不自动存
	SnapshotEvery uint64
	// 投递事件的等待上限
	PublishTimeout time.Duration
}

// RevisionService 每个对象一份内存状态，修订日志落在 Persistence 里
type RevisionService struct {
	mu   sync.RWMutex
	docs map[string]*docState
	opts Options

	log       revision.Persistence
	snapshots SnapshotStore
	publisher Publisher
	revCache  RevisionCache
}

// NewRevisionService snapshots/publisher/revCache 都可以为 nil
func NewRevisionService(log revision.Persistence, snapshots SnapshotStore, publisher Publisher, revCache RevisionCache, opts Options) *RevisionService {
	if opts.RingCap <= 0 {
		opts.RingCap = 1024
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 200 * time.Millisecond
	}
	return &RevisionService{
		docs:      make(map[string]*docState),
		opts:      opts,
		log:       log,
		snapshots: snapshots,
		publisher: publisher,
		revCache:  revCache,
	}
}

// 获取或创建指定对象的状态
func (s *RevisionService) getOrCreateDoc(objectID string) *docState {
	s.mu.RLock()
	ds := s.docs[objectID]
	s.mu.RUnlock()
	if ds != nil {
		return ds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds = s.docs[objectID]; ds == nil {
		ds = &docState{ring: make([]revision.Revision, 0, s.opts.RingCap)}
		s.docs[objectID] = ds
	}
	return ds
}

// loadLocked 第一次访问时从快照 + 日志恢复，调用方持有写锁
func (s *RevisionService) loadLocked(ctx context.Context, objectID string, ds *docState) error {
	if ds.loaded {
		return nil
	}
	var from uint64
	content := ""
	if s.snapshots != nil {
		rev, snap, ok, err := s.snapshots.LatestSnapshot(ctx, objectID)
		if err != nil {
			return err
		}
		if ok {
			from, content = rev, snap
		}
	}
	latest, ok, err := s.log.Latest(ctx, objectID)
	if err != nil {
		return err
	}
	buf := NewPieceTable(content)
	tip := from
	if ok && latest > from {
		recs, err := s.log.Read(ctx, objectID, revision.Range{Start: from + 1, End: latest})
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.RevID != tip+1 {
				return fmt.Errorf("%w: %s log has a gap at %d", revision.ErrOutOfOrder, objectID, tip+1)
			}
			d, err := rec.Operations()
			if err != nil {
				return err
			}
			if err := buf.Apply(d); err != nil {
				return err
			}
			tip = rec.RevID
			ds.remember(rec.Revision, s.opts.RingCap)
		}
	}
	ds.buf, ds.tip, ds.loaded = buf, tip, true
	return nil
}

func (s *RevisionService) doc(ctx context.Context, objectID string) (*docState, error) {
	ds := s.getOrCreateDoc(objectID)
	ds.mu.RLock()
	loaded := ds.loaded
	ds.mu.RUnlock()
	if loaded {
		return ds, nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if err := s.loadLocked(ctx, objectID, ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// Submit 规则：
// - base == tip：应用并持久化
// - base < tip：同一个 rev id 上已经是这条修订则是重传，否则冲突，返回 (base, tip]
// - base > tip：乱序
func (s *RevisionService) Submit(ctx context.Context, r revision.Revision) (SubmitResult, error) {
	if r.ObjectID == "" || r.RevID != r.BaseRevID+1 {
		return SubmitResult{}, fmt.Errorf("%w: bad revision %s", revision.ErrOutOfOrder, r)
	}
	ds, err := s.doc(ctx, r.ObjectID)
	if err != nil {
		return SubmitResult{}, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	switch {
	case r.BaseRevID > ds.tip:
		return SubmitResult{}, fmt.Errorf("%w: %s at %d, got base %d", revision.ErrOutOfOrder, r.ObjectID, ds.tip, r.BaseRevID)
	case r.BaseRevID < ds.tip:
		stored, err := s.rangeLocked(ctx, ds, r.ObjectID, revision.Range{Start: r.RevID, End: ds.tip})
		if err != nil {
			return SubmitResult{}, err
		}
		if len(stored) > 0 && stored[0].RevID == r.RevID && sameSubmission(stored[0], r) {
			return SubmitResult{Outcome: OutcomeDuplicate, Revision: stored[0]}, nil
		}
		return SubmitResult{Outcome: OutcomeConflict, Push: stored}, nil
	}

	d, err := r.Operations()
	if err != nil {
		return SubmitResult{}, err
	}
	next, err := d.Apply(ds.buf.String())
	if err != nil {
		return SubmitResult{}, err
	}
	sum := revision.Checksum(next)
	if r.Checksum != "" && r.Checksum != sum {
		return SubmitResult{}, fmt.Errorf("%w: %s checksum mismatch at %d", revision.ErrDivergence, r.ObjectID, r.RevID)
	}
	stored := revision.New(r.ObjectID, r.BaseRevID, r.RevID, r.Delta, r.AuthorID, sum)
	if err := s.log.Append(ctx, r.ObjectID, revision.Record{Revision: stored, State: revision.StateAcked}); err != nil {
		return SubmitResult{}, err
	}
	if err := ds.buf.Apply(d); err != nil {
		// 上面已经用同一个 delta 校验过长度
		return SubmitResult{}, err
	}
	ds.tip = stored.RevID
	ds.remember(stored, s.opts.RingCap)

	s.afterApply(ctx, ds, stored)
	return SubmitResult{Outcome: OutcomeApplied, Revision: stored}, nil
}

func sameSubmission(stored, r revision.Revision) bool {
	if stored.AuthorID != r.AuthorID || stored.BaseRevID != r.BaseRevID {
		return false
	}
	return r.Checksum == "" || stored.Checksum == r.Checksum
}

// afterApply 缓存、事件、快照失败都不影响这次提交
func (s *RevisionService) afterApply(ctx context.Context, ds *docState, r revision.Revision) {
	if s.revCache != nil {
		if err := s.revCache.Set(ctx, r.ObjectID, r.RevID); err != nil {
			log.Printf("[collab] cache rev %s@%d failed: %v", r.ObjectID, r.RevID, err)
		}
	}
	if s.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
		if err := s.publisher.Enqueue(pubCtx, notify.Applied(r)); err != nil {
			log.Printf("[collab] publish %s@%d failed: %v", r.ObjectID, r.RevID, err)
		}
		cancel()
	}
	if s.snapshots != nil && s.opts.SnapshotEvery > 0 && r.RevID%s.opts.SnapshotEvery == 0 {
		if err := s.snapshots.SaveSnapshot(ctx, r.ObjectID, r.RevID, ds.buf.String()); err != nil {
			log.Printf("[collab] snapshot %s@%d failed: %v", r.ObjectID, r.RevID, err)
		}
	}
}

// rangeLocked 优先从环形缓冲里取，不够再读日志
func (s *RevisionService) rangeLocked(ctx context.Context, ds *docState, objectID string, rng revision.Range) ([]revision.Revision, error) {
	if rng.End > ds.tip {
		rng.End = ds.tip
	}
	if rng.Start == 0 {
		rng.Start = 1
	}
	if rng.Empty() {
		return nil, nil
	}
	if n := len(ds.ring); n > 0 && ds.ring[0].RevID <= rng.Start {
		i := int(rng.Start - ds.ring[0].RevID)
		j := int(rng.End-ds.ring[0].RevID) + 1
		out := make([]revision.Revision, j-i)
		copy(out, ds.ring[i:j])
		return out, nil
	}
	recs, err := s.log.Read(ctx, objectID, rng)
	if err != nil {
		return nil, err
	}
	out := make([]revision.Revision, len(recs))
	for i, rec := range recs {
		out[i] = rec.Revision
	}
	return out, nil
}

func (s *RevisionService) RevisionRange(ctx context.Context, objectID string, rng revision.Range) ([]revision.Revision, error) {
	ds, err := s.doc(ctx, objectID)
	if err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return s.rangeLocked(ctx, ds, objectID, rng)
}

// RevisionsSince 返回 from 之后的全部修订
func (s *RevisionService) RevisionsSince(ctx context.Context, objectID string, from uint64) ([]revision.Revision, error) {
	ds, err := s.doc(ctx, objectID)
	if err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return s.rangeLocked(ctx, ds, objectID, revision.Range{Start: from + 1, End: ds.tip})
}

func (s *RevisionService) CurrentRevision(ctx context.Context, objectID string) (uint64, error) {
	fetch := func(ctx context.Context) (uint64, bool, error) {
		ds, err := s.doc(ctx, objectID)
		if err != nil {
			return 0, false, err
		}
		ds.mu.RLock()
		defer ds.mu.RUnlock()
		return ds.tip, ds.tip > 0, nil
	}
	if s.revCache != nil {
		return s.revCache.LatestRevID(ctx, objectID, fetch)
	}
	rev, _, err := fetch(ctx)
	return rev, err
}

func (s *RevisionService) LoadContent(ctx context.Context, objectID string) (string, uint64, error) {
	ds, err := s.doc(ctx, objectID)
	if err != nil {
		return "", 0, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.buf.String(), ds.tip, nil
}

func (s *RevisionService) SaveSnapshot(ctx context.Context, objectID string) error {
	if s.snapshots == nil {
		return errors.New("snapshot store not initialized")
	}
	ds, err := s.doc(ctx, objectID)
	if err != nil {
		return err
	}
	ds.mu.RLock()
	content, rev := ds.buf.String(), ds.tip
	ds.mu.RUnlock()
	if rev == 0 {
		return nil
	}
	return s.snapshots.SaveSnapshot(ctx, objectID, rev, content)
}

var _ Service = (*RevisionService)(nil)
