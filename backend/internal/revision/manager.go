package revision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"folderSync/backend/internal/ot/delta"
)

type SyncState int

const (
	StateUninitialized SyncState = iota
	StateLoading
	StateSynced
	StateConflicted
	StateDiverged
)

func (s SyncState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	case StateConflicted:
		return "conflicted"
	case StateDiverged:
		return "diverged"
	}
	return "uninitialized"
}

const DefaultGapBudget = 8

type ManagerOptions struct {
	// 缺口持续期间最多缓冲多少条远端修订，超过视为分叉
	GapBudget int
	Notifier  Notifier
}

// Manager 一个对象的修订状态：rev id 分配、pending 队列、冲突 rebase、ack
type Manager struct {
	userID    string
	objectID  string
	cache     *Cache
	notifier  Notifier
	gapBudget int

	mu          sync.Mutex
	state       SyncState
	pad         *Pad
	syncedRevID uint64
	pending     []Revision
	// 按 base_rev_id 缓冲的乱序远端修订
	buffered   map[uint64]Revision
	gapHits    int
	generation uint64
	changed    chan struct{}
}

func NewManager(userID, objectID string, cache *Cache, opts ManagerOptions) *Manager {
	if opts.GapBudget <= 0 {
		opts.GapBudget = DefaultGapBudget
	}
	return &Manager{
		userID:    userID,
		objectID:  objectID,
		cache:     cache,
		notifier:  opts.Notifier,
		gapBudget: opts.GapBudget,
		buffered:  make(map[uint64]Revision),
		changed:   make(chan struct{}, 1),
	}
}

func (m *Manager) ObjectID() string { return m.objectID }
func (m *Manager) UserID() string   { return m.userID }

func (m *Manager) State() SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pad 加载之前返回 nil
func (m *Manager) Pad() *Pad {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pad
}

// Changed pending 队列有变化时收到信号
func (m *Manager) Changed() <-chan struct{} { return m.changed }

func (m *Manager) signal() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

func (m *Manager) SyncedRevID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncedRevID
}

func (m *Manager) Pending() []Revision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Revision, len(m.pending))
	copy(out, m.pending)
	return out
}

// PendingHead 返回队首和当前代数；rebase/resync 之后代数会变
func (m *Manager) PendingHead() (Revision, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return Revision{}, m.generation, false
	}
	return m.pending[0], m.generation, true
}

// MissingRange 缓冲区和已同步状态之间缺的那一段
func (m *Manager) MissingRange() (Range, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buffered) == 0 {
		return Range{}, false
	}
	var lowest uint64
	for base := range m.buffered {
		if lowest == 0 || base < lowest {
			lowest = base
		}
	}
	if lowest <= m.syncedRevID {
		return Range{}, false
	}
	return Range{Start: m.syncedRevID + 1, End: lowest}, true
}

func (m *Manager) lastRevIDLocked() uint64 {
	if n := len(m.pending); n > 0 {
		return m.pending[n-1].RevID
	}
	return m.syncedRevID
}

// NextRevIDPair 读取 (最新 rev, 最新 rev+1)，本身不推进状态
func (m *Manager) NextRevIDPair() (uint64, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := m.lastRevIDLocked()
	return last, last + 1
}

func (m *Manager) loadedPad() (*Pad, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pad == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, m.objectID)
	}
	return m.pad, nil
}

// AddLocalRevision 把本地修订追加到 pending 队列并持久化
func (m *Manager) AddLocalRevision(ctx context.Context, r Revision) error {
	pad, err := m.loadedPad()
	if err != nil {
		return err
	}
	pad.mu.Lock()
	evt, err := m.addLocalLocked(ctx, pad, r)
	pad.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify(ctx, evt)
	return nil
}

// 调用方持有 pad 锁
func (m *Manager) addLocalLocked(ctx context.Context, pad *Pad, r Revision) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDiverged {
		return Event{}, fmt.Errorf("%w: %s", ErrDivergence, m.objectID)
	}
	if r.ObjectID != m.objectID {
		return Event{}, fmt.Errorf("%w: revision for %s added to %s", ErrConflict, r.ObjectID, m.objectID)
	}
	last := m.lastRevIDLocked()
	if r.BaseRevID != last || r.RevID != r.BaseRevID+1 {
		return Event{}, fmt.Errorf("%w: base %d rev %d, latest %d", ErrConflict, r.BaseRevID, r.RevID, last)
	}
	d, err := r.Operations()
	if err != nil {
		return Event{}, err
	}
	doc, err := delta.Compose(pad.doc, d)
	if err != nil {
		return Event{}, fmt.Errorf("revision %s: %w", r, err)
	}
	if err := m.cache.Append(ctx, Record{Revision: r, State: StateLocal}); err != nil {
		return Event{}, err
	}
	m.pending = append(m.pending, r)
	pad.doc = doc
	pad.revID = r.RevID
	m.signal()
	localRevisionsTotal.Inc()
	return m.eventLocked(pad, r, SourceLocal), nil
}

// ReceiveRemoteRevision 处理服务端推来的修订
func (m *Manager) ReceiveRemoteRevision(ctx context.Context, r Revision) error {
	pad, err := m.loadedPad()
	if err != nil {
		return err
	}
	pad.mu.Lock()
	events, err := m.receiveLocked(ctx, pad, r)
	pad.mu.Unlock()
	m.notify(ctx, events...)
	return err
}

func (m *Manager) receiveLocked(ctx context.Context, pad *Pad, r Revision) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDiverged {
		return nil, fmt.Errorf("%w: %s", ErrDivergence, m.objectID)
	}
	if r.ObjectID != m.objectID {
		return nil, fmt.Errorf("%w: revision for %s received by %s", ErrOutOfOrder, r.ObjectID, m.objectID)
	}
	if r.RevID <= m.syncedRevID {
		// 重放，忽略
		return nil, nil
	}
	if r.RevID != r.BaseRevID+1 {
		return nil, fmt.Errorf("%w: rev %d does not follow base %d", ErrOutOfOrder, r.RevID, r.BaseRevID)
	}
	if r.BaseRevID > m.syncedRevID {
		m.buffered[r.BaseRevID] = r
		m.gapHits++
		bufferedTotal.Inc()
		if m.gapHits > m.gapBudget {
			return nil, m.divergeLocked(fmt.Sprintf("gap after %d not filled within %d revisions", m.syncedRevID, m.gapBudget))
		}
		return nil, fmt.Errorf("%w: synced %d, got base %d", ErrOutOfOrder, m.syncedRevID, r.BaseRevID)
	}

	var events []Event
	evt, ok, err := m.applyRemoteLocked(ctx, pad, r)
	if err != nil {
		return nil, err
	}
	if ok {
		events = append(events, evt)
	}
	more, err := m.drainLocked(ctx, pad)
	return append(events, more...), err
}

// drainLocked 应用缓冲区里已经接得上的修订
func (m *Manager) drainLocked(ctx context.Context, pad *Pad) ([]Event, error) {
	var events []Event
	for {
		next, ok := m.buffered[m.syncedRevID]
		if !ok {
			break
		}
		delete(m.buffered, m.syncedRevID)
		evt, applied, err := m.applyRemoteLocked(ctx, pad, next)
		if err != nil {
			return events, err
		}
		if applied {
			events = append(events, evt)
		}
	}
	for base := range m.buffered {
		if base < m.syncedRevID {
			delete(m.buffered, base)
		}
	}
	if len(m.buffered) == 0 {
		m.gapHits = 0
	}
	return events, nil
}

// applyRemoteLocked r.BaseRevID == syncedRevID
func (m *Manager) applyRemoteLocked(ctx context.Context, pad *Pad, r Revision) (Event, bool, error) {
	// 自己的修订被回显，按 ack 处理
	if len(m.pending) > 0 {
		head := m.pending[0]
		if head.RevID == r.RevID && head.AuthorID == r.AuthorID && head.Checksum == r.Checksum {
			return Event{}, false, m.ackLocked(ctx, pad, r.RevID, r.Checksum)
		}
	}
	rd, err := r.Operations()
	if err != nil {
		return Event{}, false, err
	}
	synced, err := delta.Compose(pad.synced, rd)
	if err != nil {
		return Event{}, false, fmt.Errorf("revision %s: %w", r, err)
	}
	if r.Checksum != "" && Checksum(synced.Text()) != r.Checksum {
		return Event{}, false, m.divergeLocked(fmt.Sprintf("checksum mismatch at %d", r.RevID))
	}

	if len(m.pending) == 0 {
		if err := m.cache.Append(ctx, Record{Revision: r, State: StateAcked}); err != nil {
			return Event{}, false, err
		}
		pad.synced, pad.doc = synced, synced
		pad.revID, pad.syncedRevID = r.RevID, r.RevID
		m.syncedRevID = r.RevID
		remoteAppliedTotal.Inc()
		return m.eventLocked(pad, r, SourceRemote), true, nil
	}

	m.state = StateConflicted
	rebased, doc, err := m.rebaseLocked(pad, r, rd, synced)
	if err != nil {
		if m.state == StateConflicted {
			m.state = StateSynced
		}
		return Event{}, false, err
	}
	tail := make([]Record, len(rebased))
	for i, p := range rebased {
		tail[i] = Record{Revision: p, State: StateLocal}
	}
	if err := m.cache.Rebase(ctx, Record{Revision: r, State: StateAcked}, tail); err != nil {
		m.state = StateSynced
		return Event{}, false, err
	}
	pad.synced, pad.doc = synced, doc
	pad.syncedRevID = r.RevID
	pad.revID = rebased[len(rebased)-1].RevID
	m.syncedRevID = r.RevID
	m.pending = rebased
	m.generation++
	m.state = StateSynced
	m.signal()
	remoteAppliedTotal.Inc()
	rebasesTotal.Inc()
	log.Printf("[revision] %s: rebased %d pending revisions onto %d", m.objectID, len(rebased), r.RevID)
	return m.eventLocked(pad, r, SourceRemote), true, nil
}

// rebaseLocked 本地 pending 逐个对远端 delta 做 transform（本地优先），
// 返回重新编号的 pending 和新的文档
func (m *Manager) rebaseLocked(pad *Pad, r Revision, remote, synced delta.Delta) ([]Revision, delta.Delta, error) {
	out := make([]Revision, 0, len(m.pending))
	running := synced
	base := r.RevID
	for _, p := range m.pending {
		pd, err := p.Operations()
		if err != nil {
			return nil, nil, err
		}
		pPrime, rPrime, err := delta.Transform(pd, remote)
		if err != nil {
			return nil, nil, fmt.Errorf("rebase %s over %s: %w", p, r, err)
		}
		remote = rPrime
		if running, err = delta.Compose(running, pPrime); err != nil {
			return nil, nil, err
		}
		b, err := pPrime.ToBytes()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, New(m.objectID, base, base+1, b, p.AuthorID, Checksum(running.Text())))
		base++
	}
	doc, err := delta.Compose(pad.doc, remote)
	if err != nil {
		return nil, nil, err
	}
	if doc.Text() != running.Text() {
		return nil, nil, m.divergeLocked(fmt.Sprintf("rebase onto %d did not converge", r.RevID))
	}
	return out, running, nil
}

// Ack 服务端确认了 pending 队首
func (m *Manager) Ack(ctx context.Context, revID uint64, checksum string) error {
	pad, err := m.loadedPad()
	if err != nil {
		return err
	}
	pad.mu.Lock()
	events, err := func() ([]Event, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state == StateDiverged {
			return nil, fmt.Errorf("%w: %s", ErrDivergence, m.objectID)
		}
		if err := m.ackLocked(ctx, pad, revID, checksum); err != nil {
			return nil, err
		}
		return m.drainLocked(ctx, pad)
	}()
	pad.mu.Unlock()
	m.notify(ctx, events...)
	return err
}

func (m *Manager) ackLocked(ctx context.Context, pad *Pad, revID uint64, checksum string) error {
	if len(m.pending) == 0 || revID < m.pending[0].RevID {
		return nil
	}
	head := m.pending[0]
	if revID != head.RevID {
		return fmt.Errorf("%w: ack %d, pending head %d", ErrOutOfOrder, revID, head.RevID)
	}
	hd, err := head.Operations()
	if err != nil {
		return err
	}
	synced, err := delta.Compose(pad.synced, hd)
	if err != nil {
		return err
	}
	if checksum != "" && Checksum(synced.Text()) != checksum {
		return m.divergeLocked(fmt.Sprintf("ack checksum mismatch at %d", revID))
	}
	if err := m.cache.Ack(ctx, revID); err != nil {
		return err
	}
	pad.synced = synced
	pad.syncedRevID = revID
	m.syncedRevID = revID
	m.pending = m.pending[1:]
	m.signal()
	acksTotal.Inc()
	return nil
}

// MarkDiverged 服务端拒绝了本地状态，会话需要 Resync
func (m *Manager) MarkDiverged(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.divergeLocked(reason)
}

func (m *Manager) divergeLocked(reason string) error {
	if m.state != StateDiverged {
		m.state = StateDiverged
		divergencesTotal.Inc()
		log.Printf("[revision] %s diverged: %s", m.objectID, reason)
	}
	return fmt.Errorf("%w: %s: %s", ErrDivergence, m.objectID, reason)
}

// Load 从缓存重放出 Pad；缓存为空时向云端拉历史
func (m *Manager) Load(ctx context.Context, cloud CloudService) (*Pad, error) {
	m.mu.Lock()
	if m.pad != nil {
		pad := m.pad
		m.mu.Unlock()
		return pad, nil
	}
	m.state = StateLoading
	m.mu.Unlock()

	pad := &Pad{mgr: m}
	pending, err := m.build(ctx, pad, cloud)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateUninitialized
		if errors.Is(err, ErrDivergence) {
			m.state = StateDiverged
		}
		return nil, err
	}
	m.pad = pad
	m.syncedRevID = pad.syncedRevID
	m.pending = pending
	m.state = StateSynced
	if len(pending) > 0 {
		m.signal()
	}
	return pad, nil
}

// build 填充 pad 的字段，返回本地未确认的修订
func (m *Manager) build(ctx context.Context, pad *Pad, cloud CloudService) ([]Revision, error) {
	records, err := m.cache.Records(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 && cloud != nil {
		history, err := cloud.FetchHistory(ctx, m.userID, m.objectID)
		if err != nil {
			return nil, fmt.Errorf("fetch history of %s: %w", m.objectID, err)
		}
		for _, r := range history {
			rec := Record{Revision: r, State: StateAcked}
			if err := m.cache.Append(ctx, rec); err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}

	var acked, local []Revision
	for _, rec := range records {
		if rec.State == StateAcked {
			if len(local) > 0 {
				return nil, fmt.Errorf("%w: acked revision %d after local ones", ErrOutOfOrder, rec.RevID)
			}
			acked = append(acked, rec.Revision)
			continue
		}
		local = append(local, rec.Revision)
	}

	synced, err := Replay(delta.Delta{}, acked, ComposeRevision)
	if err != nil {
		return nil, err
	}
	if n := len(acked); n > 0 {
		last := acked[n-1]
		if last.Checksum != "" && Checksum(synced.Text()) != last.Checksum {
			return nil, fmt.Errorf("%w: %s: cached history checksum mismatch at %d", ErrDivergence, m.objectID, last.RevID)
		}
		pad.syncedRevID = last.RevID
	} else if len(local) > 0 {
		pad.syncedRevID = local[0].BaseRevID
	}
	doc, err := Replay(synced, local, ComposeRevision)
	if err != nil {
		return nil, err
	}
	pad.synced, pad.doc = synced, doc
	pad.revID = pad.syncedRevID
	if n := len(local); n > 0 {
		pad.revID = local[n-1].RevID
	}
	return local, nil
}

// Resync 分叉之后的恢复：清空缓存重新拉取，pending 对服务端的变化做 transform 后重新作为本地修订加入
func (m *Manager) Resync(ctx context.Context, cloud CloudService) error {
	pad, err := m.loadedPad()
	if err != nil {
		// 还没加载成功（比如缓存本身校验失败），直接丢掉缓存重新加载
		if err := m.cache.Invalidate(ctx); err != nil {
			return err
		}
		_, err = m.Load(ctx, cloud)
		return err
	}
	pad.mu.Lock()
	evt, err := m.resyncLocked(ctx, pad, cloud)
	pad.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify(ctx, evt)
	return nil
}

func (m *Manager) resyncLocked(ctx context.Context, pad *Pad, cloud CloudService) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.pending
	// 最后一次校验过的服务端状态，old 里的 delta 都以它为起点
	oldSynced := pad.synced
	m.state = StateLoading
	m.buffered = make(map[uint64]Revision)
	m.gapHits = 0
	m.pending = nil

	if err := m.cache.Invalidate(ctx); err != nil {
		m.state = StateDiverged
		return Event{}, err
	}
	fresh := &Pad{mgr: m}
	if _, err := m.build(ctx, fresh, cloud); err != nil {
		m.state = StateDiverged
		return Event{}, err
	}
	records, err := m.cache.Records(ctx)
	if err != nil {
		m.state = StateDiverged
		return Event{}, err
	}
	accepted := make(map[uint64]Revision, len(records))
	for _, rec := range records {
		accepted[rec.RevID] = rec.Revision
	}

	// 已经被服务端接受的队首跳过，它们的效果算进起点
	base := oldSynced
	for len(old) > 0 {
		stored, ok := accepted[old[0].RevID]
		if !ok || !stored.Same(old[0]) {
			break
		}
		d, err := old[0].Operations()
		if err != nil {
			break
		}
		next, err := delta.Compose(base, d)
		if err != nil {
			break
		}
		base = next
		old = old[1:]
	}

	last := fresh.syncedRevID
	doc := fresh.synced
	server := delta.Diff(base.Text(), fresh.synced.Text())
	var pending []Revision
	for _, p := range old {
		d, err := p.Operations()
		if err != nil {
			log.Printf("[revision] %s: dropping unreadable pending revision %d after resync: %v", m.objectID, p.RevID, err)
			continue
		}
		pPrime, sPrime, err := delta.Transform(d, server)
		if errors.Is(err, ErrMalformedDelta) {
			// 服务端拒收的损坏修订；后面基于它的修订长度也对不上，同样会被丢掉
			log.Printf("[revision] %s: dropping malformed pending revision %d after resync: %v", m.objectID, p.RevID, err)
			continue
		}
		if err != nil {
			m.state = StateDiverged
			return Event{}, fmt.Errorf("rebase pending %d after resync: %w", p.RevID, err)
		}
		server = sPrime
		next, err := delta.Compose(doc, pPrime)
		if err != nil {
			m.state = StateDiverged
			return Event{}, err
		}
		b, err := pPrime.ToBytes()
		if err != nil {
			m.state = StateDiverged
			return Event{}, err
		}
		r := New(m.objectID, last, last+1, b, p.AuthorID, Checksum(next.Text()))
		if err := m.cache.Append(ctx, Record{Revision: r, State: StateLocal}); err != nil {
			m.state = StateDiverged
			return Event{}, err
		}
		pending = append(pending, r)
		doc = next
		last++
	}
	pad.synced, pad.doc = fresh.synced, doc
	pad.syncedRevID, pad.revID = fresh.syncedRevID, last
	m.syncedRevID = fresh.syncedRevID
	m.pending = pending
	m.generation++
	m.state = StateSynced
	m.signal()
	return Event{
		ObjectID:  m.objectID,
		RevID:     last,
		AuthorID:  m.userID,
		Source:    SourceReload,
		Snapshot:  doc.Text(),
		AppliedAt: time.Now(),
	}, nil
}

func (m *Manager) eventLocked(pad *Pad, r Revision, source string) Event {
	return Event{
		ObjectID:  m.objectID,
		RevID:     r.RevID,
		AuthorID:  r.AuthorID,
		Source:    source,
		Snapshot:  pad.doc.Text(),
		AppliedAt: time.Now(),
	}
}

func (m *Manager) notify(ctx context.Context, events ...Event) {
	if m.notifier == nil {
		return
	}
	for _, evt := range events {
		if err := m.notifier.Notify(ctx, evt); err != nil {
			log.Printf("[revision] notify %s@%d failed: %v", evt.ObjectID, evt.RevID, err)
		}
	}
}
