package revision

import (
	"context"
	"sync"

	"folderSync/backend/internal/ot/delta"
)

// Pad 对象的内存投影；写操作独占，读快照共享
type Pad struct {
	mgr *Manager

	mu          sync.RWMutex
	doc         delta.Delta // 已同步 + pending
	synced      delta.Delta // 服务端确认过的状态
	revID       uint64
	syncedRevID uint64
}

func (p *Pad) Snapshot() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.Text()
}

// SyncedSnapshot 只包含服务端确认过的修改
func (p *Pad) SyncedSnapshot() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.synced.Text()
}

func (p *Pad) RevID() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.revID
}

func (p *Pad) SyncedRevID() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.syncedRevID
}

// ApplyLocal 把本地 delta 作为一个新修订提交
func (p *Pad) ApplyLocal(ctx context.Context, d delta.Delta) (Revision, error) {
	return p.Edit(ctx, func(string) (delta.Delta, error) { return d, nil })
}

// Edit 在写锁内根据当前快照计算 delta 并提交，noop 不产生修订
func (p *Pad) Edit(ctx context.Context, fn func(snapshot string) (delta.Delta, error)) (Revision, error) {
	p.mu.Lock()
	d, err := fn(p.doc.Text())
	if err != nil {
		p.mu.Unlock()
		return Revision{}, err
	}
	if d.IsNoop() {
		p.mu.Unlock()
		return Revision{}, nil
	}
	next, err := delta.Compose(p.doc, d)
	if err != nil {
		p.mu.Unlock()
		return Revision{}, err
	}
	b, err := d.ToBytes()
	if err != nil {
		p.mu.Unlock()
		return Revision{}, err
	}
	base, revID := p.mgr.NextRevIDPair()
	r := New(p.mgr.objectID, base, revID, b, p.mgr.userID, Checksum(next.Text()))
	evt, err := p.mgr.addLocalLocked(ctx, p, r)
	p.mu.Unlock()
	if err != nil {
		return Revision{}, err
	}
	p.mgr.notify(ctx, evt)
	return r, nil
}

// ApplyRemote 重复调用是幂等的
func (p *Pad) ApplyRemote(ctx context.Context, r Revision) error {
	return p.mgr.ReceiveRemoteRevision(ctx, r)
}
