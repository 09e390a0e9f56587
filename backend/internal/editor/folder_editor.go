package editor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"folderSync/backend/internal/folder"
	"folderSync/backend/internal/ot/delta"
	"folderSync/backend/internal/revision"
	"folderSync/backend/internal/ws"
)

var ErrClosed = errors.New("folder editor closed")

type Deps struct {
	UserID   string
	FolderID string
	Store    revision.Persistence
	// 缓存为空时从这里拉历史，nil 等价于 cloud.Empty
	Cloud     revision.CloudService
	Transport ws.Transport
	// 可以为 nil
	Notifier  revision.Notifier
	GapBudget int
	Sync      ws.SyncOptions
}

// FolderEditor 一个文件夹的编辑会话
type FolderEditor struct {
	deps Deps
	mgr  *revision.Manager
	pad  *revision.Pad

	passthrough chan ws.Passthrough
	errs        chan error

	mu      sync.Mutex
	sync    *ws.SyncManager
	runCtx  context.Context
	stop    context.CancelFunc
	done    chan struct{}
	closed  bool
	started bool
}

// New 建立缓存和 Manager 并加载 Pad，同步要等 Start
func New(ctx context.Context, deps Deps) (*FolderEditor, error) {
	if deps.FolderID == "" || deps.Store == nil || deps.Transport == nil {
		return nil, errors.New("folder editor: folder id, store and transport are required")
	}
	cache := revision.NewCache(deps.FolderID, deps.Store)
	mgr := revision.NewManager(deps.UserID, deps.FolderID, cache, revision.ManagerOptions{
		GapBudget: deps.GapBudget,
		Notifier:  deps.Notifier,
	})
	pad, err := mgr.Load(ctx, deps.Cloud)
	if err != nil {
		return nil, fmt.Errorf("load folder %s: %w", deps.FolderID, err)
	}
	return &FolderEditor{
		deps:        deps,
		mgr:         mgr,
		pad:         pad,
		passthrough: make(chan ws.Passthrough, 64),
		errs:        make(chan error, 8),
	}, nil
}

func (e *FolderEditor) FolderID() string { return e.deps.FolderID }

func (e *FolderEditor) State() revision.SyncState { return e.mgr.State() }

func (e *FolderEditor) RevID() uint64 { return e.pad.RevID() }

func (e *FolderEditor) Pending() []revision.Revision { return e.mgr.Pending() }

// Errors 同步停滞（ErrTransportFailure）和分叉（ErrDivergence）
func (e *FolderEditor) Errors() <-chan error { return e.errs }

func (e *FolderEditor) Passthrough() <-chan ws.Passthrough { return e.passthrough }

// Start 后台同步一直跑到 ctx 结束或者 Close
func (e *FolderEditor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.started {
		return nil
	}
	e.started = true
	e.runCtx = ctx
	e.startLocked()
	return nil
}

func (e *FolderEditor) startLocked() {
	ctx, cancel := context.WithCancel(e.runCtx)
	sm := ws.NewSyncManager(e.mgr, e.deps.Transport, e.deps.Sync)
	done := make(chan struct{})
	e.sync, e.stop, e.done = sm, cancel, done
	go e.run(ctx, sm, done)
}

func (e *FolderEditor) run(ctx context.Context, sm *ws.SyncManager, done chan struct{}) {
	defer close(done)
	runErr := make(chan error, 1)
	go func() { runErr <- sm.Run(ctx) }()
	for {
		select {
		case err := <-sm.Errors():
			e.report(err)
		case p := <-sm.Passthrough():
			select {
			case e.passthrough <- p:
			default:
				log.Printf("[editor] %s: passthrough queue full, drop message from %s", e.deps.FolderID, p.UserID)
			}
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[editor] %s: sync stopped: %v", e.deps.FolderID, err)
				e.report(err)
			}
			return
		}
	}
}

func (e *FolderEditor) report(err error) {
	select {
	case e.errs <- err:
	default:
	}
}

// Resync 分叉后重新拉取历史，并重启同步
func (e *FolderEditor) Resync(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.started {
		e.stop()
		<-e.done
	}
	if err := e.mgr.Resync(ctx, e.deps.Cloud); err != nil {
		return err
	}
	e.pad = e.mgr.Pad()
	if e.started {
		e.startLocked()
	}
	return nil
}

// Close 等 pending 发完再停，ctx 到期就放弃（pending 留在本地缓存，下次加载继续发）
func (e *FolderEditor) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if !e.started {
		return nil
	}
	// Run 可能还没开始，Close 只是打上标记，所以这里自己等 done
	err := e.sync.Close(ctx)
	if err == nil {
		select {
		case <-e.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	e.stop()
	<-e.done
	return err
}

func (e *FolderEditor) SendPassthrough(ctx context.Context, payload []byte) error {
	e.mu.Lock()
	sm := e.sync
	e.mu.Unlock()
	if sm == nil {
		return errors.New("folder editor not started")
	}
	return sm.SendPassthrough(ctx, payload)
}

// Folder 当前（含未确认修改）的文件夹
func (e *FolderEditor) Folder() (*folder.Folder, error) {
	return folder.Parse(e.currentPad().Snapshot())
}

func (e *FolderEditor) currentPad() *revision.Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pad
}

// apply 在 Pad 的写锁内解析快照并执行修改
func (e *FolderEditor) apply(ctx context.Context, op func(f *folder.Folder) (folder.Change, error)) (revision.Revision, error) {
	return e.currentPad().Edit(ctx, func(snapshot string) (delta.Delta, error) {
		f, err := folder.Parse(snapshot)
		if err != nil {
			return nil, err
		}
		c, err := op(f)
		if err != nil {
			return nil, err
		}
		return c.Delta, nil
	})
}
