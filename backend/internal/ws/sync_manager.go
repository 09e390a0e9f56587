package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"folderSync/backend/internal/notify"
	"folderSync/backend/internal/revision"

	"golang.org/x/sync/errgroup"
)

var errSessionClosed = errors.New("session closed")

type SyncOptions struct {
	// 等待 ack 的超时，超时后重发队首
	AckTimeout time.Duration
	// 连续失败多少次后在 Errors() 上报告
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Heartbeat   time.Duration
}

func (o *SyncOptions) defaults() {
	if o.AckTimeout <= 0 {
		o.AckTimeout = 5 * time.Second
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 50 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 30 * time.Second
	}
}

// SyncManager 一个对象一个，负责把 pending 队列送到服务端、把服务端修订交给 Manager。
// 同一时间只有一条修订在途，收到 ack 或 push 后再发下一条。
type SyncManager struct {
	mgr       *revision.Manager
	transport Transport
	opts      SyncOptions

	passthrough chan Passthrough
	errs        chan error
	outbound    chan ClientMessage

	started   atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc

	// 以下只在 loop 里访问
	// 最近一次因为 delta 损坏而重新拉取的 rev id
	refetched uint64
	// 服务端连续拒绝同一条在途修订的次数
	rejectedRev uint64
	rejections  int
}

func NewSyncManager(mgr *revision.Manager, transport Transport, opts SyncOptions) *SyncManager {
	opts.defaults()
	return &SyncManager{
		mgr:         mgr,
		transport:   transport,
		opts:        opts,
		passthrough: make(chan Passthrough, 64),
		errs:        make(chan error, 8),
		outbound:    make(chan ClientMessage, 16),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Errors 传输一直失败（同步停滞）时会收到 ErrTransportFailure
func (s *SyncManager) Errors() <-chan error { return s.errs }

func (s *SyncManager) Passthrough() <-chan Passthrough { return s.passthrough }

// SendPassthrough 在当前连接上发一条 passthrough，连接不可用时等到 ctx 结束
func (s *SyncManager) SendPassthrough(ctx context.Context, payload []byte) error {
	msg := ClientMessage{Type: TypePassthrough, ObjectID: s.mgr.ObjectID(), Payload: payload}
	select {
	case s.outbound <- msg:
		return nil
	case <-s.done:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 先把 pending 发完再停；ctx 结束则直接放弃（pending 仍在缓存里）
func (s *SyncManager) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	s.mu.Lock()
	started, cancel := s.started.Load(), s.cancel
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		cancel()
		<-s.done
		return ctx.Err()
	}
}

func (s *SyncManager) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Run 连接、同步、断线退避重连，直到 Close、ctx 结束或者分叉
func (s *SyncManager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	if !s.started.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return errors.New("sync manager already running")
	}
	s.cancel = cancel
	s.mu.Unlock()
	defer close(s.done)

	objectID := s.mgr.ObjectID()
	failures := 0
	for {
		connected, err := s.session(ctx)
		switch {
		case errors.Is(err, errSessionClosed):
			return nil
		case errors.Is(err, revision.ErrDivergence):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		if connected {
			failures = 0
		}
		failures++
		log.Printf("[sync] %s: session ended (attempt %d): %v", objectID, failures, err)
		if failures >= s.opts.MaxRetry {
			s.report(fmt.Errorf("%w: %s: %d consecutive failures: %v", revision.ErrTransportFailure, objectID, failures, err))
		}

		timer := time.NewTimer(notify.Backoff(s.opts.BaseBackoff, s.opts.MaxBackoff, failures-1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.closing:
			timer.Stop()
			if _, _, ok := s.mgr.PendingHead(); !ok {
				return nil
			}
			// 还有 pending，继续重连直到发完或 Close 的 ctx 到期
			<-timer.C
		case <-timer.C:
		}
	}
}

// session 一次连接的生命周期，connected 表示收到过服务端消息
func (s *SyncManager) session(ctx context.Context) (bool, error) {
	ch, err := s.transport.Dial(ctx, s.mgr.ObjectID())
	if err != nil {
		return false, err
	}
	g, gctx := errgroup.WithContext(ctx)
	inbound := make(chan ServerMessage, 16)
	var connected atomic.Bool

	g.Go(func() error {
		for {
			msg, err := ch.Receive(gctx)
			if err != nil {
				return err
			}
			connected.Store(true)
			select {
			case inbound <- msg:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	g.Go(func() error {
		// Receive 阻塞在读上，关闭连接让它返回
		<-gctx.Done()
		return ch.Close()
	})
	g.Go(func() error {
		return s.loop(gctx, ch, inbound)
	})
	err = g.Wait()
	return connected.Load(), err
}

type inflight struct {
	revID uint64
}

func (s *SyncManager) loop(ctx context.Context, ch Channel, inbound <-chan ServerMessage) error {
	objectID := s.mgr.ObjectID()
	var sent *inflight

	ackTimer := time.NewTimer(time.Hour)
	ackTimer.Stop()
	defer ackTimer.Stop()
	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	closing := s.closing
	flushing := false

	send := func(msg ClientMessage) error {
		sendCtx, cancel := context.WithTimeout(ctx, s.opts.AckTimeout)
		defer cancel()
		return ch.Send(sendCtx, msg)
	}
	pull := func(rng revision.Range) error {
		return send(ClientMessage{Type: TypePull, ObjectID: objectID, Range: &rng})
	}

	for {
		if sent == nil {
			head, _, ok := s.mgr.PendingHead()
			if ok {
				if err := send(ClientMessage{Type: TypeRevision, ObjectID: objectID, Revision: &head}); err != nil {
					return err
				}
				sent = &inflight{revID: head.RevID}
				ackTimer.Reset(s.opts.AckTimeout)
			} else if flushing {
				return errSessionClosed
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-closing:
			closing = nil
			flushing = true

		case <-s.mgr.Changed():
			// 新的本地修订，或者 rebase 之后队首变了；在途的那条等服务端回复

		case <-ackTimer.C:
			if sent != nil {
				log.Printf("[sync] %s: no ack for %d within %v, resending", objectID, sent.revID, s.opts.AckTimeout)
				sent = nil
			}

		case <-heartbeat.C:
			if err := send(ClientMessage{Type: TypeHeartbeat, ObjectID: objectID}); err != nil {
				return err
			}

		case out := <-s.outbound:
			if err := send(out); err != nil {
				return err
			}

		case msg := <-inbound:
			replied, err := s.handle(ctx, msg, pull, sent)
			if err != nil {
				return err
			}
			if replied && sent != nil {
				sent = nil
				ackTimer.Stop()
			}
		}
	}
}

// handle 处理一条服务端消息；replied 表示这是对在途修订的回复
func (s *SyncManager) handle(ctx context.Context, msg ServerMessage, pull func(revision.Range) error, sent *inflight) (bool, error) {
	objectID := s.mgr.ObjectID()
	switch msg.Type {
	case TypeWelcome:
		// 服务端比本地新，先把缺的拉下来
		if synced := s.mgr.SyncedRevID(); msg.RevID > synced {
			return false, pull(revision.Range{Start: synced + 1, End: msg.RevID})
		}
		return false, nil

	case TypeAck:
		s.rejections = 0
		err := s.mgr.Ack(ctx, msg.RevID, msg.Checksum)
		if errors.Is(err, revision.ErrDivergence) {
			return true, err
		}
		if err != nil {
			log.Printf("[sync] %s: ack %d: %v", objectID, msg.RevID, err)
		}
		return true, nil

	case TypePush, TypeRevision:
		for _, r := range msg.Revisions {
			err := s.mgr.ReceiveRemoteRevision(ctx, r)
			switch {
			case err == nil:
			case errors.Is(err, revision.ErrDivergence):
				return true, err
			case errors.Is(err, revision.ErrOutOfOrder):
				if rng, ok := s.mgr.MissingRange(); ok {
					if err := pull(rng); err != nil {
						return false, err
					}
				}
			case errors.Is(err, revision.ErrMalformedDelta):
				// 丢掉这一条重新拉；同一条再坏只记日志
				log.Printf("[sync] %s: dropping %s: %v", objectID, r, err)
				if s.refetched != r.RevID {
					s.refetched = r.RevID
					if err := pull(revision.Range{Start: s.mgr.SyncedRevID() + 1, End: r.RevID}); err != nil {
						return false, err
					}
				}
			default:
				log.Printf("[sync] %s: apply %s: %v", objectID, r, err)
			}
		}
		return msg.Type == TypePush, nil

	case TypePassthrough:
		p := Passthrough{ObjectID: objectID, UserID: msg.UserID, Payload: msg.Payload}
		for {
			select {
			case s.passthrough <- p:
				return false, nil
			default:
			}
			// 满了丢最旧的
			select {
			case <-s.passthrough:
			default:
			}
		}

	case TypeError:
		switch msg.Code {
		case CodeDivergence:
			return true, s.mgr.MarkDiverged("server rejected revision: " + msg.Content)
		case CodeOutOfOrder:
			log.Printf("[sync] %s: server reported out of order: %s", objectID, msg.Content)
			return true, pull(revision.Range{Start: s.mgr.SyncedRevID() + 1, End: math.MaxUint64})
		case CodeMalformed:
			// 服务端套不上在途修订，重发也没用，只能重新同步
			if sent != nil {
				return true, s.mgr.MarkDiverged(fmt.Sprintf("server rejected revision %d as malformed: %s", sent.revID, msg.Content))
			}
		}
		// 其余错误交给 ack 超时重发，同一条一直被拒绝就报告同步停滞
		log.Printf("[sync] %s: server error %s: %s", objectID, msg.Code, msg.Content)
		if sent != nil {
			if s.rejectedRev != sent.revID {
				s.rejectedRev, s.rejections = sent.revID, 0
			}
			s.rejections++
			if s.rejections >= s.opts.MaxRetry {
				s.report(fmt.Errorf("%w: %s: revision %d rejected %d times: %s %s",
					revision.ErrTransportFailure, objectID, sent.revID, s.rejections, msg.Code, msg.Content))
			}
		}
		return false, nil

	case TypePresence:
		return false, nil
	}
	log.Printf("[sync] %s: ignoring message type %q", objectID, msg.Type)
	return false, nil
}
