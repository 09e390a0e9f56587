package notify

import (
	"context"

	"folderSync/backend/internal/revision"
)

// ChanNotifier 进程内通知，把事件投递到 channel；消费者跟不上时丢弃最旧的
type ChanNotifier struct {
	ch chan revision.Event
}

func NewChanNotifier(size int) *ChanNotifier {
	if size <= 0 {
		size = 64
	}
	return &ChanNotifier{ch: make(chan revision.Event, size)}
}

func (n *ChanNotifier) Events() <-chan revision.Event { return n.ch }

func (n *ChanNotifier) Notify(ctx context.Context, evt revision.Event) error {
	for {
		select {
		case n.ch <- evt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		select {
		case <-n.ch:
		default:
		}
	}
}

// Fanout 依次通知多个 Notifier，返回第一个错误
type Fanout []revision.Notifier

func (f Fanout) Notify(ctx context.Context, evt revision.Event) error {
	var first error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
