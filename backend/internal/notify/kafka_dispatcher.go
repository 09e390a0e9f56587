package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"folderSync/backend/internal/revision"

	"github.com/IBM/sarama"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Limiter 限制并发的 SendMessage 数量
type Limiter interface {
	Acquire(ctx context.Context) error
	Release() error
}

// KafkaDispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// Enqueue 只负责入队，Kafka 短暂阻塞时靠队列吸收。
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue   chan RevisionEvent
	limiter Limiter

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	dropped int
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, limiter Limiter, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan RevisionEvent, opt.QueueSize),
		limiter:     limiter,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
		closed:      make(chan struct{}),
	}

	d.Start()
	return d
}

// Enqueue 队列满时等待直到 ctx 结束
func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt RevisionEvent) error {
	select {
	case <-d.closed:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.queue <- evt:
		return nil
	case <-d.closed:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify 实现 revision.Notifier
func (d *KafkaDispatcher) Notify(ctx context.Context, evt revision.Event) error {
	return d.Enqueue(ctx, Changed(evt))
}

func (d *KafkaDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
}

// Close 停止接收新事件，等队列里已有的发完
func (d *KafkaDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
	d.wg.Wait()
}

// Dropped 重试耗尽后被丢弃的事件数
func (d *KafkaDispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *KafkaDispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for {
		select {
		case evt := <-d.queue:
			d.sendWithRetry(workerID, evt)
		case <-d.closed:
			// 排空
			for {
				select {
				case evt := <-d.queue:
					d.sendWithRetry(workerID, evt)
				default:
					return
				}
			}
		}
	}
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, evt RevisionEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.limiter != nil {
			// worker 允许一直等待（不会影响主链路）
			_ = d.limiter.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.limiter != nil {
			_ = d.limiter.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			d.mu.Lock()
			d.dropped++
			d.mu.Unlock()
			log.Printf("kafka send failed, drop event object=%s rev=%d type=%s worker=%d err=%v",
				evt.ObjectID, evt.RevID, evt.EventType, workerID, err)
			return
		}

		time.Sleep(Backoff(d.baseBackoff, d.maxBackoff, attempt))
	}
}

func (d *KafkaDispatcher) sendOnce(evt RevisionEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.ObjectID), // 以 objectId 做 key，同一对象的事件进同一分区
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}

// Backoff 第 attempt 次失败后的等待时间，每次 X2，不超过 max
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	backoff := base * time.Duration(1<<attempt)
	if max > 0 && backoff > max {
		backoff = max
	}
	return backoff
}
