package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"folderSync/backend/internal/revision"

	"github.com/IBM/sarama/mocks"
)

func TestKafkaDispatcher_SendsEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var evt RevisionEvent
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}
		if evt.ObjectID != "folder-1" || evt.RevID != 3 || evt.EventType != EventRevisionApplied {
			return errors.New("unexpected event")
		}
		return nil
	})

	d := NewKafkaDispatcher(producer, "folder-revisions", nil, KafkaDispatcherOptions{QueueSize: 4, Workers: 1})
	r := revision.New("folder-1", 2, 3, []byte(`[{"kind":"retain","count":1}]`), "alice", "abc")
	if err := d.Enqueue(context.Background(), Applied(r)); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	d.Close()
	if err := producer.Close(); err != nil {
		t.Fatalf("producer expectations: %v", err)
	}
}

func TestKafkaDispatcher_RetriesThenDrops(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	boom := errors.New("broker down")
	producer.ExpectSendMessageAndFail(boom)
	producer.ExpectSendMessageAndFail(boom)
	producer.ExpectSendMessageAndFail(boom)

	d := NewKafkaDispatcher(producer, "folder-revisions", nil, KafkaDispatcherOptions{
		QueueSize:   1,
		Workers:     1,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})
	if err := d.Notify(context.Background(), revision.Event{ObjectID: "folder-1", RevID: 1, Source: revision.SourceLocal}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	d.Close()
	if d.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", d.Dropped())
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("producer expectations: %v", err)
	}
}

func TestKafkaDispatcher_EnqueueAfterClose(t *testing.T) {
	d := NewKafkaDispatcher(nil, "", nil, KafkaDispatcherOptions{QueueSize: 1, Workers: 1})
	d.Close()
	if err := d.Enqueue(context.Background(), RevisionEvent{}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Enqueue after Close error = %v", err)
	}
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 50 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}
	for _, c := range cases {
		if got := Backoff(50*time.Millisecond, time.Second, c.attempt); got != c.want {
			t.Fatalf("Backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestChanNotifier_DropsOldest(t *testing.T) {
	n := NewChanNotifier(2)
	ctx := context.Background()
	for i := uint64(1); i <= 3; i++ {
		if err := n.Notify(ctx, revision.Event{RevID: i}); err != nil {
			t.Fatalf("Notify error: %v", err)
		}
	}
	if got := (<-n.Events()).RevID; got != 2 {
		t.Fatalf("first event rev = %d, want 2", got)
	}
	if got := (<-n.Events()).RevID; got != 3 {
		t.Fatalf("second event rev = %d, want 3", got)
	}
}

func TestFanout(t *testing.T) {
	a, b := NewChanNotifier(1), NewChanNotifier(1)
	if err := (Fanout{a, nil, b}).Notify(context.Background(), revision.Event{RevID: 7}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if (<-a.Events()).RevID != 7 || (<-b.Events()).RevID != 7 {
		t.Fatalf("fanout did not reach every notifier")
	}
}
