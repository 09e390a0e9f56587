package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"folderSync/backend/internal/notify"
	"folderSync/backend/internal/ot/delta"
	"folderSync/backend/internal/revision"
	"folderSync/backend/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.RevisionEvent
}

func (p *recordingPublisher) Enqueue(_ context.Context, evt notify.RevisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type memorySnapshots struct {
	mu    sync.Mutex
	rev   uint64
	text  string
	saves int
}

func (m *memorySnapshots) SaveSnapshot(_ context.Context, _ string, rev uint64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rev, m.text = rev, content
	m.saves++
	return nil
}

func (m *memorySnapshots) LatestSnapshot(context.Context, string) (uint64, string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rev, m.text, m.saves > 0, nil
}

func edit(t *testing.T, author string, base uint64, before, after string) revision.Revision {
	t.Helper()
	b, err := delta.Diff(before, after).ToBytes()
	if err != nil {
		t.Fatalf("ToBytes() error = %v", err)
	}
	return revision.New("folder-1", base, base+1, b, author, revision.Checksum(after))
}

func TestSubmit_AppliesInOrder(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := NewRevisionService(store.NewMemoryStore(), nil, pub, nil, Options{})

	texts := []string{"a", "ab", "abc"}
	prev := ""
	for i, text := range texts {
		res, err := svc.Submit(ctx, edit(t, "alice", uint64(i), prev, text))
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", i+1, err)
		}
		if res.Outcome != OutcomeApplied || res.Revision.RevID != uint64(i+1) {
			t.Fatalf("Submit(%d) = %+v", i+1, res)
		}
		prev = text
	}
	content, rev, err := svc.LoadContent(ctx, "folder-1")
	if err != nil || content != "abc" || rev != 3 {
		t.Fatalf("LoadContent() = %q, %d, %v", content, rev, err)
	}
	if len(pub.events) != 3 || pub.events[2].EventType != notify.EventRevisionApplied {
		t.Fatalf("events = %+v", pub.events)
	}
}

func TestSubmit_DuplicateIsReacked(t *testing.T) {
	ctx := context.Background()
	svc := NewRevisionService(store.NewMemoryStore(), nil, nil, nil, Options{})
	r := edit(t, "alice", 0, "", "hello")
	if _, err := svc.Submit(ctx, r); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := svc.Submit(ctx, edit(t, "bob", 1, "hello", "hello!")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	res, err := svc.Submit(ctx, r)
	if err != nil {
		t.Fatalf("resubmit error = %v", err)
	}
	if res.Outcome != OutcomeDuplicate || res.Revision.RevID != 1 {
		t.Fatalf("resubmit = %+v", res)
	}
	if rev, _ := svc.CurrentRevision(ctx, "folder-1"); rev != 2 {
		t.Fatalf("CurrentRevision() = %d, want 2", rev)
	}
}

func TestSubmit_ConflictPushesMissing(t *testing.T) {
	ctx := context.Background()
	svc := NewRevisionService(store.NewMemoryStore(), nil, nil, nil, Options{RingCap: 2})
	prev := ""
	for i, text := range []string{"a", "ab", "abc", "abcd"} {
		if _, err := svc.Submit(ctx, edit(t, "bob", uint64(i), prev, text)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		prev = text
	}
	res, err := svc.Submit(ctx, edit(t, "alice", 1, "a", "Xa"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Outcome != OutcomeConflict || len(res.Push) != 3 {
		t.Fatalf("Submit() = %+v", res)
	}
	for i, r := range res.Push {
		if r.RevID != uint64(i+2) {
			t.Fatalf("push[%d] = %s", i, r)
		}
	}
}

func TestSubmit_Rejections(t *testing.T) {
	ctx := context.Background()
	svc := NewRevisionService(store.NewMemoryStore(), nil, nil, nil, Options{})

	if _, err := svc.Submit(ctx, edit(t, "alice", 3, "", "x")); !errors.Is(err, revision.ErrOutOfOrder) {
		t.Fatalf("future base error = %v", err)
	}
	bad := edit(t, "alice", 0, "", "x")
	bad.Checksum = revision.Checksum("y")
	if _, err := svc.Submit(ctx, bad); !errors.Is(err, revision.ErrDivergence) {
		t.Fatalf("bad checksum error = %v", err)
	}
	b, _ := delta.Delta{}.Retain(4, nil).ToBytes()
	if _, err := svc.Submit(ctx, revision.New("folder-1", 0, 1, b, "alice", "")); !errors.Is(err, revision.ErrMalformedDelta) {
		t.Fatalf("length mismatch error = %v", err)
	}
	if rev, _ := svc.CurrentRevision(ctx, "folder-1"); rev != 0 {
		t.Fatalf("rejected revisions changed tip to %d", rev)
	}
}

func TestService_ReloadsFromSnapshotAndLog(t *testing.T) {
	ctx := context.Background()
	log := store.NewMemoryStore()
	snaps := &memorySnapshots{}
	svc := NewRevisionService(log, snaps, nil, nil, Options{SnapshotEvery: 2})
	prev := ""
	for i, text := range []string{"a", "ab", "abc"} {
		if _, err := svc.Submit(ctx, edit(t, "alice", uint64(i), prev, text)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		prev = text
	}
	if snaps.rev != 2 || snaps.text != "ab" {
		t.Fatalf("snapshot = %d %q", snaps.rev, snaps.text)
	}

	restarted := NewRevisionService(log, snaps, nil, nil, Options{})
	content, rev, err := restarted.LoadContent(ctx, "folder-1")
	if err != nil || content != "abc" || rev != 3 {
		t.Fatalf("LoadContent() = %q, %d, %v", content, rev, err)
	}
	since, err := restarted.RevisionsSince(ctx, "folder-1", 0)
	if err != nil || len(since) != 3 {
		t.Fatalf("RevisionsSince() = %d, %v", len(since), err)
	}
	rng, err := restarted.RevisionRange(ctx, "folder-1", revision.Range{Start: 2, End: 9})
	if err != nil || len(rng) != 2 || rng[0].RevID != 2 {
		t.Fatalf("RevisionRange() = %v, %v", rng, err)
	}
}
