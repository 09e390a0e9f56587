package revision_test

import (
	"context"
	"errors"
	"testing"

	"folderSync/backend/internal/revision"
	"folderSync/backend/internal/store"
)

func record(rev uint64) revision.Record {
	return revision.Record{Revision: revision.New(objectID, rev-1, rev, []byte(`[]`), "alice", ""), State: revision.StateAcked}
}

func TestCache_AppendRejectsGaps(t *testing.T) {
	ctx := context.Background()
	c := revision.NewCache(objectID, store.NewMemoryStore())
	if _, ok, _ := c.Latest(ctx); ok {
		t.Fatalf("new cache should be empty")
	}
	if err := c.Append(ctx, record(1)); err != nil {
		t.Fatalf("Append(1) error = %v", err)
	}
	if err := c.Append(ctx, record(3)); !errors.Is(err, revision.ErrOutOfOrder) {
		t.Fatalf("Append(3) error = %v, want ErrOutOfOrder", err)
	}
	if err := c.Append(ctx, record(1)); !errors.Is(err, revision.ErrOutOfOrder) {
		t.Fatalf("Append(1) again error = %v, want ErrOutOfOrder", err)
	}
	broken := record(2)
	broken.BaseRevID = 0
	if err := c.Append(ctx, broken); !errors.Is(err, revision.ErrOutOfOrder) {
		t.Fatalf("Append(base 0, rev 2) error = %v, want ErrOutOfOrder", err)
	}
	if latest, _, _ := c.Latest(ctx); latest != 1 {
		t.Fatalf("Latest() = %d, want 1", latest)
	}
}

func TestCache_ReadRangePages(t *testing.T) {
	ctx := context.Background()
	c := revision.NewCache(objectID, store.NewMemoryStore())
	for i := uint64(1); i <= 150; i++ {
		if err := c.Append(ctx, record(i)); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}

	want := uint64(10)
	for rec, err := range c.ReadRange(ctx, 10, 140) {
		if err != nil {
			t.Fatalf("ReadRange() error = %v", err)
		}
		if rec.RevID != want {
			t.Fatalf("got rev %d, want %d", rec.RevID, want)
		}
		want++
	}
	if want != 141 {
		t.Fatalf("read up to %d, want 140", want-1)
	}

	// 提前结束再重新开始
	n := 0
	for range c.ReadRange(ctx, 1, 150) {
		n++
		if n == 3 {
			break
		}
	}
	recs, err := c.Records(ctx)
	if err != nil || len(recs) != 150 {
		t.Fatalf("Records() = %d, %v", len(recs), err)
	}
}

func TestCache_RebaseAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c := revision.NewCache(objectID, store.NewMemoryStore())
	_ = c.Append(ctx, record(1))
	local := record(2)
	local.State = revision.StateLocal
	_ = c.Append(ctx, local)

	moved := record(3)
	moved.State = revision.StateLocal
	if err := c.Rebase(ctx, record(2), []revision.Record{moved}); err != nil {
		t.Fatalf("Rebase() error = %v", err)
	}
	pending, err := c.Pending(ctx)
	if err != nil || len(pending) != 1 || pending[0].RevID != 3 {
		t.Fatalf("Pending() = %v, %v", pending, err)
	}
	if err := c.Rebase(ctx, record(5), nil); !errors.Is(err, revision.ErrOutOfOrder) {
		t.Fatalf("Rebase beyond latest error = %v", err)
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok, _ := c.Latest(ctx); ok {
		t.Fatalf("cache not empty after Invalidate")
	}
	if err := c.Append(ctx, record(1)); err != nil {
		t.Fatalf("Append after Invalidate error = %v", err)
	}
}

// gappyStore 读的时候丢掉 rev 3 之前的记录
type gappyStore struct {
	*store.MemoryStore
}

func (s gappyStore) Read(ctx context.Context, objectID string, rng revision.Range) ([]revision.Record, error) {
	recs, err := s.MemoryStore.Read(ctx, objectID, rng)
	if err != nil {
		return nil, err
	}
	out := recs[:0:0]
	for _, rec := range recs {
		if rec.RevID >= 3 {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestCache_ReadRangeDetectsLeadingGap(t *testing.T) {
	ctx := context.Background()
	s := gappyStore{MemoryStore: store.NewMemoryStore()}
	c := revision.NewCache(objectID, s)
	for i := uint64(1); i <= 5; i++ {
		if err := c.Append(ctx, record(i)); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}
	var got error
	for _, err := range c.ReadRange(ctx, 1, 5) {
		if err != nil {
			got = err
			break
		}
		t.Fatalf("ReadRange yielded a record past the gap")
	}
	if !errors.Is(got, revision.ErrOutOfOrder) {
		t.Fatalf("ReadRange() error = %v, want ErrOutOfOrder", got)
	}
}
