package revision

import (
	"context"
	"fmt"
	"iter"
	"sync"
)

const defaultPageSize = 64

// Cache 单个对象的有序修订日志，负责顺序和缺口检测，存储交给 Persistence
type Cache struct {
	objectID string
	store    Persistence
	pageSize int

	mu     sync.Mutex
	loaded bool
	has    bool
	latest uint64
}

func NewCache(objectID string, store Persistence) *Cache {
	return &Cache{objectID: objectID, store: store, pageSize: defaultPageSize}
}

func (c *Cache) ObjectID() string { return c.objectID }

func (c *Cache) ensureLoaded(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	latest, ok, err := c.store.Latest(ctx, c.objectID)
	if err != nil {
		return err
	}
	c.latest, c.has, c.loaded = latest, ok, true
	return nil
}

func (c *Cache) Latest(ctx context.Context) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return 0, false, err
	}
	return c.latest, c.has, nil
}

// Append 写入一条记录，必须紧接在最新记录之后
func (c *Cache) Append(ctx context.Context, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := c.checkNext(rec); err != nil {
		return err
	}
	if err := c.store.Append(ctx, c.objectID, rec); err != nil {
		return err
	}
	c.latest, c.has = rec.RevID, true
	return nil
}

func (c *Cache) checkNext(rec Record) error {
	if rec.ObjectID != c.objectID {
		return fmt.Errorf("%w: record for %s in cache of %s", ErrOutOfOrder, rec.ObjectID, c.objectID)
	}
	if rec.RevID != rec.BaseRevID+1 {
		return fmt.Errorf("%w: rev %d does not follow base %d", ErrOutOfOrder, rec.RevID, rec.BaseRevID)
	}
	if c.has && rec.RevID != c.latest+1 {
		return fmt.Errorf("%w: latest %d, got %d", ErrOutOfOrder, c.latest, rec.RevID)
	}
	return nil
}

// ReadRange 按页惰性读取 [from, to]，每次调用都会重新从存储读
func (c *Cache) ReadRange(ctx context.Context, from, to uint64) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		// from 为 0 时从存储里的第一条开始
		expect := from
		for start := from; start <= to; {
			end := to
			if end-start >= uint64(c.pageSize) {
				end = start + uint64(c.pageSize) - 1
			}
			recs, err := c.store.Read(ctx, c.objectID, Range{Start: start, End: end})
			if err != nil {
				yield(Record{}, err)
				return
			}
			if len(recs) == 0 {
				return
			}
			for _, rec := range recs {
				if expect != 0 && rec.RevID != expect {
					yield(Record{}, fmt.Errorf("%w: gap in cache of %s at %d", ErrOutOfOrder, c.objectID, expect))
					return
				}
				if !yield(rec, nil) {
					return
				}
				expect = rec.RevID + 1
			}
			start = expect
		}
	}
}

// Records 读出全部记录
func (c *Cache) Records(ctx context.Context) ([]Record, error) {
	latest, ok, err := c.Latest(ctx)
	if err != nil || !ok {
		return nil, err
	}
	var out []Record
	for rec, err := range c.ReadRange(ctx, 0, latest) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Pending 还没被服务端确认的尾部
func (c *Cache) Pending(ctx context.Context) ([]Revision, error) {
	recs, err := c.Records(ctx)
	if err != nil {
		return nil, err
	}
	var out []Revision
	for _, rec := range recs {
		if rec.State == StateLocal {
			out = append(out, rec.Revision)
		}
	}
	return out, nil
}

func (c *Cache) Ack(ctx context.Context, revID uint64) error {
	return c.store.Ack(ctx, c.objectID, revID)
}

// Rebase 用远端修订替换本地尾部的第一条，后面跟着改写后的 pending，一个事务完成
func (c *Cache) Rebase(ctx context.Context, remote Record, pending []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	if c.has && remote.RevID > c.latest+1 {
		return fmt.Errorf("%w: rebase at %d beyond latest %d", ErrOutOfOrder, remote.RevID, c.latest)
	}
	recs := make([]Record, 0, len(pending)+1)
	recs = append(recs, remote)
	recs = append(recs, pending...)
	for i, rec := range recs {
		if rec.ObjectID != c.objectID || rec.RevID != rec.BaseRevID+1 || rec.RevID != remote.RevID+uint64(i) {
			return fmt.Errorf("%w: rebased tail broken at %d", ErrOutOfOrder, rec.RevID)
		}
	}
	if err := c.store.ReplaceTail(ctx, c.objectID, remote.RevID, recs); err != nil {
		return err
	}
	c.latest, c.has = recs[len(recs)-1].RevID, true
	return nil
}

// Invalidate 丢弃整个日志，只在分叉后的全量重新同步里使用
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Reset(ctx, c.objectID); err != nil {
		return err
	}
	c.latest, c.has, c.loaded = 0, false, true
	return nil
}
