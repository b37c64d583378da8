package archive

import (
	"context"
	"math"
)

// stream walks one side of a table in key order, one bounded page at a time.
type stream[T any] struct {
	fetch func(ctx context.Context, afterKey int64, limit int) ([]T, error)
	key   func(T) int64
	limit int
	buf   []T
	last  int64
	done  bool
}

func newStream[T any](limit int, key func(T) int64, fetch func(context.Context, int64, int) ([]T, error)) *stream[T] {
	return &stream[T]{fetch: fetch, key: key, limit: limit, last: math.MinInt64}
}

func (s *stream[T]) next(ctx context.Context) (T, bool, error) {
	var zero T
	if len(s.buf) == 0 {
		if s.done {
			return zero, false, nil
		}
		page, err := s.fetch(ctx, s.last, s.limit)
		if err != nil {
			return zero, false, err
		}
		if len(page) < s.limit {
			s.done = true
		}
		if len(page) == 0 {
			return zero, false, nil
		}
		s.buf = page
		s.last = s.key(page[len(page)-1])
	}
	item := s.buf[0]
	s.buf = s.buf[1:]
	return item, true, nil
}

func identity(k int64) int64 { return k }

func kvKey(kv KeyValue) int64 { return kv.Key }

// mergeWalk visits both key-ordered streams once. onLeft receives items only
// on the left, onRight items only on the right, onBoth matched pairs. Any
// callback may be nil.
func mergeWalk[T any](
	ctx context.Context,
	left, right *stream[T],
	onLeft, onRight func(T) error,
	onBoth func(l, r T) error,
) error {
	l, lok, err := left.next(ctx)
	if err != nil {
		return err
	}
	r, rok, err := right.next(ctx)
	if err != nil {
		return err
	}
	for lok || rok {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case lok && (!rok || left.key(l) < right.key(r)):
			if onLeft != nil {
				if err := onLeft(l); err != nil {
					return err
				}
			}
			l, lok, err = left.next(ctx)
		case rok && (!lok || right.key(r) < left.key(l)):
			if onRight != nil {
				if err := onRight(r); err != nil {
					return err
				}
			}
			r, rok, err = right.next(ctx)
		default:
			if onBoth != nil {
				if err := onBoth(l, r); err != nil {
					return err
				}
			}
			if l, lok, err = left.next(ctx); err != nil {
				return err
			}
			r, rok, err = right.next(ctx)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// batcher buffers items and hands them to flush in groups of size.
type batcher[T any] struct {
	size  int
	items []T
	flush func([]T) error
}

func (b *batcher[T]) add(item T) error {
	b.items = append(b.items, item)
	if len(b.items) >= b.size {
		return b.drain()
	}
	return nil
}

func (b *batcher[T]) drain() error {
	if len(b.items) == 0 {
		return nil
	}
	items := b.items
	b.items = nil
	return b.flush(items)
}
