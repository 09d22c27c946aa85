package preroll

import (
	"time"
)

// compactThreshold is the minimum number of consumed slots before the backing
// slice is compacted.
const compactThreshold = 64

// Item is anything that can be held in a Buffer.
type Item interface {
	Timestamp() time.Time
	Size() int
}

// Bound describes the ceilings of a Buffer. A zero field disables that
// dimension; a zero Bound turns the buffer into an unbounded staging area.
type Bound struct {
	Duration time.Duration
	Bytes    int
}

// IsZero reports whether no ceiling is configured.
func (b Bound) IsZero() bool {
	return b.Duration <= 0 && b.Bytes <= 0
}

// BoundFor derives a Bound from a duration and an estimated data rate.
func BoundFor(d time.Duration, bytesPerSec float64) Bound {
	if d <= 0 {
		return Bound{}
	}
	b := Bound{Duration: d}
	if bytesPerSec > 0 {
		b.Bytes = int(bytesPerSec * d.Seconds())
	}
	return b
}

// Trimmer shrinks the oldest item by at least excess bytes. It returns the
// shortened item and the number of bytes removed, or ok=false when the item
// cannot be partially trimmed and must be evicted whole.
type Trimmer[T Item] func(item T, excess int) (trimmed T, removed int, ok bool)

// Buffer is a FIFO of timestamped items bounded by span and size.
//
// The span is measured as the timestamp of the newest item minus the
// timestamp of the oldest item.
type Buffer[T Item] struct {
	items   []T
	head    int
	bytes   int
	bound   Bound
	trimmer Trimmer[T]
	evicted uint64
}

// Option configures a Buffer.
type Option[T Item] func(*Buffer[T])

// WithTrimmer enables partial trimming of the oldest item when the byte
// ceiling is exceeded.
func WithTrimmer[T Item](fn Trimmer[T]) Option[T] {
	return func(b *Buffer[T]) { b.trimmer = fn }
}

// New creates a buffer with the given bound.
func New[T Item](bound Bound, opts ...Option[T]) *Buffer[T] {
	b := &Buffer[T]{bound: bound}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push appends item and evicts from the oldest end until the bound holds.
func (b *Buffer[T]) Push(item T) {
	b.items = append(b.items, item)
	b.bytes += item.Size()
	b.evict()
}

// Drain removes and returns every buffered item in insertion order.
func (b *Buffer[T]) Drain() []T {
	if b.Len() == 0 {
		b.reset()
		return nil
	}
	out := make([]T, b.Len())
	copy(out, b.items[b.head:])
	b.reset()
	return out
}

// DrainDuration returns the newest items whose timestamp lies within d of the
// newest item, in insertion order. Older items are discarded and the buffer is
// left empty.
func (b *Buffer[T]) DrainDuration(d time.Duration) []T {
	n := b.Len()
	if n == 0 {
		b.reset()
		return nil
	}
	live := b.items[b.head:]
	newest := live[n-1].Timestamp()
	start := n - 1
	for start > 0 && newest.Sub(live[start-1].Timestamp()) <= d {
		start--
	}
	if d < 0 {
		start = n
	}
	out := make([]T, n-start)
	copy(out, live[start:])
	b.reset()
	return out
}

// DrainSince returns the items captured at or after cutoff and empties the
// buffer.
func (b *Buffer[T]) DrainSince(cutoff time.Time) []T {
	live := b.items[b.head:]
	start := 0
	for start < len(live) && live[start].Timestamp().Before(cutoff) {
		start++
	}
	var out []T
	if start < len(live) {
		out = make([]T, len(live)-start)
		copy(out, live[start:])
	}
	b.reset()
	return out
}

// EvictBefore drops items captured before cutoff.
func (b *Buffer[T]) EvictBefore(cutoff time.Time) {
	for b.Len() > 0 && b.items[b.head].Timestamp().Before(cutoff) {
		b.popFront()
	}
	b.compact()
}

// SetBound replaces the ceilings and evicts immediately to satisfy them.
func (b *Buffer[T]) SetBound(bound Bound) {
	b.bound = bound
	b.evict()
}

// Bound returns the configured ceilings.
func (b *Buffer[T]) Bound() Bound {
	return b.bound
}

// Duration returns the span between the oldest and newest item.
func (b *Buffer[T]) Duration() time.Duration {
	n := b.Len()
	if n < 2 {
		return 0
	}
	return b.items[b.head+n-1].Timestamp().Sub(b.items[b.head].Timestamp())
}

// Bytes returns the total size of buffered items.
func (b *Buffer[T]) Bytes() int {
	return b.bytes
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	return len(b.items) - b.head
}

// Evicted returns how many items were dropped to honor the bound.
func (b *Buffer[T]) Evicted() uint64 {
	return b.evicted
}

// Clear discards all items.
func (b *Buffer[T]) Clear() {
	b.reset()
}

func (b *Buffer[T]) evict() {
	if b.bound.IsZero() {
		return
	}
	if b.bound.Duration > 0 {
		for b.Len() > 1 && b.Duration() > b.bound.Duration {
			b.popFront()
		}
	}
	if b.bound.Bytes > 0 {
		for b.Len() > 0 && b.bytes > b.bound.Bytes {
			excess := b.bytes - b.bound.Bytes
			if b.trimmer != nil {
				if trimmed, removed, ok := b.trimmer(b.items[b.head], excess); ok && removed >= excess {
					b.items[b.head] = trimmed
					b.bytes -= removed
					break
				}
			}
			b.popFront()
		}
	}
	b.compact()
}

func (b *Buffer[T]) popFront() {
	var zero T
	b.bytes -= b.items[b.head].Size()
	b.items[b.head] = zero
	b.head++
	b.evicted++
}

// compact moves live items to the start of the backing slice once more than
// half of it has been consumed.
func (b *Buffer[T]) compact() {
	if b.head < compactThreshold || b.head*2 < len(b.items) {
		return
	}
	n := copy(b.items, b.items[b.head:])
	var zero T
	for i := n; i < len(b.items); i++ {
		b.items[i] = zero
	}
	b.items = b.items[:n]
	b.head = 0
}

func (b *Buffer[T]) reset() {
	b.items = nil
	b.head = 0
	b.bytes = 0
}
