// ABOUTME: Fixed-capacity FIFO ring of recent tool failures with a cumulative counter.
// ABOUTME: Its contents are embedded in every config sync as a health signal.

package health

import (
	"container/list"
	"sync"
	"time"
)

// ErrorRecord is one tool failure.
type ErrorRecord struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	Tool    string    `json:"tool,omitempty"`
}

// ErrorBuffer retains the most recent tool failures. Once more than capacity
// records have been appended the oldest is evicted first.
type ErrorBuffer struct {
	mu       sync.Mutex
	records  *list.List // oldest at front
	capacity int
	total    int
	now      func() time.Time
}

// NewErrorBuffer creates a buffer holding at most capacity records.
// A non-positive capacity falls back to 10.
func NewErrorBuffer(capacity int) *ErrorBuffer {
	if capacity <= 0 {
		capacity = 10
	}
	return &ErrorBuffer{
		records:  list.New(),
		capacity: capacity,
		now:      time.Now,
	}
}

// Record appends a timestamped failure. An empty tool name is stored as absent.
func (b *ErrorBuffer) Record(tool, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records.PushBack(ErrorRecord{
		Time:    b.now().UTC(),
		Message: message,
		Tool:    tool,
	})
	b.total++

	for b.records.Len() > b.capacity {
		b.records.Remove(b.records.Front())
	}
}

// Recent returns a copy of the retained records in chronological order.
func (b *ErrorBuffer) Recent() []ErrorRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ErrorRecord, 0, b.records.Len())
	for e := b.records.Front(); e != nil; e = e.Next() {
		rec, _ := e.Value.(ErrorRecord)
		out = append(out, rec)
	}
	return out
}

// Total returns the number of failures recorded since the last Reset.
func (b *ErrorBuffer) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Capacity returns the retention limit.
func (b *ErrorBuffer) Capacity() int {
	return b.capacity
}

// Reset clears the records and the cumulative counter.
// Only a gateway (re)start calls this.
func (b *ErrorBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records.Init()
	b.total = 0
}
