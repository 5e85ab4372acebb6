package caption

import (
	"sync"

	"github.com/conveycall/convey/internal/domain"
)

// History is a bounded, insertion-ordered caption buffer. At capacity the
// oldest entry is evicted first. Not a database: evicted captions are gone.
type History struct {
	mu   sync.Mutex
	buf  []domain.Caption
	head int // index of the oldest entry once the buffer has wrapped
	size int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]domain.Caption, capacity)}
}

func (h *History) Append(c domain.Caption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = c
		h.size++
		return
	}
	h.buf[h.head] = c
	h.head = (h.head + 1) % len(h.buf)
}

// Snapshot copies the buffer contents oldest-first.
func (h *History) Snapshot() []domain.Caption {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Caption, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

func (h *History) Cap() int { return len(h.buf) }
