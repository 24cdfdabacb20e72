package soffice

import (
	"bytes"
	"sync"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
)

// DefaultMaxDiagnostic is used when no stderr cap is configured.
const DefaultMaxDiagnostic = 64 << 10

// BoundedBuffer keeps the first limit bytes written to it and counts the rest.
// Writes never fail so the child process is never blocked on a full pipe.
type BoundedBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func NewBoundedBuffer(limit int) *BoundedBuffer {
	if limit <= 0 {
		limit = DefaultMaxDiagnostic
	}
	return &BoundedBuffer{limit: limit}
}

func (b *BoundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.dropped += int64(len(p))
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.dropped += int64(len(p) - remaining)
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *BoundedBuffer) Diagnostic() domain.Diagnostic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.Diagnostic{
		Text:         b.buf.String(),
		Truncated:    b.dropped > 0,
		DroppedBytes: b.dropped,
	}
}
