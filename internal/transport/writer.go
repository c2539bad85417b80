package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Writer delivers each payload as one line. Message ids are line numbers.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
	n  int
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Send(ctx context.Context, out Outbound) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintln(w.w, out.Payload); err != nil {
		return Receipt{}, fmt.Errorf("write payload: %w", err)
	}
	w.n++
	return Receipt{Ref: Ref{ChatID: out.ChatID, MessageID: w.n}}, nil
}
