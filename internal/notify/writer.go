package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// DefaultMessage is printed when a Writer has no message configured.
const DefaultMessage = "Time's up!"

// Writer prints a line to W, optionally preceded by the terminal bell.
type Writer struct {
	W       io.Writer
	Message string
	Bell    bool

	mu sync.Mutex // serialises concurrent wakes on one terminal
}

func (w *Writer) Notify(_ context.Context, a Alarm) error {
	msg := w.Message
	if msg == "" {
		msg = DefaultMessage
	}
	bell := ""
	if w.Bell {
		bell = "\a"
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.W, "%s%s (%s)\n", bell, msg, a.Key)
	return err
}
