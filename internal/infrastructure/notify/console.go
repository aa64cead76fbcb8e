package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// ConsoleNotifier writes chat log events to a local writer, stdout by default
type ConsoleNotifier struct {
	out io.Writer
}

// NewConsoleNotifier creates a new console notifier
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{out: out}
}

// Send writes a single chat log line
func (n *ConsoleNotifier) Send(_ context.Context, event Event) error {
	_, err := fmt.Fprintf(n.out, "%s [%s] %s\n", event.At.Format(time.RFC3339), event.Type, event.Text)
	return err
}
