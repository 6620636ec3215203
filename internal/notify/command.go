package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Command runs an external program such as notify-send. Arguments may use
// the placeholders {key}, {end_time} and {message}.
type Command struct {
	Path    string
	Args    []string
	Message string
	Timeout time.Duration
}

func (c *Command) Notify(ctx context.Context, a Alarm) error {
	if c.Path == "" {
		return fmt.Errorf("notify: command path is empty")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	msg := c.Message
	if msg == "" {
		msg = DefaultMessage
	}
	r := strings.NewReplacer(
		"{key}", a.Key,
		"{end_time}", strconv.FormatInt(a.EndTime, 10),
		"{message}", msg,
	)
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = r.Replace(arg)
	}

	out, err := exec.CommandContext(ctx, c.Path, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("notify: run %s: %w: %s", c.Path, err, strings.TrimSpace(string(out)))
	}
	return nil
}
