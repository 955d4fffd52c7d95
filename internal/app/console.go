package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// errQuit ends Run without an error.
var errQuit = errors.New("app: quit requested")

// console reads lines from the console input. Plain lines are sent as user
// text turns; lines starting with "/" are commands. It returns nil when the
// input is exhausted or ctx is cancelled and errQuit on /quit.
func (a *App) console(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			slog.Warn("app: console read failed", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := a.handleLine(ctx, strings.TrimSpace(line)); err != nil {
				return err
			}
		}
	}
}

func (a *App) handleLine(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if err := a.voice.SendText(line); err != nil {
			fmt.Fprintf(a.out, "not sent: %v\n", err)
		}
		return nil
	}

	switch cmd := strings.Fields(line)[0]; cmd {
	case "/quit", "/exit":
		return errQuit
	case "/status":
		b, err := json.Marshal(a.voice.Status())
		if err != nil {
			return fmt.Errorf("app: encode status: %w", err)
		}
		fmt.Fprintln(a.out, string(b))
	case "/mute":
		a.muted.Store(true)
		a.voice.StopCapture()
		fmt.Fprintln(a.out, "microphone off")
	case "/unmute":
		a.muted.Store(false)
		if err := a.voice.StartCapture(ctx); err != nil {
			fmt.Fprintf(a.out, "microphone: %v\n", err)
			return nil
		}
		fmt.Fprintln(a.out, "microphone on")
	case "/reconnect":
		if err := a.voice.Connect(ctx, a.credential, a.Setup()); err != nil {
			fmt.Fprintf(a.out, "reconnect: %v\n", err)
		}
	case "/help":
		fmt.Fprintln(a.out, "commands: /status /mute /unmute /reconnect /quit")
	default:
		fmt.Fprintf(a.out, "unknown command %q, try /help\n", cmd)
	}
	return nil
}
