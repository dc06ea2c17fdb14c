// Package syncq is the CLI's offline intent queue. Intents carry their
// idempotency key, so replaying one the server already applied is harmless.
package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

// Queue is a JSON file of pending commands.
type Queue struct {
	path string
}

func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: filepath.Join(dir, "queue.json")}, nil
}

func (q *Queue) Load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

func (q *Queue) Push(cmd Command) error {
	commands, err := q.Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return q.Save(commands)
}

type Result struct {
	Command Command
	Err     error
}

// Replay sends queued commands in order. A command whose error satisfies
// retry stays queued together with everything after it; any other outcome
// removes it. Results list every command that was attempted.
func (q *Queue) Replay(ctx context.Context, send func(context.Context, Command) error, retry func(error) bool) ([]Result, error) {
	commands, err := q.Load()
	if err != nil {
		return nil, err
	}
	var results []Result
	next := 0
	for ; next < len(commands); next++ {
		if ctx.Err() != nil {
			break
		}
		err := send(ctx, commands[next])
		results = append(results, Result{Command: commands[next], Err: err})
		if err != nil && retry(err) {
			break
		}
	}
	if err := q.Save(commands[next:]); err != nil {
		return results, err
	}
	return results, nil
}
