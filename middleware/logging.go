package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Logging writes one JSON line per hook to the configured writer.
type Logging struct {
	NopMiddleware
	logger *log.Logger

	mu     sync.Mutex
	starts map[*Context]time.Time
}

var _ Middleware = (*Logging)(nil)

// NewLogging creates a logging middleware. A nil writer logs to stderr.
func NewLogging(w io.Writer) *Logging {
	if w == nil {
		w = os.Stderr
	}
	return &Logging{
		logger: log.New(w, "", 0),
		starts: make(map[*Context]time.Time),
	}
}

func (l *Logging) Name() string { return "logging" }

func (l *Logging) ProcessRequest(_ context.Context, mc *Context) error {
	l.mu.Lock()
	l.starts[mc] = time.Now()
	l.mu.Unlock()

	fields := map[string]any{"agent": mc.AgentName}
	if mc.Operation == OpModelCall {
		fields["messages"] = len(mc.Messages)
	} else if mc.ToolCall != nil {
		fields["tool"] = mc.ToolCall.Name
		fields["call_id"] = mc.ToolCall.ID
	}
	l.write(string(mc.Operation)+"_start", fields)
	return nil
}

func (l *Logging) ProcessResponse(_ context.Context, mc *Context) error {
	l.write(string(mc.Operation)+"_end", map[string]any{
		"agent":       mc.AgentName,
		"duration_ms": l.elapsed(mc).Milliseconds(),
	})
	return nil
}

func (l *Logging) ProcessError(_ context.Context, mc *Context, err error) error {
	l.write(string(mc.Operation)+"_error", map[string]any{
		"agent":       mc.AgentName,
		"error":       err.Error(),
		"duration_ms": l.elapsed(mc).Milliseconds(),
	})
	return err
}

func (l *Logging) elapsed(mc *Context) time.Duration {
	l.mu.Lock()
	start, ok := l.starts[mc]
	delete(l.starts, mc)
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return time.Since(start)
}

func (l *Logging) write(event string, fields map[string]any) {
	entry := map[string]any{
		"ts":    time.Now().Format(time.RFC3339Nano),
		"event": event,
	}
	for k, v := range fields {
		entry[k] = v
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf(`{"event":%q,"marshal_error":%q}`, event, err.Error())
		return
	}
	l.logger.Print(string(raw))
}
