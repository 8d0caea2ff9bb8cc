package hive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/jllopis/hive/pkg/errors"
)

// ConsoleHandler prints fragments to a writer as they arrive.
type ConsoleHandler struct {
	w         io.Writer
	showAgent bool
}

// NewConsoleHandler writes to w.
func NewConsoleHandler(w io.Writer) *ConsoleHandler {
	return &ConsoleHandler{w: w}
}

// ShowAgent prefixes each turn with the name of the agent that starts it.
func (c *ConsoleHandler) ShowAgent() *ConsoleHandler {
	c.showAgent = true
	return c
}

func (c *ConsoleHandler) OnStart(meta SessionMeta) {
	if c.showAgent {
		fmt.Fprintf(c.w, "[%s] ", meta.Agent)
	}
}

func (c *ConsoleHandler) OnChunk(fragment string, _ *Accumulated) {
	io.WriteString(c.w, fragment)
}

func (c *ConsoleHandler) OnFinish(meta FinishMeta) {
	if c.showAgent && len(meta.Handovers) > 0 {
		fmt.Fprintf(c.w, "\n(now talking to %s)", meta.Agent)
	}
	io.WriteString(c.w, "\n")
}

func (c *ConsoleHandler) OnError(message string) {
	fmt.Fprintf(c.w, "\nerror: %s\n", message)
}

// BufferHandler collects a whole turn and hands it over once done.
type BufferHandler struct {
	mu     sync.Mutex
	start  SessionMeta
	finish FinishMeta
	acc    *Accumulated
	err    string
	done   chan struct{}
	once   sync.Once
}

// NewBufferHandler creates an empty buffer.
func NewBufferHandler() *BufferHandler {
	return &BufferHandler{done: make(chan struct{})}
}

func (b *BufferHandler) OnStart(meta SessionMeta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = meta
}

func (b *BufferHandler) OnChunk(_ string, acc *Accumulated) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acc = acc
}

func (b *BufferHandler) OnFinish(meta FinishMeta) {
	b.mu.Lock()
	b.finish = meta
	b.mu.Unlock()
	b.once.Do(func() { close(b.done) })
}

func (b *BufferHandler) OnError(message string) {
	b.mu.Lock()
	b.err = message
	b.mu.Unlock()
	b.once.Do(func() { close(b.done) })
}

// Wait blocks until the turn finishes and returns its text, or the reported
// error as a turn failure.
func (b *BufferHandler) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.done:
	}
	if msg := b.Err(); msg != "" {
		return b.Text(), errors.Errorf(errors.CodeInternal, "%s", msg)
	}
	return b.Text(), nil
}

// Text returns the text collected so far.
func (b *BufferHandler) Text() string {
	b.mu.Lock()
	acc := b.acc
	b.mu.Unlock()
	if acc == nil {
		return ""
	}
	return acc.String()
}

// Err returns the reported error message, if any.
func (b *BufferHandler) Err() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Meta returns the start and finish metadata.
func (b *BufferHandler) Meta() (SessionMeta, FinishMeta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start, b.finish
}

// SSEHandler writes a turn as server-sent events:
//
//	event: start   data: SessionMeta
//	event: chunk   data: {"text": fragment}
//	event: finish  data: FinishMeta
//	event: error   data: {"error": message}
type SSEHandler struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEHandler prepares w for streaming. The writer must support flushing.
func NewSSEHandler(w http.ResponseWriter) (*SSEHandler, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.Errorf(errors.CodeInternal, "response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEHandler{w: w, flusher: flusher}, nil
}

func (s *SSEHandler) send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

func (s *SSEHandler) OnStart(meta SessionMeta) { s.send("start", meta) }

func (s *SSEHandler) OnChunk(fragment string, _ *Accumulated) {
	s.send("chunk", map[string]string{"text": fragment})
}

func (s *SSEHandler) OnFinish(meta FinishMeta) { s.send("finish", meta) }

func (s *SSEHandler) OnError(message string) {
	s.send("error", map[string]string{"error": message})
}

var (
	_ StreamHandler = (*ConsoleHandler)(nil)
	_ StreamHandler = (*BufferHandler)(nil)
	_ StreamHandler = (*SSEHandler)(nil)
)
