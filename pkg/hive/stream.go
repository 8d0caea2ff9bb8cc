package hive

import (
	"strings"
	"sync"

	"github.com/jllopis/hive/pkg/llm"
)

// SessionMeta is passed to OnStart.
type SessionMeta struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	Agent     string `json:"agent"`
	Model     string `json:"model,omitempty"`
}

// FinishMeta is passed to OnFinish.
type FinishMeta struct {
	SessionID string           `json:"session_id"`
	TurnID    string           `json:"turn_id"`
	Agent     string           `json:"agent"`
	Steps     int              `json:"steps"`
	Handovers []HandoverRecord `json:"handovers,omitempty"`
	Usage     llm.Usage        `json:"usage"`
}

// StreamHandler receives the output of one turn. Callbacks are invoked
// sequentially from the goroutine running the turn: OnStart once, OnChunk per
// fragment, then exactly one of OnFinish or OnError.
type StreamHandler interface {
	OnStart(meta SessionMeta)
	OnChunk(fragment string, acc *Accumulated)
	OnFinish(meta FinishMeta)
	OnError(message string)
}

// Accumulated is the text streamed so far in a turn. Fragments are appended
// cheaply; the concatenation is built only when String is called and is
// reused until the next fragment arrives.
type Accumulated struct {
	mu        sync.Mutex
	fragments []string
	built     strings.Builder
	upTo      int
	cached    string
	builds    int
}

func (a *Accumulated) add(fragment string) {
	a.mu.Lock()
	a.fragments = append(a.fragments, fragment)
	a.mu.Unlock()
}

// String returns the full text so far.
func (a *Accumulated) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.upTo == len(a.fragments) {
		return a.cached
	}
	for _, f := range a.fragments[a.upTo:] {
		a.built.WriteString(f)
	}
	a.upTo = len(a.fragments)
	a.cached = a.built.String()
	a.builds++
	return a.cached
}

// Len returns the number of fragments received.
func (a *Accumulated) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fragments)
}

// HandlerFuncs adapts optional functions to StreamHandler.
type HandlerFuncs struct {
	Start  func(SessionMeta)
	Chunk  func(fragment string, acc *Accumulated)
	Finish func(FinishMeta)
	Error  func(message string)
}

func (h HandlerFuncs) OnStart(meta SessionMeta) {
	if h.Start != nil {
		h.Start(meta)
	}
}

func (h HandlerFuncs) OnChunk(fragment string, acc *Accumulated) {
	if h.Chunk != nil {
		h.Chunk(fragment, acc)
	}
}

func (h HandlerFuncs) OnFinish(meta FinishMeta) {
	if h.Finish != nil {
		h.Finish(meta)
	}
}

func (h HandlerFuncs) OnError(message string) {
	if h.Error != nil {
		h.Error(message)
	}
}

var _ StreamHandler = HandlerFuncs{}
