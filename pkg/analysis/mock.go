package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-overlay/pkg/annotation"
)

const providerMock = "mock"

// Mock implements Analyzer for testing and offline demos.
type Mock struct {
	// AnalyzeFunc is called when Analyze is invoked.
	AnalyzeFunc func(ctx context.Context, req *Request) (*annotation.Result, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Frames int
	Time   time.Time
}

// MockReply is the canned payload the default Mock parses.
const MockReply = `{"summary":"A person walking a dog.","entities":[
{"label":"person","box_2d":[120,180,860,420],"emotion":"calm",
 "details":[{"name":"hat","point":[150,300],"description":"red cap"}]},
{"label":"dog","box_2d":[600,520,880,760],"speed":"slow"}]}`

// NewMock creates a mock analyzer that answers every request with MockReply.
func NewMock() *Mock {
	return &Mock{
		AnalyzeFunc: func(ctx context.Context, req *Request) (*annotation.Result, error) {
			return annotation.ParseResult([]byte(MockReply))
		},
	}
}

// Analyze calls AnalyzeFunc and records the call.
func (m *Mock) Analyze(ctx context.Context, req *Request) (*annotation.Result, error) {
	frames := 0
	if req != nil {
		frames = len(req.Frames)
	}
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: "Analyze", Frames: frames, Time: time.Now()})
	m.mu.Unlock()

	if req == nil || frames == 0 {
		return nil, WrapError(providerMock, ErrNoFrames)
	}
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return nil, WrapError(providerMock, ErrEmptyResponse)
}

// Name returns the provider name.
func (m *Mock) Name() string { return providerMock }

// Close is a no-op.
func (m *Mock) Close() error { return nil }

// Calls returns the recorded invocations.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

var _ Analyzer = (*Mock)(nil)
