package agent

import (
	"context"
	"sync"
)

// MockModel is a test implementation of Model.
//
// It returns configured responses in order, records every call, and can
// inject errors, so workflow behavior can be verified without real API
// calls.
//
//	mock := &agent.MockModel{
//	    Responses: []agent.Response{{Text: "first"}, {Text: "second"}},
//	}
//
// Once all responses are consumed, the last one repeats.
type MockModel struct {
	// Responses is the sequence of responses to return, in order.
	Responses []Response

	// Err, if set, is returned by Complete instead of a response.
	Err error

	// Calls records every Complete invocation.
	Calls []Request

	mu        sync.Mutex
	callIndex int
}

// Complete implements Model. The call is recorded even when Err is set.
func (m *MockModel) Complete(ctx context.Context, req Request) (Response, error) {
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.Err != nil {
		return Response{}, m.Err
	}
	if len(m.Responses) == 0 {
		return Response{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and response cursor so the mock can be
// reused across test cases.
func (m *MockModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns how many times Complete has been called.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
