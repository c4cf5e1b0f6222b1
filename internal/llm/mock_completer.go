// ABOUTME: Scripted Completer for tests
// ABOUTME: Records every prompt and returns fixed replies or errors

package llm

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// MockCompleter implements Completer with canned answers.
type MockCompleter struct {
	mu sync.Mutex

	Reply       string
	VisionReply string
	Err         error
	VisionErr   error

	TextCalls   [][]*schema.Message
	VisionCalls [][]*schema.Message
}

// Complete records messages and returns Reply.
func (m *MockCompleter) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TextCalls = append(m.TextCalls, messages)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Reply, nil
}

// CompleteVision records messages and returns VisionReply.
func (m *MockCompleter) CompleteVision(ctx context.Context, messages []*schema.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VisionCalls = append(m.VisionCalls, messages)
	if m.VisionErr != nil {
		return "", m.VisionErr
	}
	return m.VisionReply, nil
}

var _ Completer = (*MockCompleter)(nil)
