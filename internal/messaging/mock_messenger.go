// ABOUTME: In-memory Messenger and Connector for tests
// ABOUTME: Records posted messages and serves scripted history, files, and errors

package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// PostedMessage is a message sent through MockMessenger.
type PostedMessage struct {
	Token    string
	Channel  string
	Text     string
	ThreadTS string
}

// MockMessenger implements Messenger in memory.
type MockMessenger struct {
	mu sync.Mutex

	Token     string
	Posted    []PostedMessage
	HistoryOf []Message         // returned by History, newest first
	Files     map[string]*File  // keyed by file ID
	Downloads map[string][]byte // keyed by URL
	Calls     []string          // method names in call order
	LastQuery *HistoryParams

	PostErr     error
	HistoryErr  error
	FileInfoErr error
	DownloadErr error
}

// NewMockMessenger returns an empty mock.
func NewMockMessenger() *MockMessenger {
	return &MockMessenger{
		Files:     make(map[string]*File),
		Downloads: make(map[string][]byte),
	}
}

// PostMessage records the message.
func (m *MockMessenger) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, "PostMessage")
	if m.PostErr != nil {
		return "", m.PostErr
	}
	m.Posted = append(m.Posted, PostedMessage{Token: m.Token, Channel: channel, Text: text, ThreadTS: threadTS})
	return fmt.Sprintf("1700000000.%06d", len(m.Posted)), nil
}

// FileInfo returns a file registered in Files.
func (m *MockMessenger) FileInfo(ctx context.Context, fileID string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, "FileInfo")
	if m.FileInfoErr != nil {
		return nil, m.FileInfoErr
	}
	f, ok := m.Files[fileID]
	if !ok {
		return nil, errors.New("file_not_found")
	}
	out := *f
	return &out, nil
}

// History returns HistoryOf.
func (m *MockMessenger) History(ctx context.Context, params HistoryParams) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, "History")
	p := params
	m.LastQuery = &p
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	out := make([]Message, len(m.HistoryOf))
	copy(out, m.HistoryOf)
	return out, nil
}

// DownloadFile returns bytes registered in Downloads.
func (m *MockMessenger) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, "DownloadFile")
	if m.DownloadErr != nil {
		return nil, m.DownloadErr
	}
	data, ok := m.Downloads[url]
	if !ok {
		return nil, errors.New("download not found")
	}
	return data, nil
}

// Messages returns a copy of everything posted so far.
func (m *MockMessenger) Messages() []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PostedMessage, len(m.Posted))
	copy(out, m.Posted)
	return out
}

// MockConnector hands out one shared MockMessenger and records the tokens used.
type MockConnector struct {
	Messenger *MockMessenger

	mu     sync.Mutex
	Tokens []string
}

// NewMockConnector wraps m.
func NewMockConnector(m *MockMessenger) *MockConnector {
	return &MockConnector{Messenger: m}
}

// Client returns the shared messenger.
func (c *MockConnector) Client(botToken string) Messenger {
	c.mu.Lock()
	c.Tokens = append(c.Tokens, botToken)
	c.mu.Unlock()

	c.Messenger.mu.Lock()
	c.Messenger.Token = botToken
	c.Messenger.mu.Unlock()
	return c.Messenger
}

var (
	_ Messenger = (*MockMessenger)(nil)
	_ Connector = (*MockConnector)(nil)
)
