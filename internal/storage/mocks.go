package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
)

// MockHistoryLog is a mock implementation of HistoryLog for testing
type MockHistoryLog struct {
	mu        sync.Mutex
	Entries   []*models.HistoryEntry
	AppendErr error
	LoadErr   error
}

func (m *MockHistoryLog) Append(ctx context.Context, entry *models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	copied := *entry
	m.Entries = append(m.Entries, &copied)
	return nil
}

func (m *MockHistoryLog) Load(ctx context.Context) ([]*models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	result := make([]*models.HistoryEntry, 0, len(m.Entries))
	for _, entry := range m.Entries {
		copied := *entry
		result = append(result, &copied)
	}
	return result, nil
}

// Len returns the number of appended entries
func (m *MockHistoryLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Entries)
}

// MockRedisClient is a mock implementation of RedisClient for testing
type MockRedisClient struct {
	mu           sync.Mutex
	Data         map[string]string
	Lists        map[string][]string
	Published    []PubSubMessage
	PubSubData   []PubSubMessage
	PublishErr   error
	GetErr       error
	SetErr       error
	ListErr      error
	SubscribeErr error
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		Data:  make(map[string]string),
		Lists: make(map[string][]string),
	}
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	// Marshal to JSON like the real implementation
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.Data[key] = string(jsonData)
	return nil
}

func (m *MockRedisClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", m.GetErr
	}
	return m.Data[key], nil
}

func (m *MockRedisClient) GetJSON(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return m.GetErr
	}
	value, exists := m.Data[key]
	if !exists {
		return nil // Return nil if key doesn't exist (like real implementation)
	}
	return json.Unmarshal([]byte(value), dest)
}

func (m *MockRedisClient) ListPush(ctx context.Context, key string, values ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return m.ListErr
	}
	for _, value := range values {
		jsonData, err := json.Marshal(value)
		if err != nil {
			return err
		}
		m.Lists[key] = append(m.Lists[key], string(jsonData))
	}
	return nil
}

func (m *MockRedisClient) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	list := m.Lists[key]
	from, to, ok := redisRange(int64(len(list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	result := make([]string, to-from+1)
	copy(result, list[from:to+1])
	return result, nil
}

func (m *MockRedisClient) ListTrim(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return m.ListErr
	}
	list := m.Lists[key]
	from, to, ok := redisRange(int64(len(list)), start, stop)
	if !ok {
		delete(m.Lists, key)
		return nil
	}
	m.Lists[key] = append([]string(nil), list[from:to+1]...)
	return nil
}

func (m *MockRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(message)
	if err != nil {
		return err
	}
	m.Published = append(m.Published, PubSubMessage{Channel: channel, Message: string(jsonData)})
	return nil
}

func (m *MockRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan PubSubMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	ch := make(chan PubSubMessage, len(m.PubSubData))
	for _, msg := range m.PubSubData {
		ch <- msg
	}
	close(ch)
	return ch, nil
}

func (m *MockRedisClient) Close() error {
	return nil
}

// PublishedMessages returns a copy of everything published so far
func (m *MockRedisClient) PublishedMessages() []PubSubMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PubSubMessage(nil), m.Published...)
}

// redisRange resolves LRANGE/LTRIM style indexes against a list of length n
func redisRange(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
