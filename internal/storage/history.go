package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// DefaultHistoryFileName is the file used inside the data directory
const DefaultHistoryFileName = "history.json"

// MemoryHistoryLog keeps history entries in process memory
type MemoryHistoryLog struct {
	mu         sync.RWMutex
	entries    []*models.HistoryEntry
	maxEntries int
}

// NewMemoryHistoryLog creates an in-memory history log. maxEntries <= 0 keeps everything.
func NewMemoryHistoryLog(maxEntries int) *MemoryHistoryLog {
	return &MemoryHistoryLog{maxEntries: maxEntries}
}

// Append adds an entry at the end of the log
func (h *MemoryHistoryLog) Append(ctx context.Context, entry *models.HistoryEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	copied := *entry
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = trimHistory(append(h.entries, &copied), h.maxEntries)
	return nil
}

// Load returns copies of all entries in insertion order
func (h *MemoryHistoryLog) Load(ctx context.Context) ([]*models.HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copyEntries(h.entries), nil
}

// FileHistoryLog stores the history as one JSON array on disk
type FileHistoryLog struct {
	mu         sync.Mutex
	path       string
	maxEntries int
}

// NewFileHistoryLog creates a file-backed history log under dataDir
func NewFileHistoryLog(dataDir string, maxEntries int) (*FileHistoryLog, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	path := filepath.Join(dataDir, DefaultHistoryFileName)
	logger.Info("File history log initialized",
		logger.String("path", path),
		logger.Int("max_entries", maxEntries),
	)

	return &FileHistoryLog{path: path, maxEntries: maxEntries}, nil
}

// Append rewrites the history file with the new entry at the end
func (h *FileHistoryLog) Append(ctx context.Context, entry *models.HistoryEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := ReadFile(h.path)
	if err != nil {
		return err
	}

	copied := *entry
	entries := trimHistory(append(decodeHistory(data, h.path), &copied), h.maxEntries)

	encoded, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := WriteFileAtomic(h.path, encoded); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// Load reads the history file. Missing or corrupt files load as empty.
func (h *FileHistoryLog) Load(ctx context.Context) ([]*models.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := ReadFile(h.path)
	if err != nil {
		return nil, err
	}
	return decodeHistory(data, h.path), nil
}

func validateEntry(entry *models.HistoryEntry) error {
	if entry == nil {
		return fmt.Errorf("history entry cannot be nil")
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid history entry: %w", err)
	}
	return nil
}

// decodeHistory parses a JSON array of entries, dropping unreadable items
func decodeHistory(data []byte, source string) []*models.HistoryEntry {
	if len(data) == 0 {
		return []*models.HistoryEntry{}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("Stored history is corrupt, starting empty",
			logger.String("source", source),
			logger.ErrorField(err),
		)
		return []*models.HistoryEntry{}
	}

	entries := make([]*models.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		if entry, ok := decodeEntry([]byte(item)); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func decodeEntry(data []byte) (*models.HistoryEntry, bool) {
	var entry models.HistoryEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.ID == "" {
		return nil, false
	}
	return &entry, true
}

// trimHistory drops the oldest entries beyond maxEntries
func trimHistory(entries []*models.HistoryEntry, maxEntries int) []*models.HistoryEntry {
	if maxEntries <= 0 || len(entries) <= maxEntries {
		return entries
	}
	return append([]*models.HistoryEntry(nil), entries[len(entries)-maxEntries:]...)
}

func copyEntries(entries []*models.HistoryEntry) []*models.HistoryEntry {
	result := make([]*models.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		copied := *entry
		result = append(result, &copied)
	}
	return result
}
