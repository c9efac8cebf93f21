package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/internal/storage"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// DefaultRulesFileName is the file used inside the data directory
const DefaultRulesFileName = "rules.json"

// FileRuleStore keeps the rule collection in a single JSON document on disk
type FileRuleStore struct {
	path string
	mu   sync.Mutex
}

// NewFileRuleStore creates a file-backed rule store under dataDir
func NewFileRuleStore(dataDir string) (*FileRuleStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	path := filepath.Join(dataDir, DefaultRulesFileName)
	logger.Info("File rule store initialized",
		logger.String("path", path),
	)

	return &FileRuleStore{path: path}, nil
}

// Path returns the backing file path
func (s *FileRuleStore) Path() string {
	return s.path
}

// Load reads the rule collection. Missing or corrupt files load as empty.
func (s *FileRuleStore) Load(ctx context.Context) ([]*models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := storage.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return decodeRules(data, s.path), nil
}

// Save atomically replaces the rule file
func (s *FileRuleStore) Save(ctx context.Context, rules []*models.Rule) error {
	data, err := encodeRules(rules)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := storage.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to save rules: %w", err)
	}

	logger.Debug("Saved rules to file",
		logger.String("path", s.path),
		logger.Int("count", len(rules)),
	)
	return nil
}
