package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"time"

	"feedcrawler/pkg/logger"
)

const currentVersion = 1

// Checkpoint records what a crawl of one subject has already produced
type Checkpoint struct {
	Subject          string    `json:"subject"`
	RunID            string    `json:"run_id"`
	EmittedKeys      []string  `json:"emitted_keys"`
	CompletedThreads []string  `json:"completed_threads"`
	TotalPosts       int       `json:"total_posts"`
	TotalReplies     int       `json:"total_replies"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int       `json:"version"`
}

// IsThreadDone reports whether the reply thread at url was fully crawled
func (cp *Checkpoint) IsThreadDone(url string) bool {
	return slices.Contains(cp.CompletedThreads, url)
}

// Manager handles checkpoint operations for one subject
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewManager creates a manager storing its file in the user data directory
func NewManager(subject string) (*Manager, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}
	return NewManagerAt(filepath.Join(dataDir, "checkpoints"), subject)
}

// NewManagerAt creates a manager storing its file under dir
func NewManagerAt(dir, subject string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	name := unsafeName.ReplaceAllString(subject, "_")
	return &Manager{
		checkpointPath: filepath.Join(dir, name+".checkpoint.json"),
		logger:         logger.GetLogger(),
	}, nil
}

// SetLogger replaces the manager's logger
func (m *Manager) SetLogger(l logger.Logger) {
	m.logger = l
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create writes a fresh checkpoint for subject
func (m *Manager) Create(subject, runID string) (*Checkpoint, error) {
	now := time.Now()
	cp := &Checkpoint{
		Subject:          subject,
		RunID:            runID,
		EmittedKeys:      []string{},
		CompletedThreads: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          currentVersion,
	}

	if err := m.Save(cp); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"subject": subject,
		"path":    m.checkpointPath,
	})

	return cp, nil
}

// Load reads the checkpoint; it returns nil, nil when none exists
func (m *Manager) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version > currentVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d", cp.Version, currentVersion)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"subject":           cp.Subject,
		"emitted":           len(cp.EmittedKeys),
		"completed_threads": len(cp.CompletedThreads),
		"updated_at":        cp.UpdatedAt,
	})

	return &cp, nil
}

// Save writes the checkpoint to disk atomically
func (m *Manager) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"subject": cp.Subject,
		"emitted": len(cp.EmittedKeys),
	})

	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// RecordEmitted appends identity keys of emitted records and saves
func (m *Manager) RecordEmitted(cp *Checkpoint, posts, replies int, keys ...string) error {
	cp.EmittedKeys = append(cp.EmittedKeys, keys...)
	cp.TotalPosts += posts
	cp.TotalReplies += replies
	return m.Save(cp)
}

// MarkThreadDone records that the reply thread at url finished and saves
func (m *Manager) MarkThreadDone(cp *Checkpoint, url string) error {
	if cp.IsThreadDone(url) {
		return nil
	}
	cp.CompletedThreads = append(cp.CompletedThreads, url)
	return m.Save(cp)
}

// GetCheckpointInfo returns a summary of the checkpoint
func (m *Manager) GetCheckpointInfo() (map[string]interface{}, error) {
	cp, err := m.Load()
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}

	return map[string]interface{}{
		"subject":           cp.Subject,
		"run_id":            cp.RunID,
		"total_posts":       cp.TotalPosts,
		"total_replies":     cp.TotalReplies,
		"completed_threads": len(cp.CompletedThreads),
		"updated_at":        cp.UpdatedAt,
		"age":               time.Since(cp.UpdatedAt),
	}, nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "feedcrawler")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "feedcrawler")
	default:
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "feedcrawler")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "feedcrawler")
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}
