package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stellarlinkco/ircrelay/internal/config"
)

// Document names shared by every backend.
const (
	DocConversations = "memory"
	DocChannelLogs   = "logs"
	DocOptouts       = "optout"
	DocIgnores       = "ignore"
)

// Persister stores whole named documents. Save replaces the previous version
// atomically; Load reports found=false for a document never saved.
type Persister interface {
	Load(name string, v any) (found bool, err error)
	Save(name string, v any) error
	Close() error
}

// Open returns the backend selected by cfg.Memory.Backend.
func Open(cfg *config.Config) (Persister, error) {
	dir := cfg.DataDir()
	switch strings.ToLower(strings.TrimSpace(cfg.Memory.Backend)) {
	case "sqlite":
		return NewSQLitePersister(filepath.Join(dir, "relay.db"))
	case "", "json":
		return NewFilePersister(dir)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Memory.Backend)
	}
}

// FilePersister keeps one JSON file per document in a directory.
type FilePersister struct {
	dir string
}

func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

func (p *FilePersister) Dir() string {
	return p.dir
}

func (p *FilePersister) Path(name string) string {
	return filepath.Join(p.dir, name+".json")
}

func (p *FilePersister) Load(name string, v any) (bool, error) {
	data, err := os.ReadFile(p.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return true, nil
}

// Save writes to a temp file in the same directory and renames it over the
// old document, so readers see either the old or the new version.
func (p *FilePersister) Save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(p.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, p.Path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (p *FilePersister) Close() error {
	return nil
}
