package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lcalzada-xor/chargecapture/internal/logger"
)

const (
	filePrefix = "response_"
	fileSuffix = ".json"
)

// Store manages the flat directory that receives captured payloads.
type Store struct {
	log logger.Logger
	now func() time.Time
}

// NewStore returns a Store that logs through l.
func NewStore(l logger.Logger) *Store {
	if l == nil {
		l = logger.NewNop()
	}
	return &Store{log: l, now: time.Now}
}

// Prepare empties dir so a run starts from a clean slate. A missing directory
// is left alone; Save creates it.
func (s *Store) Prepare(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("output directory does not exist yet", "dir", dir)
			return nil
		}
		return fmt.Errorf("read output directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	s.log.Info("cleared output directory", "dir", dir, "removed", len(entries))
	return nil
}

// Save writes each payload verbatim to its own file in dir and returns the
// written paths in payload order. All files share one session timestamp. The
// first failed write aborts the rest.
func (s *Store) Save(dir string, payloads []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}

	ts := s.now().UnixMilli()
	paths := make([]string, 0, len(payloads))
	for i, payload := range payloads {
		path := filepath.Join(dir, FileName(i, ts))
		if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
		s.log.Debug("wrote response", "path", path, "bytes", len(payload))
	}

	s.log.Info("saved responses", "dir", dir, "count", len(paths), "timestamp", ts)
	return paths, nil
}

// FileName builds the file name for the payload at index within a session.
func FileName(index int, timestamp int64) string {
	return filePrefix + strconv.Itoa(index) + "_" + strconv.FormatInt(timestamp, 10) + fileSuffix
}

// ParseFileName extracts the index and session timestamp from a name produced
// by FileName.
func ParseFileName(name string) (index int, timestamp int64, ok bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, 0, false
	}
	core := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	idxPart, tsPart, found := strings.Cut(core, "_")
	if !found {
		return 0, 0, false
	}

	idx, err := strconv.Atoi(idxPart)
	if err != nil || idx < 0 {
		return 0, 0, false
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return idx, ts, true
}
