// Package audio keeps generated clips on disk so they can be downloaded after
// the request that produced them.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/tahcohcat/vocalize-web/internal/logger"
	"github.com/tahcohcat/vocalize-web/internal/tts"
)

var ErrNotFound = errors.New("audio clip not found")

var fileNamePattern = regexp.MustCompile(`^output_([0-9a-f]{8})\.(mp3|wav)$`)

// Clip is a stored audio file.
type Clip struct {
	ID      string
	Format  tts.Format
	Path    string
	Size    int64
	ModTime time.Time
}

func (c Clip) FileName() string {
	return filepath.Base(c.Path)
}

type Options struct {
	Dir string

	// Retention removes clips older than this. Zero keeps them forever.
	Retention time.Duration

	// MaxFiles keeps at most this many clips, newest first. Zero is unlimited.
	MaxFiles int
}

type Store struct {
	dir       string
	retention time.Duration
	maxFiles  int

	mu     sync.Mutex
	logger *logger.Log
}

func NewStore(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("audio directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}
	return &Store{
		dir:       opts.Dir,
		retention: opts.Retention,
		maxFiles:  opts.MaxFiles,
		logger:    logger.New().With("component", "audio"),
	}, nil
}

// NewID returns the first 8 hex characters of a random UUID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (s *Store) path(id string, format tts.Format) string {
	return filepath.Join(s.dir, fmt.Sprintf("output_%s.%s", id, format.Ext()))
}

// Save writes data under a fresh id.
func (s *Store) Save(format tts.Format, data []byte) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, errors.New("refusing to store an empty clip")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewID()
	path := s.path(id, format)

	// write then rename so a concurrent download never sees a partial file
	tmp, err := os.CreateTemp(s.dir, ".clip-*")
	if err != nil {
		return Clip{}, fmt.Errorf("failed to create clip: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Clip{}, fmt.Errorf("failed to write clip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Clip{}, fmt.Errorf("failed to write clip: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return Clip{}, fmt.Errorf("failed to store clip: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Clip{}, fmt.Errorf("failed to stat clip: %w", err)
	}
	return Clip{ID: id, Format: format, Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Open finds the clip with the given id in either format.
func (s *Store) Open(id string) (Clip, error) {
	clips, err := s.list()
	if err != nil {
		return Clip{}, err
	}
	clip, ok := lo.Find(clips, func(c Clip) bool { return c.ID == id })
	if !ok {
		return Clip{}, ErrNotFound
	}
	return clip, nil
}

// Latest returns the most recently written clip.
func (s *Store) Latest() (Clip, error) {
	clips, err := s.list()
	if err != nil {
		return Clip{}, err
	}
	if len(clips) == 0 {
		return Clip{}, ErrNotFound
	}
	return clips[0], nil
}

// list returns the stored clips, newest first.
func (s *Store) list() ([]Clip, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio directory: %w", err)
	}

	var clips []Clip
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := fileNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}
		clips = append(clips, Clip{
			ID:      m[1],
			Format:  tts.Format(m[2]),
			Path:    filepath.Join(s.dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(clips, func(i, j int) bool {
		return clips[i].ModTime.After(clips[j].ModTime)
	})
	return clips, nil
}

// Prune removes clips older than the retention and those beyond MaxFiles.
// It returns how many files were removed.
func (s *Store) Prune(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clips, err := s.list()
	if err != nil {
		return 0, err
	}

	removed := 0
	for i, clip := range clips {
		expired := s.retention > 0 && now.Sub(clip.ModTime) > s.retention
		overflow := s.maxFiles > 0 && i >= s.maxFiles
		if !expired && !overflow {
			continue
		}
		if err := os.Remove(clip.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.WithError(err).Warn("failed to remove clip", "file", clip.FileName())
			continue
		}
		removed++
	}
	return removed, nil
}

// RunPruner prunes every interval until ctx is done. onPrune, when set,
// receives the number of files removed by each pass.
func (s *Store) RunPruner(ctx context.Context, interval time.Duration, onPrune func(int)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.Prune(now)
			if err != nil {
				s.logger.WithError(err).Warn("pruning audio clips failed")
				continue
			}
			if n > 0 {
				s.logger.Debug("pruned audio clips", "removed", n)
			}
			if onPrune != nil {
				onPrune(n)
			}
		}
	}
}
