package index

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/danmuck/indexd/internal/events"
	"github.com/rs/zerolog/log"
)

var ErrPaused = errors.New("index: indexing is paused")

const defaultProgressEvery = 64

// State holds the pause switch shared by the scanner and the handlers.
type State struct {
	paused atomic.Bool
	bus    *events.Bus
}

func NewState(bus *events.Bus) *State {
	return &State{bus: bus}
}

func (s *State) Paused() bool {
	return s.paused.Load()
}

// SetPaused flips the switch and publishes IndexingStateChanged when the
// value changed.
func (s *State) SetPaused(paused bool) bool {
	if s.paused.Swap(paused) == paused {
		return false
	}
	log.Info().Str("component", "index").Bool("paused", paused).Msg("index.State changed")
	if s.bus != nil {
		s.bus.Publish(events.Event{Kind: events.IndexingStateChanged, Paused: paused})
	}
	return true
}

// ScanResult summarizes one scan operation.
type ScanResult struct {
	OperationID uint64
	Projects    int
	Files       uint64
	Bytes       int64
	Err         error
}

// Scanner walks project roots and reports progress on the bus. Every event
// of one scan carries the same operation id.
type Scanner struct {
	bus           *events.Bus
	state         *State
	progressEvery int

	wg sync.WaitGroup
}

func NewScanner(bus *events.Bus, state *State) *Scanner {
	return &Scanner{bus: bus, state: state, progressEvery: defaultProgressEvery}
}

// Start runs a scan in the background and returns its operation id.
func (s *Scanner) Start(ctx context.Context, projects []*Project) uint64 {
	op := s.bus.NextOperationID()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Scan(ctx, op, projects)
	}()
	return op
}

// Wait blocks until background scans finish.
func (s *Scanner) Wait() {
	s.wg.Wait()
}

// Scan walks every project, then loads the included files. It publishes
// ScanStarted/ScanFinished around the walk and FilesLoading, progress and
// FilesLoaded around the load.
func (s *Scanner) Scan(ctx context.Context, op uint64, projects []*Project) ScanResult {
	res := ScanResult{OperationID: op, Projects: len(projects)}
	logger := log.With().Str("component", "index").Uint64("operation_id", op).Logger()
	logger.Info().Int("projects", len(projects)).Msg("index.Scan start")
	s.publish(events.Event{Kind: events.ScanStarted, OperationID: op})

	var files []string
	for _, p := range projects {
		if err := s.check(ctx); err != nil {
			res.Err = err
			break
		}
		found, err := s.walk(ctx, p)
		files = append(files, found...)
		if err != nil {
			res.Err = err
			break
		}
	}
	res.Files = uint64(len(files))
	s.publish(events.Event{Kind: events.ScanFinished, OperationID: op, Files: res.Files, Err: res.Err})
	if res.Err != nil {
		logger.Warn().Err(res.Err).Uint64("files", res.Files).Msg("index.Scan stopped")
		return res
	}

	res.Bytes, res.Err = s.load(ctx, op, files)
	s.publish(events.Event{Kind: events.FilesLoaded, OperationID: op, Files: res.Files, Err: res.Err})
	logger.Info().Uint64("files", res.Files).Int64("bytes", res.Bytes).Err(res.Err).Msg("index.Scan done")
	return res
}

func (s *Scanner) walk(ctx context.Context, p *Project) ([]string, error) {
	var files []string
	err := filepath.WalkDir(p.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Debug().Str("component", "index").Str("path", path).Err(err).Msg("index.Scan skip unreadable entry")
			if d != nil && d.IsDir() && path != p.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if cerr := s.check(ctx); cerr != nil {
			return cerr
		}
		if path == p.Root {
			return nil
		}
		_, ignored, included, rerr := p.Classify(path, d.IsDir())
		if rerr != nil {
			return nil
		}
		if d.IsDir() {
			if ignored {
				return filepath.SkipDir
			}
			return nil
		}
		if included && d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func (s *Scanner) load(ctx context.Context, op uint64, files []string) (int64, error) {
	total := uint64(len(files))
	s.publish(events.Event{Kind: events.FilesLoading, OperationID: op, Total: total})
	var bytes int64
	for i, path := range files {
		if err := s.check(ctx); err != nil {
			return bytes, err
		}
		if info, err := os.Stat(path); err == nil {
			bytes += info.Size()
		}
		done := uint64(i + 1)
		if done%uint64(s.progressEvery) == 0 || done == total {
			s.publish(events.Event{Kind: events.FilesLoadingProgress, OperationID: op, Done: done, Total: total})
		}
	}
	return bytes, nil
}

func (s *Scanner) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.state != nil && s.state.Paused() {
		return ErrPaused
	}
	return nil
}

func (s *Scanner) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
