package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/indexd/internal/discovery"
	"github.com/danmuck/indexd/internal/index"
	"github.com/danmuck/indexd/internal/protocol/schema"
	"github.com/danmuck/indexd/internal/protocol/tlv"
	"github.com/danmuck/indexd/internal/protocol/typed"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoProject   = errors.New("handlers: path is not inside a known project")
	ErrNotIncluded = errors.New("handlers: path is excluded by project rules")
)

// ProjectLookup is the part of the discovery cache the index handlers use.
// *discovery.Cache[*index.Project] satisfies it.
type ProjectLookup interface {
	LookupByAnyPath(path string) (*index.Project, bool)
	Values() []*index.Project
	Invalidate() []string
	Stats() discovery.Stats
}

// Refresher starts an asynchronous scan and returns its operation id.
type Refresher interface {
	Start(ctx context.Context, projects []*index.Project) uint64
}

// IndexDeps wires the index request handlers to the server's components.
type IndexDeps struct {
	Projects  ProjectLookup
	Searcher  index.Searcher
	Refresher Refresher
	State     *index.State
	Started   time.Time
	Version   string
}

// IndexHandlers returns the typed handlers for the indexing request set.
func IndexHandlers(d IndexDeps) []TypedHandler {
	if d.Searcher == nil {
		d.Searcher = index.SubstringSearcher{}
	}
	return []TypedHandler{
		KindHandler{Kind: schema.ReqPing, Fn: d.ping},
		KindHandler{Kind: schema.ReqLookupProject, Fn: d.lookupProject},
		KindHandler{Kind: schema.ReqRegisterFile, Fn: d.registerFile},
		KindHandler{Kind: schema.ReqUnregisterFile, Fn: d.unregisterFile},
		KindHandler{Kind: schema.ReqMatchPath, Fn: d.matchPath},
		KindHandler{Kind: schema.ReqSearchText, Fn: d.searchText},
		KindHandler{Kind: schema.ReqRefreshFileSystem, Fn: d.refreshFileSystem},
		KindHandler{Kind: schema.ReqGetStatistics, Fn: d.getStatistics},
		KindHandler{Kind: schema.ReqPauseIndexing, Fn: d.setPaused(true)},
		KindHandler{Kind: schema.ReqResumeIndexing, Fn: d.setPaused(false)},
		KindHandler{Kind: schema.ReqInvalidateCache, Fn: d.invalidateCache},
	}
}

func (d IndexDeps) ping(_ context.Context, _ typed.Request) (typed.Response, error) {
	uptime := time.Since(d.Started).Milliseconds()
	return typed.NewResponse(0,
		tlv.Uint64(schema.FieldUptimeMillis, uint64(uptime)),
		tlv.String(schema.FieldVersion, d.Version),
	), nil
}

func (d IndexDeps) lookupProject(_ context.Context, req typed.Request) (typed.Response, error) {
	path, err := req.Fields.GetString(schema.FieldPath)
	if err != nil {
		return typed.Response{}, err
	}
	p, ok := d.Projects.LookupByAnyPath(path)
	if !ok {
		return typed.NewResponse(0, tlv.Bool(schema.FieldFound, false)), nil
	}
	return typed.NewResponse(0,
		tlv.Bool(schema.FieldFound, true),
		tlv.String(schema.FieldRoot, p.Root),
	), nil
}

func (d IndexDeps) project(req typed.Request) (*index.Project, string, error) {
	path, err := req.Fields.GetString(schema.FieldPath)
	if err != nil {
		return nil, "", err
	}
	p, ok := d.Projects.LookupByAnyPath(path)
	if !ok {
		return nil, path, fmt.Errorf("%w: %s", ErrNoProject, path)
	}
	return p, path, nil
}

func (d IndexDeps) registerFile(_ context.Context, req typed.Request) (typed.Response, error) {
	p, path, err := d.project(req)
	if errors.Is(err, ErrNoProject) {
		return typed.NewResponse(0, tlv.Bool(schema.FieldIncluded, false)), nil
	}
	if err != nil {
		return typed.Response{}, err
	}
	rel, _, included, err := p.Classify(path, false)
	if err != nil {
		return typed.Response{}, err
	}
	if included {
		p.Files.Add(rel)
	}
	return typed.NewResponse(0,
		tlv.String(schema.FieldRoot, p.Root),
		tlv.Bool(schema.FieldIncluded, included),
	), nil
}

func (d IndexDeps) unregisterFile(_ context.Context, req typed.Request) (typed.Response, error) {
	p, path, err := d.project(req)
	if errors.Is(err, ErrNoProject) {
		return typed.NewResponse(0, tlv.Bool(schema.FieldFound, false)), nil
	}
	if err != nil {
		return typed.Response{}, err
	}
	rel, err := p.Rel(path)
	if err != nil {
		return typed.Response{}, err
	}
	return typed.NewResponse(0,
		tlv.String(schema.FieldRoot, p.Root),
		tlv.Bool(schema.FieldFound, p.Files.Remove(rel)),
	), nil
}

func (d IndexDeps) matchPath(_ context.Context, req typed.Request) (typed.Response, error) {
	p, path, err := d.project(req)
	if err != nil {
		return typed.Response{}, err
	}
	isDir, err := req.Fields.OptBool(schema.FieldIsDirectory, false)
	if err != nil {
		return typed.Response{}, err
	}
	_, ignored, included, err := p.Classify(path, isDir)
	if err != nil {
		return typed.Response{}, err
	}
	return typed.NewResponse(0,
		tlv.String(schema.FieldRoot, p.Root),
		tlv.Bool(schema.FieldIgnored, ignored),
		tlv.Bool(schema.FieldIncluded, included),
	), nil
}

func (d IndexDeps) searchText(_ context.Context, req typed.Request) (typed.Response, error) {
	p, path, err := d.project(req)
	if err != nil {
		return typed.Response{}, err
	}
	pattern, err := req.Fields.GetString(schema.FieldPattern)
	if err != nil {
		return typed.Response{}, err
	}
	_, _, included, err := p.Classify(path, false)
	if err != nil {
		return typed.Response{}, err
	}
	if !included {
		return typed.Response{}, fmt.Errorf("%w: %s", ErrNotIncluded, path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return typed.Response{}, err
	}
	pos := d.Searcher.Search(pattern, string(body))
	return typed.NewResponse(0, tlv.Int64(schema.FieldPosition, int64(pos))), nil
}

func (d IndexDeps) refreshFileSystem(ctx context.Context, _ typed.Request) (typed.Response, error) {
	projects := d.Projects.Values()
	op := d.Refresher.Start(ctx, projects)
	log.Info().Str("component", "handlers").Uint64("operation_id", op).Int("projects", len(projects)).Msg("handlers.refreshFileSystem scan started")
	return typed.NewResponse(0, tlv.Uint64(schema.FieldOperationID, op)), nil
}

func (d IndexDeps) getStatistics(_ context.Context, _ typed.Request) (typed.Response, error) {
	stats := d.Projects.Stats()
	var files int
	for _, p := range d.Projects.Values() {
		files += p.Files.Len()
	}
	return typed.NewResponse(0,
		tlv.Uint64(schema.FieldProjects, uint64(stats.Roots)),
		tlv.Uint64(schema.FieldFiles, uint64(files)),
		tlv.Uint64(schema.FieldNegativeEntries, uint64(stats.Negatives)),
		tlv.Uint64(schema.FieldCacheHits, stats.Hits),
	), nil
}

func (d IndexDeps) setPaused(paused bool) func(context.Context, typed.Request) (typed.Response, error) {
	return func(_ context.Context, _ typed.Request) (typed.Response, error) {
		d.State.SetPaused(paused)
		return typed.NewResponse(0, tlv.Bool(schema.FieldPaused, d.State.Paused())), nil
	}
}

func (d IndexDeps) invalidateCache(_ context.Context, _ typed.Request) (typed.Response, error) {
	removed := d.Projects.Invalidate()
	return typed.NewResponse(0, tlv.Uint64(schema.FieldRemoved, uint64(len(removed)))), nil
}
