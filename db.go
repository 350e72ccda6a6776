package vdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/vdb/hlc"
)

// Store holds the tables of a schema in memory. Each table has one writer
// goroutine and one update manager; reads run concurrently on the caller's
// goroutine.
type Store struct {
	schema  *Schema
	opt     Options
	logger  *slog.Logger
	verbose bool

	clock     *hlc.Clock
	ownsClock bool

	persistence  Persistence
	ownsPersist  bool
	persister    *persister
	persistErrs  chan error
	cache        *valueCache
	metrics      *metrics
	registry     *prometheus.Registry
	tables       []*tableState
	tablesByName map[string]*tableState

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open loads every table of schema from the configured persistence and
// starts the store.
func Open(schema *Schema, opt Options) (*Store, error) {
	opt.setDefaults()
	s := &Store{
		schema:       schema,
		opt:          opt,
		logger:       opt.Logger,
		verbose:      opt.Verbose,
		persistErrs:  make(chan error, opt.PersistErrorBuffer),
		tablesByName: make(map[string]*tableState, len(schema.tables)),
	}

	reg := opt.Registerer
	if reg == nil {
		s.registry = prometheus.NewRegistry()
		reg = s.registry
	}
	s.metrics = newMetrics(reg, opt.MetricsNamespace)
	if opt.CacheCapacity > 0 {
		s.cache = newValueCache(opt.CacheCapacity, s.metrics)
	}

	s.persistence = opt.Persistence
	if s.persistence == nil && opt.PersistPath != "" {
		bp, err := OpenBolt(opt.PersistPath, BoltOptions{Compress: opt.Compress})
		if err != nil {
			return nil, err
		}
		s.persistence, s.ownsPersist = bp, true
	}

	for _, tbl := range schema.tables {
		ts := newTableState(s, tbl)
		s.tables = append(s.tables, ts)
		s.tablesByName[tbl.name] = ts
	}

	maxVersion, err := s.load()
	if err != nil {
		s.closePersistence()
		return nil, err
	}

	s.clock = opt.Clock
	if s.clock == nil {
		s.clock, s.ownsClock = hlc.New(opt.WallClock), true
	}
	if err := s.clock.Observe(context.Background(), maxVersion); err != nil {
		s.closePersistence()
		if s.ownsClock {
			s.clock.Stop()
		}
		return nil, err
	}

	if s.persistence != nil {
		s.persister = newPersister(s, s.persistence)
	}
	for _, ts := range s.tables {
		ts.start()
	}
	if s.verbose {
		s.logger.Debug("vdb: opened", "tables", len(s.tables), "version", maxVersion)
	}
	return s, nil
}

// load reads every table's snapshot in parallel and returns the highest
// version found.
func (s *Store) load() (hlc.Version, error) {
	if s.persistence == nil {
		return 0, nil
	}
	versions := make([]hlc.Version, len(s.tables))
	var g errgroup.Group
	for i, ts := range s.tables {
		g.Go(func() error {
			snaps, err := s.persistence.LoadSnapshot(ts.tbl.name)
			if err != nil {
				return storageErrf(ts.tbl.name, nil, err, "load")
			}
			v, err := ts.load(snaps)
			if err != nil {
				return err
			}
			versions[i] = v
			if s.verbose {
				ts.logger.Debug("vdb: table loaded", "records", len(snaps), "version", v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var maxVersion hlc.Version
	for _, v := range versions {
		maxVersion = max(maxVersion, v)
	}
	return maxVersion, nil
}

func (s *Store) closePersistence() error {
	if s.ownsPersist {
		return s.persistence.Close()
	}
	return nil
}

// Close stops the writers and subscriptions, flushes pending snapshots and
// releases whatever the store opened itself. Closing twice is a no-op.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		for _, ts := range s.tables {
			ts.stop()
		}
		if s.persister != nil {
			s.persister.stop()
		}
		if s.ownsClock {
			s.clock.Stop()
		}
		s.closeErr = s.closePersistence()
	})
	return s.closeErr
}

func (s *Store) Schema() *Schema {
	return s.schema
}

// Registry returns the private metrics registry, or nil when Options
// supplied a Registerer.
func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

// PersistErrors reports snapshot writes that failed after their commit.
// The channel is never closed.
func (s *Store) PersistErrors() <-chan error {
	return s.persistErrs
}

// Version returns the last committed version of table.
func (s *Store) Version(table string) (hlc.Version, error) {
	ts, err := s.tableState(table)
	if err != nil {
		return 0, err
	}
	return ts.version(), nil
}

func (s *Store) tableState(name string) (*tableState, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ts := s.tablesByName[name]
	if ts == nil {
		return nil, requestErrf(name, nil, "unknown table %q", name)
	}
	return ts, nil
}

// Execute runs one request. Writes are serialized by the table's writer;
// per-object failures are reported in the response's results, and the
// returned error covers the request as a whole.
func (s *Store) Execute(ctx context.Context, req Request) (Response, error) {
	if req == nil {
		return nil, requestErrf("", nil, "nil request")
	}
	ts, err := s.tableState(req.tableName())
	if err != nil {
		return nil, err
	}
	switch req := req.(type) {
	case *AddRequest, *ChangeRequest, *DeleteRequest:
		return ts.submit(ctx, req)
	case *GetRequest:
		return ts.getObjects(req)
	case *GetChangesRequest:
		return ts.getChanges(req)
	case *ScanRequest:
		return ts.scanObjects(req)
	case *ScanChangesRequest:
		return ts.scanChanges(req)
	default:
		return nil, requestErrf(req.tableName(), nil, "unsupported request %T", req)
	}
}

func (s *Store) Add(ctx context.Context, req *AddRequest) (*AddResponse, error) {
	return execute[*AddResponse](s, ctx, req)
}

func (s *Store) Change(ctx context.Context, req *ChangeRequest) (*ChangeResponse, error) {
	return execute[*ChangeResponse](s, ctx, req)
}

func (s *Store) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	return execute[*DeleteResponse](s, ctx, req)
}

func (s *Store) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	return execute[*GetResponse](s, ctx, req)
}

func (s *Store) GetChanges(ctx context.Context, req *GetChangesRequest) (*GetChangesResponse, error) {
	return execute[*GetChangesResponse](s, ctx, req)
}

func (s *Store) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	return execute[*ScanResponse](s, ctx, req)
}

func (s *Store) ScanChanges(ctx context.Context, req *ScanChangesRequest) (*ScanChangesResponse, error) {
	return execute[*ScanChangesResponse](s, ctx, req)
}

func execute[R Response](s *Store, ctx context.Context, req Request) (R, error) {
	var zero R
	resp, err := s.Execute(ctx, req)
	if err != nil {
		return zero, err
	}
	r, ok := resp.(R)
	if !ok {
		panic(fmt.Errorf("vdb: %T returned %T", req, resp))
	}
	return r, nil
}
