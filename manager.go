package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Progress checkpoints. Download transfer maps into [0, downloadWeight];
// the local stages are fast relative to the network, so they advance the
// fraction by coarse fixed increments.
const (
	progressDownloadWeight = 0.90
	progressValidating     = 0.92
	progressTranscoding    = 0.95
)

// Manager provides programmatic access to the asset pipeline.
// All methods are safe for concurrent use.
// For CLI integration, use NewCommand instead.
type Manager interface {
	// Prepare downloads, validates, and optionally transcodes the asset
	// for an identifier, returning its local path. A cached file
	// short-circuits the pipeline without any network use. Starting a
	// new Prepare for an identifier with a run already in flight cancels
	// the prior run (it fails with ErrCancelled) before starting fresh.
	Prepare(ctx context.Context, id, sourceURL string, opts ...PrepareOption) (PrepareResult, error)

	// Transcode decodes an already-cached asset into point records
	// without touching the network. Returns ErrNotCached when no file
	// exists. A structurally invalid file is deleted before the error
	// returns.
	Transcode(ctx context.Context, id string) (RecordSequence, error)

	// IsAvailable reports whether a cached file exists for the identifier.
	IsAvailable(id string) bool

	// Info reports the cache state for the identifier.
	Info(id string) AssetInfo

	// Delete removes the cached file, cancelling any in-flight run for
	// the identifier first.
	Delete(id string) error

	// ClearAll cancels every in-flight run, then removes and recreates
	// the cache directory.
	ClearAll() error

	// TotalCacheBytes returns the combined size of all cached files.
	// Best-effort: 0 on error.
	TotalCacheBytes() int64

	// List enumerates cached assets. Best-effort: empty on error.
	List() []CacheEntry

	// Cancel aborts the in-flight run for the identifier, if any, and
	// waits for it to settle.
	Cancel(id string)
}

// manager is the concrete implementation of the Manager interface.
type manager struct {
	// cfg holds the module configuration.
	cfg Config

	// logger receives diagnostic messages. May be nil.
	logger Logger

	// store handles local filesystem operations.
	store *store

	// fetch performs downloads, including pointer resolution.
	fetch *fetchClient

	// transcoder decodes validated containers.
	transcoder *transcoder

	// sem bounds concurrent Prepare runs across all identifiers.
	sem *semaphore.Weighted

	// mu guards runs. ClearAll takes it exclusively to cancel everything.
	mu sync.Mutex

	// runs holds the in-flight run per identifier.
	runs map[string]*run
}

// run is the handle for one in-flight Prepare.
type run struct {
	// cancel aborts the run's context.
	cancel context.CancelFunc

	// done is closed when the run has fully settled.
	done chan struct{}
}

// Ensure manager implements Manager interface.
var _ Manager = (*manager)(nil)

// NewManager creates a new Manager with the given configuration.
// Returns an error if the configuration is invalid (empty AppName).
func NewManager(cfg Config, opts ...ManagerOption) (Manager, error) {
	if cfg.AppName == "" {
		return nil, errors.New("assets: AppName is required")
	}

	mcfg := newManagerConfig()
	for _, opt := range opts {
		opt(mcfg)
	}

	st, err := newStore(cfg, mcfg.logger)
	if err != nil {
		return nil, err
	}

	return &manager{
		cfg:        cfg,
		logger:     mcfg.logger,
		store:      st,
		fetch:      newFetchClient(mcfg, st.checkSpace),
		transcoder: newTranscoder(mcfg.logger),
		sem:        semaphore.NewWeighted(mcfg.maxConcurrent),
		runs:       make(map[string]*run),
	}, nil
}

// progressReporter forwards a single coarse fraction to the caller,
// clamped so it never decreases within a run (a pointer resolution
// restarts the transfer, which would otherwise rewind it).
type progressReporter struct {
	fn   func(PrepareProgress)
	last float64
}

func (p *progressReporter) report(stage Stage, fraction float64) {
	if fraction < p.last {
		fraction = p.last
	}
	p.last = fraction
	if p.fn != nil {
		p.fn(PrepareProgress{Stage: stage, Fraction: fraction})
	}
}

// Prepare implements the pipeline state machine: Downloading →
// (PointerDetected → ResolvingIndirection → Downloading) → Validating →
// Transcoding → Ready, with any stage transitioning to Failed on error.
func (m *manager) Prepare(ctx context.Context, id, sourceURL string, opts ...PrepareOption) (PrepareResult, error) {
	pcfg := &prepareConfig{}
	for _, opt := range opts {
		opt(pcfg)
	}
	rep := &progressReporter{fn: pcfg.progressFn}

	path, err := m.store.resolvePath(id)
	if err != nil {
		return PrepareResult{}, err
	}

	// Cache hit: success without invoking any network stage. A cached
	// file that fails structural checks is deleted and the run falls
	// through to a fresh download.
	if !pcfg.force && m.store.exists(id) {
		result, err := m.finish(ctx, id, path, pcfg, rep)
		if err == nil {
			return result, nil
		}
		if m.logger != nil {
			m.logger.Warn("cached asset invalid, re-downloading", "id", id, "error", err)
		}
	}

	runCtx, end := m.beginRun(ctx, id)
	defer end()

	if err := m.sem.Acquire(runCtx, 1); err != nil {
		return PrepareResult{}, m.fail(rep, fmt.Errorf("%w: %v", ErrCancelled, err))
	}
	defer m.sem.Release(1)

	if pcfg.force {
		if err := m.store.delete(id); err != nil {
			return PrepareResult{}, m.fail(rep, err)
		}
	}

	resolved, err := m.resolveSourceURL(sourceURL)
	if err != nil {
		return PrepareResult{}, m.fail(rep, err)
	}

	if m.logger != nil {
		m.logger.Info("preparing asset", "id", id, "url", resolved)
	}

	rep.report(StageDownloading, 0)
	onTransfer := func(f float64) { rep.report(StageDownloading, f*progressDownloadWeight) }
	if err := m.fetch.download(runCtx, resolved, path, onTransfer); err != nil {
		return PrepareResult{}, m.fail(rep, err)
	}

	// Some hosting backends return a small pointer file in place of the
	// real payload; resolve it before validating.
	if ptr := detectPointer(path); ptr != nil {
		rep.report(StagePointer, rep.last)
		rep.report(StageResolving, rep.last)
		if err := m.fetch.resolvePointer(runCtx, ptr, resolved, path, onTransfer); err != nil {
			m.discardInvalid(id)
			return PrepareResult{}, m.fail(rep, err)
		}
	}

	result, err := m.finish(runCtx, id, path, pcfg, rep)
	if err != nil {
		return PrepareResult{}, m.fail(rep, err)
	}
	return result, nil
}

// discardInvalid removes the cached file for id after a failed check.
// Cleanup is best-effort; a failure here only means the corrupt file
// lingers, so it is logged rather than returned.
func (m *manager) discardInvalid(id string) {
	if err := m.store.delete(id); err != nil && m.logger != nil {
		m.logger.Warn("failed to remove invalid asset", "id", id, "error", err)
	}
}

// finish runs the local stages over the file at path: validation,
// then transcoding or a structural header scan. Failures delete the
// file so a retry never observes corrupt content.
func (m *manager) finish(ctx context.Context, id, path string, pcfg *prepareConfig, rep *progressReporter) (PrepareResult, error) {
	rep.report(StageValidating, progressValidating)
	if err := validateContainer(path); err != nil {
		m.discardInvalid(id)
		return PrepareResult{}, err
	}

	rep.report(StageTranscoding, progressTranscoding)
	result := PrepareResult{Path: path}
	if pcfg.records {
		records, header, err := m.transcoder.transcode(ctx, path)
		if err != nil {
			// A context abort leaves the file intact; only structural
			// failures mean the content is bad.
			if !errors.Is(err, ErrCancelled) && !errors.Is(err, ErrTimeout) {
				m.discardInvalid(id)
			}
			return PrepareResult{}, err
		}
		result.Records = records
		result.VertexCount = header.vertexCount
	} else {
		header, err := m.transcoder.scanHeader(path)
		if err != nil {
			m.discardInvalid(id)
			return PrepareResult{}, err
		}
		result.VertexCount = header.vertexCount
	}

	rep.report(StageReady, 1)
	return result, nil
}

// fail reports the terminal Failed stage and passes the error through.
func (m *manager) fail(rep *progressReporter, err error) error {
	if m.logger != nil {
		m.logger.Error("prepare failed", "error", err, "category", Classify(err))
	}
	if rep.fn != nil {
		rep.fn(PrepareProgress{Stage: StageFailed, Fraction: rep.last})
	}
	return err
}

// beginRun registers a run for the identifier, cancelling and waiting
// out any prior run first so two writers never target the same path.
func (m *manager) beginRun(ctx context.Context, id string) (context.Context, func()) {
	for {
		m.mu.Lock()
		prev := m.runs[id]
		if prev == nil {
			break
		}
		m.mu.Unlock()
		prev.cancel()
		<-prev.done
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	m.runs[id] = r
	m.mu.Unlock()

	end := func() {
		m.mu.Lock()
		if m.runs[id] == r {
			delete(m.runs, id)
		}
		m.mu.Unlock()
		cancel()
		close(r.done)
	}
	return runCtx, end
}

// cancelRun aborts the in-flight run for id, if any, and waits for it.
func (m *manager) cancelRun(id string) {
	m.mu.Lock()
	r := m.runs[id]
	m.mu.Unlock()
	if r != nil {
		r.cancel()
		<-r.done
	}
}

// resolveSourceURL resolves a source against the configured base origin.
// Absolute http(s) and s3 URLs pass through unchanged.
func (m *manager) resolveSourceURL(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: invalid source url %q", ErrConnection, src)
	}
	switch u.Scheme {
	case "http", "https", "s3":
		return src, nil
	}
	if m.cfg.BaseURL == "" {
		return "", fmt.Errorf("%w: relative source %q without BaseURL", ErrConnection, src)
	}
	base, err := url.Parse(m.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid BaseURL %q", ErrConnection, m.cfg.BaseURL)
	}
	return base.ResolveReference(u).String(), nil
}

// Transcode decodes an already-cached asset without network use.
func (m *manager) Transcode(ctx context.Context, id string) (RecordSequence, error) {
	if !m.store.exists(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, id)
	}
	records, _, err := m.transcoder.transcode(ctx, m.store.path(id))
	if err != nil {
		if !errors.Is(err, ErrCancelled) && !errors.Is(err, ErrTimeout) {
			m.discardInvalid(id)
		}
		return nil, err
	}
	return records, nil
}

// IsAvailable reports whether a cached file exists for the identifier.
func (m *manager) IsAvailable(id string) bool {
	return m.store.exists(id)
}

// Info reports the cache state for the identifier.
func (m *manager) Info(id string) AssetInfo {
	return m.store.info(id)
}

// Delete removes the cached file for the identifier, cancelling any
// in-flight run first.
func (m *manager) Delete(id string) error {
	m.cancelRun(id)
	return m.store.delete(id)
}

// ClearAll cancels every in-flight run, waits for them to settle, then
// removes and recreates the cache directory. Serializing the clear
// against in-flight runs keeps a concurrent download from writing into
// a directory that no longer exists.
func (m *manager) ClearAll() error {
	m.mu.Lock()
	pending := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		r.cancel()
		pending = append(pending, r)
	}
	m.mu.Unlock()

	for _, r := range pending {
		<-r.done
	}
	return m.store.deleteAll()
}

// TotalCacheBytes returns the combined size of all cached files.
func (m *manager) TotalCacheBytes() int64 {
	return m.store.totalBytes()
}

// List enumerates cached assets.
func (m *manager) List() []CacheEntry {
	return m.store.list()
}

// Cancel aborts the in-flight run for the identifier, if any.
func (m *manager) Cancel(id string) {
	m.cancelRun(id)
}
