package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/tdfc/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Options configures a Service. Build it once from the process configuration.
type Options struct {
	// SourcePath is the installed spreadsheet.
	SourcePath string

	// Sheet is used when a request names no sheet.
	Sheet string

	HeaderScanRows int
	BatchSize      int
	SignatureMode  SignatureMode

	// LookupCacheSize is the LRU capacity for lookup results; 0 disables it.
	LookupCacheSize int

	MaxUploadSize        int64
	MaxConcurrentUploads int
	MaxUploadWait        time.Duration

	Logger *slog.Logger
}

// Service answers lookups over the index and keeps it in step with the source
// file. Staleness is checked on every query; a stale index is rebuilt before
// the query is answered.
//
// At most one rebuild runs at a time. Concurrent stale queries for a sheet
// share one rebuild. Lookups never observe an uncommitted rebuild: the store
// transaction hides it until commit, and commit happens while lookups are
// excluded so the result cache and the committed generation move together.
type Service struct {
	store   IndexStore
	opener  SourceOpener
	builder *IndexBuilder
	sigs    SignatureComputer
	opts    Options
	logger  *slog.Logger

	rebuildMu sync.Mutex
	group     singleflight.Group

	// gate orders commits against lookups. generation is only written while
	// gate is held, with a value read from the store under that same hold.
	gate       sync.RWMutex
	generation atomic.Value // Signature

	cache *lru.Cache[lookupKey, LookupResult]

	failMu   sync.Mutex
	failures map[string]failedBuild

	statusMu    sync.Mutex
	lastRebuild *RebuildSummary
	lastErr     string

	uploads *UploadLimiter
}

// failedBuild remembers the error of the last failed rebuild of a sheet.
type failedBuild struct {
	sig Signature
	err error
}

// NewService creates a Service over store, reading spreadsheets with opener.
func NewService(store IndexStore, opener SourceOpener, opts Options) (*Service, error) {
	if opts.SourcePath == "" {
		return nil, errors.New("source path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SignatureMode == "" {
		opts.SignatureMode = SignatureStat
	}

	sigs := SignatureComputer{Mode: opts.SignatureMode}
	locator := NewHeaderLocator(DefaultFields, opts.HeaderScanRows)

	s := &Service{
		store:    store,
		opener:   opener,
		builder:  NewIndexBuilder(store, opener, sigs, locator, opts.BatchSize),
		sigs:     sigs,
		opts:     opts,
		logger:   opts.Logger,
		failures: make(map[string]failedBuild),
		uploads:  NewUploadLimiter(opts.MaxConcurrentUploads, opts.MaxUploadWait),
	}
	s.generation.Store(Signature(""))

	if opts.LookupCacheSize > 0 {
		cache, err := lru.New[lookupKey, LookupResult](opts.LookupCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create lookup cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// DefaultSheet returns the sheet used when a request names none.
func (s *Service) DefaultSheet() string { return s.opts.Sheet }

// SourcePath returns the path of the installed spreadsheet.
func (s *Service) SourcePath() string { return s.opts.SourcePath }

// Uploads returns the limiter bounding concurrent source installs.
func (s *Service) Uploads() *UploadLimiter { return s.uploads }

func (s *Service) sheetOrDefault(sheet string) string {
	if sheet == "" {
		return s.opts.Sheet
	}
	return sheet
}

// EnsureFresh rebuilds the index for sheet if it does not reflect the current
// source file. A missing source fails with a *ConfigurationError; a missing
// sheet or header fails with a *SchemaError.
func (s *Service) EnsureFresh(ctx context.Context, sheet string) error {
	_, err := s.ensureFresh(ctx, s.sheetOrDefault(sheet))
	return err
}

// ensureFresh returns the signature the index reflects once it is fresh.
func (s *Service) ensureFresh(ctx context.Context, sheet string) (Signature, error) {
	current, err := s.sigs.Compute(s.opts.SourcePath, sheet)
	if err != nil {
		return "", err
	}
	if current.IsZero() {
		metrics.StalenessChecks.WithLabelValues("no_source").Inc()
		return "", &ConfigurationError{Path: s.opts.SourcePath, Err: ErrNoSource}
	}

	stored, err := s.storedSignature(ctx)
	if err != nil {
		return "", err
	}
	if stored == current {
		metrics.StalenessChecks.WithLabelValues("fresh").Inc()
		return current, nil
	}

	if err := s.rememberedFailure(sheet, current); err != nil {
		metrics.StalenessChecks.WithLabelValues("failed_memo").Inc()
		return "", err
	}

	metrics.StalenessChecks.WithLabelValues("stale").Inc()

	// The rebuild is shared by every caller waiting on this sheet, so it must
	// not die with the first caller's request.
	v, err, _ := s.group.Do(sheet, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), sheet)
	})
	if err != nil {
		return "", err
	}
	return v.(Signature), nil
}

// refresh rechecks staleness under the rebuild lock and rebuilds if needed.
func (s *Service) refresh(ctx context.Context, sheet string) (Signature, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	current, err := s.sigs.Compute(s.opts.SourcePath, sheet)
	if err != nil {
		return "", err
	}
	if current.IsZero() {
		return "", &ConfigurationError{Path: s.opts.SourcePath, Err: ErrNoSource}
	}

	stored, err := s.storedSignature(ctx)
	if err != nil {
		return "", err
	}
	if stored == current {
		return current, nil
	}
	if err := s.rememberedFailure(sheet, current); err != nil {
		return "", err
	}

	sum, err := s.rebuildLocked(ctx, sheet)
	if err != nil {
		return "", err
	}
	return sum.Signature, nil
}

// Rebuild regenerates the index for sheet unconditionally. It clears any
// remembered failure for the sheet first.
func (s *Service) Rebuild(ctx context.Context, sheet string) (RebuildSummary, error) {
	sheet = s.sheetOrDefault(sheet)

	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	s.forgetFailure(sheet)
	return s.rebuildLocked(context.WithoutCancel(ctx), sheet)
}

// rebuildLocked stages and commits a rebuild. Callers hold rebuildMu.
func (s *Service) rebuildLocked(ctx context.Context, sheet string) (RebuildSummary, error) {
	start := time.Now()

	tx, sum, err := s.builder.Stage(ctx, s.opts.SourcePath, sheet)
	log := s.logger.With(
		slog.String("rebuild_id", sum.RebuildID),
		slog.String("sheet", sheet),
	)
	log.Info("index rebuild started", slog.String("source", s.opts.SourcePath))

	if err == nil {
		err = s.commit(ctx, tx, sum.Signature)
	}
	sum.Duration = time.Since(start)

	result := Classify(err)
	metrics.RebuildCount.WithLabelValues(sheet, result).Inc()
	metrics.RebuildDuration.WithLabelValues(sheet).Observe(sum.Duration.Seconds())

	if err != nil {
		if (IsConfigurationError(err) || IsSchemaError(err)) && !sum.Signature.IsZero() {
			s.rememberFailure(sheet, sum.Signature, err)
		}
		s.recordStatus(nil, err)
		log.Error("index rebuild failed",
			slog.String("result", result),
			slog.Duration("duration", sum.Duration),
			slog.Any("error", err),
		)
		return sum, err
	}

	s.forgetFailure(sheet)
	s.recordStatus(&sum, nil)

	metrics.Entries.WithLabelValues(sheet).Set(float64(sum.RowsIndexed))
	metrics.RowsSkipped.WithLabelValues(sheet, "out_of_range").Add(float64(sum.SkippedOutOfRange))
	metrics.RowsSkipped.WithLabelValues(sheet, "empty_key").Add(float64(sum.SkippedEmptyKey))
	metrics.RowsSkipped.WithLabelValues(sheet, "empty_label").Add(float64(sum.SkippedEmptyLabel))

	log.Info("index rebuild complete",
		slog.Int("header_row", sum.HeaderRow),
		slog.Int("rows_scanned", sum.RowsScanned),
		slog.Int("rows_indexed", sum.RowsIndexed),
		slog.Int("skipped_out_of_range", sum.SkippedOutOfRange),
		slog.Int("skipped_empty_key", sum.SkippedEmptyKey),
		slog.Int("skipped_empty_label", sum.SkippedEmptyLabel),
		slog.Int("batches", sum.Batches),
		slog.Duration("duration", sum.Duration),
	)
	return sum, nil
}

// commit makes a staged rebuild visible. Lookups are excluded for the
// duration so no lookup pairs the new entries with a cached or checked old
// generation.
func (s *Service) commit(ctx context.Context, tx RebuildTx, sig Signature) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	s.generation.Store(sig)
	if s.cache != nil {
		s.cache.Purge()
	}
	return nil
}

// storedSignature reads the committed signature and records it as the
// current generation.
func (s *Service) storedSignature(ctx context.Context) (Signature, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	sig, err := s.store.StoredSignature(ctx)
	if err != nil {
		return "", err
	}
	s.generation.Store(sig)
	return sig, nil
}

func (s *Service) loadGeneration() Signature {
	return s.generation.Load().(Signature)
}

func (s *Service) rememberedFailure(sheet string, sig Signature) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()

	f, ok := s.failures[sheet]
	if !ok {
		return nil
	}
	if f.sig != sig {
		// The source changed since the failure was recorded.
		delete(s.failures, sheet)
		return nil
	}
	return f.err
}

func (s *Service) rememberFailure(sheet string, sig Signature, err error) {
	s.failMu.Lock()
	s.failures[sheet] = failedBuild{sig: sig, err: err}
	s.failMu.Unlock()
}

func (s *Service) forgetFailure(sheet string) {
	s.failMu.Lock()
	delete(s.failures, sheet)
	s.failMu.Unlock()
}

func (s *Service) recordStatus(sum *RebuildSummary, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if err != nil {
		s.lastErr = err.Error()
		return
	}
	s.lastRebuild = sum
	s.lastErr = ""
}

// Status reports the index state relative to the current source file. It
// never triggers a rebuild.
func (s *Service) Status(ctx context.Context, sheet string) (IndexStatus, error) {
	sheet = s.sheetOrDefault(sheet)

	current, err := s.sigs.Compute(s.opts.SourcePath, sheet)
	if err != nil {
		return IndexStatus{}, err
	}
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return IndexStatus{}, err
	}

	st := IndexStatus{
		Sheet:         sheet,
		SourcePath:    s.opts.SourcePath,
		SourcePresent: !current.IsZero(),
		Current:       current,
		Stored:        snap.Signature,
		Fresh:         !current.IsZero() && current == snap.Signature,
		Entries:       snap.Entries,
	}

	s.statusMu.Lock()
	if s.lastRebuild != nil {
		last := *s.lastRebuild
		st.LastRebuild = &last
	}
	st.LastError = s.lastErr
	s.statusMu.Unlock()

	return st, nil
}

// InstallSource replaces the source spreadsheet with the workbook read from r
// and rebuilds the default sheet.
func (s *Service) InstallSource(ctx context.Context, r io.Reader) (RebuildSummary, error) {
	if err := s.uploads.Acquire(ctx); err != nil {
		return RebuildSummary{}, err
	}
	defer s.uploads.Release()

	tmp, err := s.stageUpload(r)
	if err != nil {
		return RebuildSummary{}, err
	}
	defer removeIfExists(tmp)

	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if err := replaceFile(tmp, s.opts.SourcePath); err != nil {
		return RebuildSummary{}, err
	}
	s.logger.Info("source installed", slog.String("path", s.opts.SourcePath))

	sheet := s.opts.Sheet
	s.forgetFailure(sheet)
	return s.rebuildLocked(context.WithoutCancel(ctx), sheet)
}
