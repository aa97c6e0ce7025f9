package am

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"am-go/internal/model"
)

// DefaultAbortTimeout bounds how long Abort waits for a scan to drain.
const DefaultAbortTimeout = 60 * time.Second

// ErrAborted is reported by a scan that stopped because Abort was called.
var ErrAborted = errors.New("scan aborted")

// ErrScanRunning is returned to callers that need an idle scanner.
var ErrScanRunning = errors.New("a scan is already running")

// State is the scanner's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Scan run statuses as stored in the catalog.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusAborted   = "aborted"
)

// ScannerOptions tunes a Scanner. Zero values select the defaults.
type ScannerOptions struct {
	AbortTimeout time.Duration
	ResultBuffer int
}

// Summary describes how a scan ended.
type Summary struct {
	SessionID string
	Status    string
	Elapsed   time.Duration
	Total     int
	Added     int
	Updated   int
	Failed    int
	Missing   int64
	Reason    *string
	TimedOut  bool
	Err       error // fatal error, nil for completed or user-aborted scans
}

// Scanner indexes a package folder into the catalog. At most one scan runs
// at a time; Start while running is rejected.
type Scanner struct {
	store    Store
	parser   PackageParser
	enum     Enumerator
	workshop WorkshopClient
	sink     EventSink
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	opts     ScannerOptions

	mu     sync.Mutex
	active *scanSession
}

// NewScanner creates a Scanner. workshop may be nil to skip metadata fetches.
func NewScanner(store Store, parser PackageParser, enum Enumerator, workshop WorkshopClient, sink EventSink, logger Logger, clock Clock, idgen IDGenerator, opts ScannerOptions) *Scanner {
	if opts.AbortTimeout <= 0 {
		opts.AbortTimeout = DefaultAbortTimeout
	}
	if opts.ResultBuffer <= 0 {
		opts.ResultBuffer = DefaultResultBuffer
	}
	if sink == nil {
		sink = EventSinkFunc(func(Event) {})
	}
	return &Scanner{
		store:    store,
		parser:   parser,
		enum:     enum,
		workshop: workshop,
		sink:     sink,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		opts:     opts,
	}
}

// scanCounter holds the running totals of one scan.
type scanCounter struct {
	total   atomic.Int64
	added   atomic.Int64
	updated atomic.Int64
	errors  atomic.Int64
}

// scanSession is the state owned by one run of the pipeline.
type scanSession struct {
	id        string
	root      string
	speed     Speed
	startedAt time.Time

	// cleared by Abort; checked by the consumer after every item
	proceed     atomic.Bool
	abortReason atomic.Pointer[string]

	counter scanCounter

	cancel      context.CancelFunc // stops the whole pipeline
	cancelFetch context.CancelFunc // stops workshop fetches only

	done     chan struct{} // closed when the pipeline goroutine returns
	ended    chan struct{} // closed when the terminal event is emitted
	terminal sync.Once
	summary  *Summary
}

func (s *scanSession) isEnded() bool {
	select {
	case <-s.ended:
		return true
	default:
		return false
	}
}

func (s *scanSession) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// busy reports whether the session still owns the pipeline. A session whose
// abort timed out has ended but stays busy until its goroutine exits.
func (s *scanSession) busy() bool {
	return !s.isEnded() || !s.isDone()
}

// State reports whether a scan is running.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.busy() {
		return StateRunning
	}
	return StateIdle
}

// Start begins a background scan of root. Returns false if a scan is already running.
func (s *Scanner) Start(root string, speed Speed) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil && s.active.busy() {
		if s.active.isEnded() {
			s.logger.Warn("previous scan still stopping, ignoring start", "session", s.active.id)
		} else {
			s.logger.Warn("scan already running, ignoring start", "session", s.active.id)
		}
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	fetchCtx, cancelFetch := context.WithCancel(ctx)

	sess := &scanSession{
		id:        s.idgen.New(),
		root:      root,
		speed:     speed,
		startedAt: s.clock.Now(),
		done:      make(chan struct{}),
		ended:     make(chan struct{}),

		cancel:      cancel,
		cancelFetch: cancelFetch,
	}
	sess.proceed.Store(true)
	s.active = sess

	go s.run(ctx, fetchCtx, sess)
	return true
}

// Abort asks the running scan to stop and waits, up to the abort timeout, for
// in-flight work to drain. It always ends the scan with an AbortedEvent unless
// the scan finished first. Pending workshop fetches are cancelled right away;
// on timeout the whole pipeline is cancelled and Start stays rejected until
// it exits. Abort while idle is a no-op.
func (s *Scanner) Abort(reason *string) {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()

	if sess == nil || sess.isEnded() {
		return
	}

	if reason != nil {
		sess.abortReason.Store(reason)
	}
	sess.proceed.Store(false)
	sess.cancelFetch()

	timedOut := false
	select {
	case <-sess.done:
	case <-time.After(s.opts.AbortTimeout):
		timedOut = true
		sess.cancel()
	}

	if timedOut {
		annotated := "timed out waiting for scan to stop"
		if reason != nil {
			annotated = *reason + " (timed out)"
		}
		reason = &annotated
	}

	summary := s.summarize(sess, RunStatusAborted)
	summary.Reason = reason
	summary.TimedOut = timedOut
	if s.endSession(sess, summary, AbortedEvent{Reason: reason, TimedOut: timedOut}) {
		s.logger.Info("scan aborted", "session", sess.id, "reason", derefOr(reason, ""), "timed_out", timedOut)
	}
}

// Wait blocks until the current scan has ended and returns its summary.
// Returns nil if no scan was ever started.
func (s *Scanner) Wait(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()

	if sess == nil {
		return nil, nil
	}

	select {
	case <-sess.ended:
		return sess.summary, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// endSession emits the session's terminal event once. Returns false if the
// session had already ended.
func (s *Scanner) endSession(sess *scanSession, summary *Summary, event Event) bool {
	ended := false
	sess.terminal.Do(func() {
		sess.summary = summary
		s.sink.Emit(event)
		close(sess.ended)
		ended = true
	})
	return ended
}

func (s *Scanner) summarize(sess *scanSession, status string) *Summary {
	return &Summary{
		SessionID: sess.id,
		Status:    status,
		Elapsed:   s.clock.Now().Sub(sess.startedAt),
		Total:     int(sess.counter.total.Load()),
		Added:     int(sess.counter.added.Load()),
		Updated:   int(sess.counter.updated.Load()),
		Failed:    int(sess.counter.errors.Load()),
	}
}

// run is the pipeline goroutine of one session.
func (s *Scanner) run(ctx, fetchCtx context.Context, sess *scanSession) {
	defer close(sess.done)
	defer sess.cancel()

	s.sink.Emit(StartedEvent{SessionID: sess.id, Speed: sess.speed})
	s.logger.Info("scan started", "session", sess.id, "speed", sess.speed.String(), "root", sess.root)

	run, missing, err := s.scan(ctx, fetchCtx, sess)
	if err != nil && !errors.Is(err, ErrAborted) && !sess.proceed.Load() {
		// Store calls interrupted by a timed-out abort.
		s.logger.Debug("scan stopped after abort", "session", sess.id, "error", err)
		err = ErrAborted
	}

	status := RunStatusCompleted
	if err != nil {
		status = RunStatusAborted
	}
	summary := s.summarize(sess, status)
	summary.Missing = missing

	var reason *string
	switch {
	case err == nil:
	case errors.Is(err, ErrAborted):
		reason = sess.abortReason.Load()
	default:
		msg := err.Error()
		reason = &msg
		summary.Err = err
		s.logger.Error("scan failed", "session", sess.id, "error", err)
	}
	summary.Reason = reason

	if run != nil {
		s.recordRun(run, summary)
	}

	switch {
	case err == nil:
		if s.endSession(sess, summary, CompletedEvent{
			Elapsed: summary.Elapsed,
			Total:   summary.Total,
			Added:   summary.Added,
			Updated: summary.Updated,
			Failed:  summary.Failed,
		}) {
			s.logger.Info("scan complete",
				"session", sess.id,
				"total", summary.Total,
				"added", summary.Added,
				"updated", summary.Updated,
				"failed", summary.Failed,
				"missing", summary.Missing,
				"elapsed", summary.Elapsed.Truncate(time.Millisecond).String(),
			)
		}
	case errors.Is(err, ErrAborted):
		// Abort emits the terminal event once it has finished waiting.
	default:
		s.endSession(sess, summary, AbortedEvent{Reason: reason})
	}
}

// scan runs the pipeline: enumerate, parse and hash in parallel, reconcile
// serially, then resolve workshop metadata and mark missing records. It
// returns the stored scan run (nil if the scan never got that far) and the
// number of records marked missing.
func (s *Scanner) scan(ctx, fetchCtx context.Context, sess *scanSession) (*model.ScanRun, int64, error) {
	paths, err := s.enum.ListPackages(sess.root)
	if err != nil {
		return nil, 0, fmt.Errorf("listing packages: %w", err)
	}
	mirrorIDs, err := s.enum.WorkshopMirrorIDs(sess.root)
	if err != nil {
		return nil, 0, fmt.Errorf("listing workshop mirror folder: %w", err)
	}
	s.logger.Debug("enumerated packages", "count", len(paths), "workshop_mirror", len(mirrorIDs))

	if !sess.proceed.Load() {
		return nil, 0, ErrAborted
	}

	run, err := s.store.CreateScanRun(ctx, sess.id, string(sess.speed), sess.startedAt)
	if err != nil {
		return nil, 0, fmt.Errorf("recording scan run: %w", err)
	}

	known, err := s.store.ListKnownExternalIDs(ctx)
	if err != nil {
		return run, 0, fmt.Errorf("listing known workshop ids: %w", err)
	}

	res := newResolver(fetchCtx, s.workshop, known, s.logger)
	queue := newWorkQueue(paths)
	pool := &workerPool{
		parser:  s.parser,
		queue:   queue,
		workers: max(1, min(sess.speed.Workers(), len(paths))),
		logger:  s.logger,
	}
	rec := &reconciler{
		store:     s.store,
		clock:     s.clock,
		logger:    s.logger,
		sessionID: sess.id,
	}

	results := pool.start(ctx, s.opts.ResultBuffer)
	total := len(paths)

	for result := range results {
		outcome, workshopID, err := rec.apply(ctx, result)
		if err != nil {
			queue.clear()
			sess.cancel()
			drain(results)
			res.wait()
			return run, 0, err
		}

		sess.counter.total.Add(1)
		switch outcome {
		case OutcomeFailed:
			sess.counter.errors.Add(1)
		case OutcomeAdded:
			sess.counter.added.Add(1)
			if workshopID != nil {
				res.queue(*workshopID)
			}
		case OutcomeUpdated:
			sess.counter.updated.Add(1)
		}
		s.logger.Debug("file reconciled", "path", result.Path, "outcome", outcome.String())

		s.sink.Emit(ProgressEvent{Scanned: int(sess.counter.total.Load()), Total: total})

		if !sess.proceed.Load() {
			dropped := queue.clear()
			s.logger.Info("abort requested, draining workers", "session", sess.id, "dropped", dropped)
			sess.cancel()
			drain(results)
			res.wait()
			return run, 0, ErrAborted
		}
	}

	// An abort that lands after the last item still skips finalization, so a
	// partial pass never marks unvisited records missing.
	if !sess.proceed.Load() {
		sess.cancel()
		res.wait()
		return run, 0, ErrAborted
	}

	missing, err := s.finalize(ctx, sess, res, rec, mirrorIDs)
	if err != nil {
		return run, 0, err
	}
	return run, missing, nil
}

// finalize resolves pending workshop ids, resyncs workshop presence and
// marks records not seen this session as missing.
func (s *Scanner) finalize(ctx context.Context, sess *scanSession, res *resolver, rec *reconciler, mirrorIDs []int64) (int64, error) {
	res.flush()
	for _, id := range mirrorIDs {
		res.queue(id)
	}
	res.flush()
	items := res.wait()
	if !sess.proceed.Load() {
		return 0, ErrAborted
	}

	if len(items) > 0 {
		if err := s.store.UpsertWorkshopItems(ctx, items, sess.id); err != nil {
			return 0, fmt.Errorf("storing workshop items: %w", err)
		}
		s.logger.Info("stored workshop items", "count", len(items))
	}

	if err := s.store.MarkWorkshopPresence(ctx, mirrorIDs); err != nil {
		return 0, fmt.Errorf("marking workshop presence: %w", err)
	}

	if err := s.store.ConfirmSession(ctx, sess.id, rec.confirmed); err != nil {
		return 0, fmt.Errorf("confirming unchanged records: %w", err)
	}

	missing, err := s.store.MarkSessionMissing(ctx, sess.id)
	if err != nil {
		return 0, fmt.Errorf("marking missing records: %w", err)
	}
	if missing > 0 {
		s.logger.Info("marked missing addons", "count", missing)
	}
	return missing, nil
}

// recordRun stores the final state of a scan run. Failures are logged only;
// the catalog itself is already consistent.
func (s *Scanner) recordRun(run *model.ScanRun, summary *Summary) {
	finished := s.clock.Now()
	run.FinishedAt = &finished
	run.Status = summary.Status
	run.Total = summary.Total
	run.Added = summary.Added
	run.Updated = summary.Updated
	run.Failed = summary.Failed
	run.Reason = derefOr(summary.Reason, "")

	if err := s.store.FinishScanRun(context.Background(), run); err != nil {
		s.logger.Error("recording scan run result", "session", run.SessionID, "error", err)
	}
}

// drain discards results until every worker has exited.
func drain(results <-chan fileResult) {
	for range results {
	}
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
