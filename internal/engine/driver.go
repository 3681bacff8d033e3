package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/reduce/internal/ir"
)

// DefaultPollInterval is how often a paused reduction rechecks its status
// when nothing signals it.
const DefaultPollInterval = 100 * time.Millisecond

// ObjectSource assembles the reduction object for a run.
// Implemented by registry.Registry.
type ObjectSource interface {
	RetrieveReductionObject(ctx context.Context, astrotype string, ds ir.Dataset) (*ReductionObject, error)
}

// Job describes one reduction.
type Job struct {
	// Recipe is the recipe (or primitive) to run.
	Recipe string
	// Source, when set, is recipe text bound under Recipe instead of
	// looking the recipe up.
	Source string
	// AstroType selects the primitive sets. Empty classifies the first input.
	AstroType string
	Inputs    []ir.Dataset
	// Globals are ambient parameters visible to every primitive.
	Globals map[string]any
	// Local is the recipe-local overlay.
	Local      map[string]any
	UserParams *ir.UserParams
	// Object, when set, is used instead of asking the ObjectSource. Binding
	// mutates it, so concurrent jobs must not share one.
	Object *ReductionObject
}

// Driver is the control loop: it runs recipes, services the requests
// primitives queue, honors pause requests and applies the failure policy.
//
// Thread-safety: a Driver may run several reductions at once (RunBatch).
// Each reduction context is driven by exactly one goroutine; the stack
// and fringe keepers are shared.
type Driver struct {
	objects ObjectSource

	cals       CalibrationStore
	stackStore StackStore
	history    HistoryStore
	calService CalibrationService
	display    DisplayService
	caches     CacheManager

	metrics  *Metrics
	wall     WallClock
	ids      RunIDGenerator
	identify DatasetIdentifier

	stacks  *StackKeeper
	fringes *StackKeeper
	restore sync.Once

	poll       time.Duration
	batchLimit int

	// persistMu serializes index writes from concurrent runs.
	persistMu sync.Mutex
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithCalibrationStore restores the calibration index from s before each
// run and persists it afterwards.
func WithCalibrationStore(s CalibrationStore) DriverOption {
	return func(d *Driver) { d.cals = s }
}

// WithStackStore persists the stack and fringe keepers to s.
func WithStackStore(s StackStore) DriverOption {
	return func(d *Driver) { d.stackStore = s }
}

// WithHistoryStore records every finished run in s.
func WithHistoryStore(s HistoryStore) DriverOption {
	return func(d *Driver) { d.history = s }
}

// WithCalibrationService sets where missing calibrations are searched for.
func WithCalibrationService(s CalibrationService) DriverOption {
	return func(d *Driver) { d.calService = s }
}

// WithDisplayService sets where display requests go. Without one they are
// logged.
func WithDisplayService(s DisplayService) DriverOption {
	return func(d *Driver) { d.display = s }
}

// WithCacheManager sets who empties caches on request.
func WithCacheManager(c CacheManager) DriverOption {
	return func(d *Driver) { d.caches = c }
}

// WithMetrics reports steps, requests and active runs to m.
func WithMetrics(m *Metrics) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// WithDriverClock sets the wall clock handed to new contexts.
func WithDriverClock(c WallClock) DriverOption {
	return func(d *Driver) { d.wall = c }
}

// WithRunIDGenerator sets how run ids are generated.
func WithRunIDGenerator(g RunIDGenerator) DriverOption {
	return func(d *Driver) { d.ids = g }
}

// WithDriverIdentifier sets how dataset identity is computed.
func WithDriverIdentifier(id DatasetIdentifier) DriverOption {
	return func(d *Driver) { d.identify = id }
}

// WithPollInterval sets how often a paused run rechecks its status.
func WithPollInterval(p time.Duration) DriverOption {
	return func(d *Driver) { d.poll = p }
}

// WithBatchLimit caps how many reductions RunBatch runs at once.
// Zero or negative means no limit.
func WithBatchLimit(n int) DriverOption {
	return func(d *Driver) { d.batchLimit = n }
}

// NewDriver creates a driver. objects may be nil when every Job carries
// its own Object.
func NewDriver(objects ObjectSource, opts ...DriverOption) *Driver {
	d := &Driver{
		objects:  objects,
		wall:     SystemClock{},
		ids:      UUIDv7Generator{},
		identify: FileIdentifier{},
		stacks:   NewStackKeeper(StackIndexStacks),
		fringes:  NewStackKeeper(StackIndexFringes),
		poll:     DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stacks returns the shared stack keeper.
func (d *Driver) Stacks() *StackKeeper { return d.stacks }

// CompileAndBind assembles the reduction object for job and binds its
// recipe. A recipe name that is already a primitive is run as one.
func (d *Driver) CompileAndBind(ctx context.Context, job Job) (*ReductionObject, error) {
	if job.Recipe == "" {
		return nil, fmt.Errorf("job has no recipe")
	}
	ro, err := d.ReductionObject(ctx, job)
	if err != nil {
		return nil, err
	}

	switch {
	case job.Source != "":
		if err := ro.BindSource(job.Recipe, job.Source); err != nil {
			return nil, err
		}
	case ro.HasStep(job.Recipe):
	case job.AstroType == "" && len(job.Inputs) > 0 && ro.binder.types != nil:
		if err := ro.binder.BindForDataset(ro, job.Recipe, job.Inputs[0]); err != nil {
			return nil, err
		}
	default:
		if err := ro.CheckAndBind(job.Recipe); err != nil {
			return nil, err
		}
	}
	return ro, nil
}

// ReductionObject returns the reduction object job runs on without binding
// any recipe: job.Object when set, otherwise the one the object source
// assembles for the job's astrotype or first input.
func (d *Driver) ReductionObject(ctx context.Context, job Job) (*ReductionObject, error) {
	ro := job.Object
	if ro == nil {
		if d.objects == nil {
			return nil, fmt.Errorf("no reduction object for %s: driver has no object source", job.Recipe)
		}
		var ref ir.Dataset
		if len(job.Inputs) > 0 {
			ref = job.Inputs[0]
		}
		var err error
		ro, err = d.objects.RetrieveReductionObject(ctx, job.AstroType, ref)
		if err != nil {
			return nil, err
		}
	}
	if d.metrics != nil && ro.observer == nil {
		ro.observer = d.metrics
	}
	return ro, nil
}

// NewContext creates the reduction context for job on ro, with the
// calibration index restored from the calibration store.
func (d *Driver) NewContext(ctx context.Context, ro *ReductionObject, job Job) (*ReductionContext, error) {
	d.restore.Do(func() {
		if d.stackStore == nil {
			return
		}
		for _, k := range []*StackKeeper{d.stacks, d.fringes} {
			if err := k.Restore(ctx, d.stackStore); err != nil {
				slog.Warn("stack index not restored", "index", k.Index(), "error", err)
			}
		}
	})

	rc := NewReductionContext(
		WithRunID(d.ids.Generate()),
		WithWallClock(d.wall),
		WithIdentifier(d.identify),
		WithStackKeeper(d.stacks),
		WithFringeKeeper(d.fringes),
		WithUserParams(job.UserParams),
		WithReductionObject(ro),
	)
	rc.AddInput(job.Inputs...)
	for _, k := range sortedKeys(job.Globals) {
		rc.Set(k, job.Globals[k])
	}
	if len(job.Local) > 0 {
		local := make(map[string]any, len(job.Local))
		for k, v := range job.Local {
			local[k] = v
		}
		rc.SetLocalParams(local)
	}
	if d.cals != nil {
		if err := rc.RestoreCalIndex(ctx, d.cals); err != nil {
			return nil, err
		}
	}
	return rc, nil
}

// Advance runs recipe name on rc and yields each snapshot after the
// control loop has serviced it: queued requests are serviced, a pending
// pause is processed and a paused context is waited on. The sequence ends
// at the first error or once rc is finished.
//
// The top-level recipe is not bracketed; its steps record history at
// depth zero. A name bound to a primitive runs as a single step.
func (d *Driver) Advance(ctx context.Context, ro *ReductionObject, name string, rc *ReductionContext) iter.Seq2[*ReductionContext, error] {
	return func(yield func(*ReductionContext, error) bool) {
		var steps iter.Seq2[*ReductionContext, error]
		if prog, ok := ro.Program(name); ok {
			steps = Interpret(ctx, ro, prog, rc)
		} else {
			steps = ro.Substeps(ctx, name, rc)
		}

		for snap, err := range steps {
			if err != nil {
				yield(nil, err)
				return
			}
			if err := d.serviceRequests(ctx, snap); err != nil {
				yield(nil, err)
				return
			}
			if err := snap.ProcessControlRequest(); err != nil {
				yield(nil, err)
				return
			}
			if err := d.waitWhilePaused(ctx, snap); err != nil {
				yield(nil, err)
				return
			}
			if !yield(snap, nil) || snap.IsFinished() {
				return
			}
		}
		// a primitive run on its own may queue requests without yielding
		if err := d.serviceRequests(ctx, rc); err != nil {
			yield(nil, err)
		}
	}
}

// PendingRequests returns the requests queued on rc that have not been
// serviced.
func (d *Driver) PendingRequests(rc *ReductionContext) []ir.Request {
	return rc.Requests()
}

// ClearRequests drops queued requests of the given kinds, or all of them.
func (d *Driver) ClearRequests(rc *ReductionContext, kinds ...ir.RequestKind) {
	rc.ClearRequests(kinds...)
}

// Run performs a complete reduction.
//
// When a step fails the context is dumped to the log. Whether the run
// succeeds or not, the calibration index, the stack indices and the run
// history are persisted and the context is finished. The returned context
// is nil only when the run could not be set up.
func (d *Driver) Run(ctx context.Context, job Job) (*ReductionContext, error) {
	ro, err := d.CompileAndBind(ctx, job)
	if err != nil {
		return nil, err
	}
	rc, err := d.NewContext(ctx, ro, job)
	if err != nil {
		return nil, err
	}
	if err := rc.SetStatus(ir.StatusRunning); err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.ActiveRuns.Inc()
		defer d.metrics.ActiveRuns.Dec()
	}

	started := d.wall.Now()
	slog.Info("reduction started", "run_id", rc.RunID(), "recipe", job.Recipe, "astrotype", ro.AstroType, "inputs", len(job.Inputs))

	runErr := d.drain(ctx, ro, job.Recipe, rc)
	if runErr != nil {
		slog.Error("reduction failed", "run_id", rc.RunID(), "recipe", job.Recipe, "error", runErr)
		slog.Error("reduction context at failure", "run_id", rc.RunID(), "context", rc.String())
	}

	rc.Finish()
	record := ir.RunRecord{
		ID:        rc.RunID(),
		Recipe:    job.Recipe,
		AstroType: ro.AstroType,
		Hostname:  rc.Hostname(),
		Status:    rc.Status(),
		Started:   started,
		Finished:  d.wall.Now(),
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}
	// Persist even when ctx was canceled.
	if err := d.persist(context.WithoutCancel(ctx), rc, record); err != nil {
		slog.Error("reduction state not persisted", "run_id", rc.RunID(), "error", err)
		runErr = errors.Join(runErr, err)
	}

	if runErr == nil {
		slog.Info("reduction finished", "run_id", rc.RunID(), "recipe", job.Recipe, "elapsed", record.Finished.Sub(started))
	}
	return rc, runErr
}

func (d *Driver) drain(ctx context.Context, ro *ReductionObject, name string, rc *ReductionContext) error {
	for _, err := range d.Advance(ctx, ro, name, rc) {
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) persist(ctx context.Context, rc *ReductionContext, record ir.RunRecord) error {
	d.persistMu.Lock()
	defer d.persistMu.Unlock()

	var errs []error
	if d.cals != nil {
		errs = append(errs, rc.PersistCalIndex(ctx, d.cals))
	}
	if d.stackStore != nil {
		errs = append(errs, d.stacks.Persist(ctx, d.stackStore))
		errs = append(errs, d.fringes.Persist(ctx, d.stackStore))
	}
	if d.history != nil {
		if err := d.history.SaveRun(ctx, record, rc.History()); err != nil {
			errs = append(errs, fmt.Errorf("persist run history: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RunBatch runs several reductions concurrently, sharing the stack and
// fringe keepers. The first failure cancels the reductions still running.
// The returned contexts are in job order; a job that could not be set up
// leaves a nil entry.
func (d *Driver) RunBatch(ctx context.Context, jobs []Job) ([]*ReductionContext, error) {
	results := make([]*ReductionContext, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if d.batchLimit > 0 {
		g.SetLimit(d.batchLimit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			rc, err := d.Run(gctx, job)
			results[i] = rc
			if err != nil {
				return fmt.Errorf("reduction %d (%s): %w", i, job.Recipe, err)
			}
			return nil
		})
	}
	return results, g.Wait()
}

// Interactive reads commands from r, one per line, and runs them on rc.
// "exit" ends the session and "reset" returns rc to its original inputs.
// Anything else is recipe text, bound as userCommandN and run at once.
// Failures are reported to w and the session continues.
func (d *Driver) Interactive(ctx context.Context, ro *ReductionObject, rc *ReductionContext, r io.Reader, w io.Writer) error {
	if rc.Status() == ir.StatusExtant {
		if err := rc.SetStatus(ir.StatusRunning); err != nil {
			return err
		}
	}
	n := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit":
			rc.Finish()
			return nil
		case "reset":
			rc.Reset()
			fmt.Fprintln(w, "context reset")
			continue
		}

		name := fmt.Sprintf("userCommand%d", n)
		n++
		if err := ro.BindSource(name, line); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			continue
		}
		if err := d.drain(ctx, ro, name, rc); err != nil {
			if IsCanceled(err) {
				return err
			}
			slog.Error("interactive command failed", "run_id", rc.RunID(), "command", name, "error", err)
			fmt.Fprintf(w, "error: %v\n", err)
			continue
		}
		if rc.IsFinished() {
			return nil
		}
		fmt.Fprintf(w, "%s: inputs %s\n", name, rc.InputsAsString(true))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read commands: %w", err)
	}
	return nil
}

// waitWhilePaused blocks while rc is paused.
func (d *Driver) waitWhilePaused(ctx context.Context, rc *ReductionContext) error {
	if !rc.IsPaused() {
		return nil
	}
	slog.Info("reduction paused", "run_id", rc.RunID())
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for rc.IsPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rc.Changed():
		case <-ticker.C:
		}
	}
	slog.Info("reduction resumed", "run_id", rc.RunID(), "status", rc.Status())
	return nil
}

// serviceRequests services queued requests in order. A request is only
// removed once serviced, so a failure leaves it and every later request
// queued.
func (d *Driver) serviceRequests(ctx context.Context, rc *ReductionContext) error {
	for {
		req, ok := rc.requests.Peek()
		if !ok {
			return nil
		}
		err := d.service(ctx, rc, req)
		if d.metrics != nil {
			d.metrics.ObserveRequest(req.Kind(), err)
		}
		if err != nil {
			return err
		}
		rc.requests.Pop()
	}
}

func (d *Driver) service(ctx context.Context, rc *ReductionContext, req ir.Request) error {
	switch r := req.(type) {
	case ir.CalibrationRequest:
		return d.serviceCalibration(ctx, rc, r)

	case ir.StackUpdateRequest:
		d.stacks.Add(r.StackID, r.Filenames...)
		slog.Info("stack updated", "run_id", rc.RunID(), "stack", r.StackID, "files", len(r.Filenames))
		if d.stackStore == nil {
			return nil
		}
		d.persistMu.Lock()
		defer d.persistMu.Unlock()
		if err := d.stacks.Persist(ctx, d.stackStore); err != nil {
			return &ir.ServiceError{Kind: r.Kind(), Message: "stack index not saved", Err: err}
		}
		return nil

	case ir.StackGetRequest:
		slog.Debug("stack requested", "run_id", rc.RunID(), "stack", r.StackID, "files", len(d.stacks.Get(r.StackID)))
		return nil

	case ir.DisplayRequest:
		if d.display == nil {
			slog.Info("display requested", "run_id", rc.RunID(), "display_id", r.DisplayID, "files", strings.Join(r.Filenames, ","))
			return nil
		}
		if err := d.display.Display(ctx, r); err != nil {
			return &ir.ServiceError{Kind: r.Kind(), Message: "display failed", Err: err}
		}
		return nil

	case ir.ImageQualityRequest:
		slog.Info("image quality",
			"category", "IQ",
			"run_id", rc.RunID(),
			"file", r.Filename,
			"ellipticity_mean", r.EllipticityMean,
			"ellipticity_std", r.EllipticityStd,
			"fwhm_mean", r.FWHMMean,
			"fwhm_std", r.FWHMStd)
		return nil

	case ir.ClearCacheRequest:
		if d.caches == nil {
			return nil
		}
		if err := d.caches.ResetCaches(r.Caches...); err != nil {
			return &ir.ServiceError{Kind: r.Kind(), Message: "caches not cleared", Err: err}
		}
		slog.Info("caches cleared", "run_id", rc.RunID(), "caches", r.Caches)
		return nil

	default:
		return &ir.ServiceError{Kind: req.Kind(), Message: fmt.Sprintf("no service for %T", req)}
	}
}

// serviceCalibration answers a calibration request from the index, or
// else from the calibration service, recording what it finds.
func (d *Driver) serviceCalibration(ctx context.Context, rc *ReductionContext, r ir.CalibrationRequest) error {
	key := ir.CalKey{DatasetID: r.DatasetID, CalType: r.CalType}
	if rec, ok := rc.lookupCal(key); ok {
		slog.Debug("calibration in index", "run_id", rc.RunID(), "caltype", r.CalType, "file", r.Filename, "calibration", rec.Filename)
		return nil
	}
	if d.calService == nil {
		return calibrationNotFound(r)
	}

	found, err := d.calService.Search(ctx, r)
	if err != nil {
		return &ir.ServiceError{Kind: r.Kind(), Message: "calibration search failed", Err: err}
	}
	if found == "" {
		return calibrationNotFound(r)
	}

	if d.caches != nil {
		if dir := d.caches.Dir(CacheRetrievedCals); dir != "" {
			dst := filepath.Join(dir, r.CalType, filepath.Base(found))
			if err := copyFile(found, dst); err != nil {
				return &ir.ServiceError{Kind: r.Kind(), Message: "calibration not retrieved", Err: err}
			}
			found = dst
		}
	}
	if err := rc.addCal(key, found, r.Filename); err != nil {
		return err
	}
	slog.Info("calibration found", "run_id", rc.RunID(), "caltype", r.CalType, "file", r.Filename, "calibration", found)

	if d.cals == nil {
		return nil
	}
	d.persistMu.Lock()
	defer d.persistMu.Unlock()
	if err := rc.PersistCalIndex(ctx, d.cals); err != nil {
		return &ir.ServiceError{Kind: r.Kind(), Message: "calibration index not saved", Err: err}
	}
	return nil
}

// copyFile copies src to dst, creating dst's directory. Copying a file
// onto itself is a no-op.
func copyFile(src, dst string) error {
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return err
	}
	if srcAbs == dstAbs {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return err
	}

	in, err := os.Open(srcAbs)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dstAbs)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
