package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roach88/reduce/internal/ir"
)

// StandardOutputs is the only output category. Standard outputs become
// the inputs of the next step.
const StandardOutputs = "standard"

// idVersion is mixed into stackable and display ids.
const idVersion = "1_0"

// ReductionContext is the mutable state one reduction threads through
// its primitives: inputs and outputs, parameters, calibrations, step
// history, queued requests and the run status.
//
// Thread-safety: a context belongs to the goroutine driving its recipe.
// Only the status and control methods (Finish, RequestPause, Unpause and
// the Is* queries) may be called from other goroutines, so an operator can
// pause or stop a running reduction.
type ReductionContext struct {
	runID    string
	hostname string
	seq      *Clock
	wall     WallClock
	identify DatasetIdentifier

	// key/value layers
	ambient    map[string]any
	localparms map[string]any
	stepDecls  map[string]ir.ParamSpec
	userParams *ir.UserParams

	// data flow
	inputs         []ir.Dataset
	originalInputs []ir.Dataset
	outputs        map[string][]ir.Dataset

	calibrations map[ir.CalKey]ir.CalibrationRecord
	calRemoved   map[ir.CalKey]struct{}
	stacks       *StackKeeper
	fringes      *StackKeeper
	cacheFiles   map[string]string

	history []ir.HistoryEntry
	indent  int

	requests *requestQueue

	// recipe execution
	ro      *ReductionObject
	proxyID int

	mu         sync.Mutex
	status     ir.Status
	cmdRequest string
	signal     chan struct{}
	callbacks  map[string][]callback
	nextCBID   int
}

type callback struct {
	id int
	fn func(*ReductionContext)
}

// ContextOption configures a ReductionContext.
type ContextOption func(*ReductionContext)

// WithRunID sets the run id. Defaults to a fresh UUIDv7.
func WithRunID(id string) ContextOption {
	return func(rc *ReductionContext) { rc.runID = id }
}

// WithWallClock sets the clock used for history and calibration timestamps.
func WithWallClock(c WallClock) ContextOption {
	return func(rc *ReductionContext) { rc.wall = c }
}

// WithIdentifier sets how dataset identity is computed.
// Defaults to FileIdentifier.
func WithIdentifier(id DatasetIdentifier) ContextOption {
	return func(rc *ReductionContext) { rc.identify = id }
}

// WithStackKeeper shares a stack keeper between contexts.
func WithStackKeeper(k *StackKeeper) ContextOption {
	return func(rc *ReductionContext) { rc.stacks = k }
}

// WithFringeKeeper shares a fringe keeper between contexts.
func WithFringeKeeper(k *StackKeeper) ContextOption {
	return func(rc *ReductionContext) { rc.fringes = k }
}

// WithUserParams sets the explicit user overrides.
func WithUserParams(up *ir.UserParams) ContextOption {
	return func(rc *ReductionContext) { rc.userParams = up }
}

// WithHostname overrides the recorded hostname.
func WithHostname(h string) ContextOption {
	return func(rc *ReductionContext) { rc.hostname = h }
}

// WithReductionObject attaches the reduction object the context runs on,
// enabling Run.
func WithReductionObject(ro *ReductionObject) ContextOption {
	return func(rc *ReductionContext) { rc.ro = ro }
}

// NewReductionContext creates a context in status EXTANT.
func NewReductionContext(opts ...ContextOption) *ReductionContext {
	rc := &ReductionContext{
		seq:          NewClock(),
		wall:         SystemClock{},
		identify:     FileIdentifier{},
		ambient:      map[string]any{},
		outputs:      map[string][]ir.Dataset{},
		calibrations: map[ir.CalKey]ir.CalibrationRecord{},
		calRemoved:   map[ir.CalKey]struct{}{},
		cacheFiles:   map[string]string{},
		requests:     newRequestQueue(),
		status:       ir.StatusExtant,
		signal:       make(chan struct{}, 1),
		callbacks:    map[string][]callback{},
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.runID == "" {
		rc.runID = UUIDv7Generator{}.Generate()
	}
	if rc.hostname == "" {
		rc.hostname, _ = os.Hostname()
	}
	if rc.stacks == nil {
		rc.stacks = NewStackKeeper(StackIndexStacks)
	}
	if rc.fringes == nil {
		rc.fringes = NewStackKeeper(StackIndexFringes)
	}
	if rc.userParams == nil {
		rc.userParams = &ir.UserParams{}
	}
	return rc
}

// RunID returns the run id.
func (rc *ReductionContext) RunID() string { return rc.runID }

// Hostname returns the host the context was created on.
func (rc *ReductionContext) Hostname() string { return rc.hostname }

// UserParams returns the explicit user overrides.
func (rc *ReductionContext) UserParams() *ir.UserParams { return rc.userParams }

// ReductionObject returns the attached reduction object, or nil.
func (rc *ReductionContext) ReductionObject() *ReductionObject { return rc.ro }

// =============================================================================
// Key/value access
// =============================================================================

// Get returns the value for key, consulting the step-local overlay before
// the ambient context. A missing key returns (nil, false).
func (rc *ReductionContext) Get(key string) (any, bool) {
	if v, ok := rc.localparms[key]; ok {
		return v, true
	}
	v, ok := rc.ambient[key]
	return v, ok
}

// GetOrDefault returns the value for key, or def when it is missing.
func (rc *ReductionContext) GetOrDefault(key string, def any) any {
	if v, ok := rc.Get(key); ok {
		return v
	}
	return def
}

// GetString returns the value for key rendered as a string.
func (rc *ReductionContext) GetString(key string) (string, bool) {
	v, ok := rc.Get(key)
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Param returns the value for key converted to the type the current
// primitive declares for it. Undeclared keys are returned unconverted.
// A missing key returns (nil, nil).
func (rc *ReductionContext) Param(key string) (any, error) {
	v, ok := rc.Get(key)
	if !ok {
		return nil, nil
	}
	spec, declared := rc.stepDecls[key]
	if !declared {
		return v, nil
	}
	return ir.ConvertParam(key, spec.Type, v)
}

// Set stores a value in the ambient context.
func (rc *ReductionContext) Set(key string, v any) {
	rc.ambient[key] = v
}

// Delete removes key from the ambient context.
func (rc *ReductionContext) Delete(key string) {
	delete(rc.ambient, key)
}

// Keys returns the ambient keys in sorted order.
func (rc *ReductionContext) Keys() []string {
	return sortedKeys(rc.ambient)
}

// ParamNames returns the keys visible to the current step: the local
// overlay only, or the union of overlay and ambient keys.
func (rc *ReductionContext) ParamNames(localOnly bool) []string {
	if localOnly {
		return sortedKeys(rc.localparms)
	}
	union := make(map[string]struct{}, len(rc.localparms)+len(rc.ambient))
	for k := range rc.localparms {
		union[k] = struct{}{}
	}
	for k := range rc.ambient {
		union[k] = struct{}{}
	}
	return sortedKeys(union)
}

// LocalParams returns a copy of the step-local overlay.
func (rc *ReductionContext) LocalParams() map[string]any {
	out := make(map[string]any, len(rc.localparms))
	for k, v := range rc.localparms {
		out[k] = v
	}
	return out
}

// SetLocalParams replaces the step-local overlay.
func (rc *ReductionContext) SetLocalParams(m map[string]any) {
	rc.localparms = m
}

// collate applies parameter layering for primitive and installs the
// resulting overlay.
func (rc *ReductionContext) collate(astrotype, primitive string, table ir.ParamTable) error {
	out, err := CollateParams(astrotype, primitive, table, rc.localparms, rc.ambient, rc.userParams)
	if err != nil {
		return err
	}
	rc.localparms = out
	rc.stepDecls = table[primitive]
	return nil
}

// =============================================================================
// Inputs and outputs
// =============================================================================

// AddInput appends datasets to the inputs, skipping filenames already
// present. The first batch added to an empty context is also recorded as
// the original inputs.
func (rc *ReductionContext) AddInput(ds ...ir.Dataset) {
	recordOriginal := len(rc.originalInputs) == 0
	for _, d := range ds {
		if !hasDataset(rc.inputs, d.Filename) {
			rc.inputs = append(rc.inputs, d)
		}
		if recordOriginal && !hasDataset(rc.originalInputs, d.Filename) {
			rc.originalInputs = append(rc.originalInputs, d)
		}
	}
}

// AddInputFiles is AddInput for bare filenames.
func (rc *ReductionContext) AddInputFiles(filenames ...string) {
	for _, f := range filenames {
		rc.AddInput(ir.NewDataset(f))
	}
}

// ClearInputs empties the input list. Original inputs are kept.
func (rc *ReductionContext) ClearInputs() {
	rc.inputs = nil
}

// Reset returns the context to its original inputs with no outputs,
// overlay or queued requests. Calibrations, stacks and history are kept.
func (rc *ReductionContext) Reset() {
	rc.inputs = append([]ir.Dataset(nil), rc.originalInputs...)
	rc.outputs = map[string][]ir.Dataset{}
	rc.localparms = nil
	rc.requests.Clear()
}

// Inputs returns a copy of the current inputs.
func (rc *ReductionContext) Inputs() []ir.Dataset {
	return append([]ir.Dataset(nil), rc.inputs...)
}

// InputFilenames returns the filenames of the current inputs.
func (rc *ReductionContext) InputFilenames() []string {
	return filenames(rc.inputs)
}

// OriginalInputs returns a copy of the first batch of inputs.
func (rc *ReductionContext) OriginalInputs() []ir.Dataset {
	return append([]ir.Dataset(nil), rc.originalInputs...)
}

// InputFromParent returns the filename of the input derived from parent.
func (rc *ReductionContext) InputFromParent(parent string) (string, bool) {
	for _, in := range rc.inputs {
		if in.Parent == parent {
			return in.Filename, true
		}
	}
	return "", false
}

// ReportOutput records datasets produced by the current step. Only the
// standard category exists.
func (rc *ReductionContext) ReportOutput(category string, ds ...ir.Dataset) error {
	if category != StandardOutputs {
		return &ir.ConfigurationError{
			Code:    ir.ErrCodeBadOutputCategory,
			Message: fmt.Sprintf("only %q category output is supported, got %q", StandardOutputs, category),
		}
	}
	rc.outputs[category] = append(rc.outputs[category], ds...)
	return nil
}

// Outputs returns a copy of the outputs reported in category.
func (rc *ReductionContext) Outputs(category string) []ir.Dataset {
	return append([]ir.Dataset(nil), rc.outputs[category]...)
}

// FinalizeOutputs promotes standard outputs to inputs. Steps that report
// no outputs leave the inputs alone.
func (rc *ReductionContext) FinalizeOutputs() {
	out := rc.outputs[StandardOutputs]
	if len(out) == 0 {
		return
	}
	if rc.originalInputs == nil {
		rc.originalInputs = append([]ir.Dataset(nil), rc.inputs...)
	}
	rc.inputs = append([]ir.Dataset(nil), out...)
	rc.outputs[StandardOutputs] = nil
}

// ReferenceDataset returns the first input.
func (rc *ReductionContext) ReferenceDataset() (ir.Dataset, bool) {
	if len(rc.inputs) == 0 {
		return ir.Dataset{}, false
	}
	return rc.inputs[0], true
}

// PrependNames returns the input filenames with prefix added to the base
// name, placed in the working directory or beside the input.
func (rc *ReductionContext) PrependNames(prefix string, currentDir bool) ([]string, error) {
	out := make([]string, 0, len(rc.inputs))
	for _, in := range rc.inputs {
		dir, err := outputDir(in.Filename, currentDir)
		if err != nil {
			return nil, err
		}
		out = append(out, filepath.Join(dir, prefix+filepath.Base(in.Filename)))
	}
	return out, nil
}

// SuffixNames returns the input filenames with "_"+suffix inserted before
// the extension, placed in the working directory or beside the input.
func (rc *ReductionContext) SuffixNames(suffix string, currentDir bool) ([]string, error) {
	out := make([]string, 0, len(rc.inputs))
	for _, in := range rc.inputs {
		dir, err := outputDir(in.Filename, currentDir)
		if err != nil {
			return nil, err
		}
		base := filepath.Base(in.Filename)
		ext := filepath.Ext(base)
		out = append(out, filepath.Join(dir, strings.TrimSuffix(base, ext)+"_"+suffix+ext))
	}
	return out, nil
}

// InputsAsString joins the input filenames with commas.
func (rc *ReductionContext) InputsAsString(stripPath bool) string {
	return joinNames(rc.inputs, ",", stripPath)
}

// OutputsAsString joins the standard output filenames with ", ".
func (rc *ReductionContext) OutputsAsString(stripPath bool) string {
	return joinNames(rc.outputs[StandardOutputs], ", ", stripPath)
}

func outputDir(filename string, currentDir bool) (string, error) {
	if currentDir {
		return os.Getwd()
	}
	return filepath.Dir(filename), nil
}

func joinNames(ds []ir.Dataset, sep string, stripPath bool) string {
	names := filenames(ds)
	if stripPath {
		for i, n := range names {
			names[i] = filepath.Base(n)
		}
	}
	return strings.Join(names, sep)
}

func filenames(ds []ir.Dataset) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Filename
	}
	return out
}

func hasDataset(list []ir.Dataset, filename string) bool {
	for _, d := range list {
		if d.Filename == filename {
			return true
		}
	}
	return false
}

// =============================================================================
// Stacks and cache files
// =============================================================================

// StackAppend adds files to stack id in the shared stack keeper.
func (rc *ReductionContext) StackAppend(id string, files ...string) {
	rc.stacks.Add(id, files...)
}

// Stack returns the files of stack id.
func (rc *ReductionContext) Stack(id string) []string {
	return rc.stacks.Get(id)
}

// StackIDs returns the known stack ids.
func (rc *ReductionContext) StackIDs() []string {
	return rc.stacks.IDs()
}

// StackInputsAsString joins the files of stack id with commas.
func (rc *ReductionContext) StackInputsAsString(id string) string {
	return strings.Join(rc.stacks.Get(id), ",")
}

// Stacks returns the stack keeper.
func (rc *ReductionContext) Stacks() *StackKeeper { return rc.stacks }

// Fringes returns the fringe keeper.
func (rc *ReductionContext) Fringes() *StackKeeper { return rc.fringes }

// SetCacheFile records the absolute path of a named cache file.
func (rc *ReductionContext) SetCacheFile(key, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cache file %s: %w", key, err)
	}
	rc.cacheFiles[key] = abs
	return nil
}

// CacheFile returns the path recorded for key.
func (rc *ReductionContext) CacheFile(key string) (string, bool) {
	p, ok := rc.cacheFiles[key]
	return p, ok
}

// =============================================================================
// Status and control
// =============================================================================

// Status returns the lifecycle status.
func (rc *ReductionContext) Status() ir.Status {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.status
}

// SetStatus changes the status. Once FINISHED, only FINISHED may be set
// again.
func (rc *ReductionContext) SetStatus(s ir.Status) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.setStatusLocked(s)
}

func (rc *ReductionContext) setStatusLocked(s ir.Status) error {
	if rc.status == ir.StatusFinished && s != ir.StatusFinished {
		return &ir.StatusError{From: rc.status, To: s}
	}
	rc.status = s
	rc.notify()
	return nil
}

// Finish marks the context FINISHED. Finishing twice is harmless.
func (rc *ReductionContext) Finish() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_ = rc.setStatusLocked(ir.StatusFinished)
}

// IsFinished reports whether the context is FINISHED.
func (rc *ReductionContext) IsFinished() bool {
	return rc.Status() == ir.StatusFinished
}

// Pause marks the context PAUSED and then fires the "pause" callbacks.
// A finished context cannot pause and fires nothing.
func (rc *ReductionContext) Pause() error {
	if err := rc.SetStatus(ir.StatusPaused); err != nil {
		return err
	}
	rc.CallCallbacks("pause")
	return nil
}

// Unpause marks the context RUNNING.
func (rc *ReductionContext) Unpause() error {
	return rc.SetStatus(ir.StatusRunning)
}

// IsPaused reports whether the context is PAUSED.
func (rc *ReductionContext) IsPaused() bool {
	return rc.Status() == ir.StatusPaused
}

// RequestPause asks the control loop to pause at the next step boundary.
func (rc *ReductionContext) RequestPause() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cmdRequest = "pause"
	rc.notify()
}

// PauseRequested reports whether a pause is pending.
func (rc *ReductionContext) PauseRequested() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.cmdRequest == "pause"
}

// ProcessControlRequest acts on a pending control request.
func (rc *ReductionContext) ProcessControlRequest() error {
	rc.mu.Lock()
	pending := rc.cmdRequest == "pause"
	if pending {
		rc.cmdRequest = ""
	}
	rc.mu.Unlock()

	if pending {
		return rc.Pause()
	}
	return nil
}

// Changed returns a channel that receives after status or control changes.
func (rc *ReductionContext) Changed() <-chan struct{} {
	return rc.signal
}

// notify must be called with mu held.
func (rc *ReductionContext) notify() {
	select {
	case rc.signal <- struct{}{}:
	default:
	}
}

// AddCallback registers fn under name and returns an id for removal.
func (rc *ReductionContext) AddCallback(name string, fn func(*ReductionContext)) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.nextCBID++
	rc.callbacks[name] = append(rc.callbacks[name], callback{id: rc.nextCBID, fn: fn})
	return rc.nextCBID
}

// RemoveCallback unregisters the callback with id under name. Unknown ids
// are ignored.
func (rc *ReductionContext) RemoveCallback(name string, id int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	cbs := rc.callbacks[name]
	for i, cb := range cbs {
		if cb.id == id {
			rc.callbacks[name] = append(cbs[:i:i], cbs[i+1:]...)
			return
		}
	}
}

// CallCallbacks invokes the callbacks registered under name in
// registration order.
func (rc *ReductionContext) CallCallbacks(name string) {
	rc.mu.Lock()
	cbs := append([]callback(nil), rc.callbacks[name]...)
	rc.mu.Unlock()

	for _, cb := range cbs {
		cb.fn(rc)
	}
}

// =============================================================================
// Ad hoc recipes
// =============================================================================

// Run compiles src as a throwaway recipe, binds it to the attached
// reduction object and runs it to completion on this context.
func (rc *ReductionContext) Run(ctx context.Context, src string) error {
	if rc.ro == nil {
		return fmt.Errorf("context %s has no reduction object", rc.runID)
	}
	name := fmt.Sprintf("proxy_recipe%d", rc.proxyID)
	rc.proxyID++
	if err := rc.ro.BindSource(name, src); err != nil {
		return err
	}
	return rc.ro.Run(ctx, name, rc)
}

// =============================================================================
// Diagnostics
// =============================================================================

// String dumps the context state for diagnostics.
func (rc *ReductionContext) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "REDUCTION CONTEXT %s (host=%s status=%s)\n", rc.runID, rc.hostname, rc.Status())
	fmt.Fprintf(&b, "  inputs:          %s\n", rc.InputsAsString(false))
	fmt.Fprintf(&b, "  original inputs: %s\n", joinNames(rc.originalInputs, ",", false))
	fmt.Fprintf(&b, "  outputs:         %s\n", rc.OutputsAsString(false))
	fmt.Fprintf(&b, "  local params:\n")
	for _, k := range sortedKeys(rc.localparms) {
		fmt.Fprintf(&b, "    %s = %v\n", k, rc.localparms[k])
	}
	fmt.Fprintf(&b, "  context params:\n")
	for _, k := range sortedKeys(rc.ambient) {
		fmt.Fprintf(&b, "    %s = %v\n", k, rc.ambient[k])
	}
	if ups := rc.userParams.All(); len(ups) > 0 {
		fmt.Fprintf(&b, "  user params:\n")
		for _, up := range ups {
			fmt.Fprintf(&b, "    %s:%s:%s = %s\n", up.AstroType, up.Primitive, up.Param, up.Value)
		}
	}
	fmt.Fprintf(&b, "  calibrations:\n%s", indentLines(rc.CalSummary(), "    "))
	fmt.Fprintf(&b, "  stacks: %s\n", strings.Join(rc.stacks.IDs(), ","))
	fmt.Fprintf(&b, "  pending requests: %d\n", rc.requests.Len())
	fmt.Fprintf(&b, "  history entries: %d (depth %d)\n", len(rc.history), rc.indent)
	return b.String()
}

func indentLines(s, prefix string) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}
