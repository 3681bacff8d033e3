package ir

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Dataset references one input or output data file of a reduction.
type Dataset struct {
	Filename string            `json:"filename"`
	Parent   string            `json:"parent,omitempty"`   // filename this dataset was derived from
	Meta     map[string]string `json:"meta,omitempty"`     // header keywords, used for content identity
	Checksum string            `json:"checksum,omitempty"` // content digest when no header keywords exist
}

// NewDataset returns a dataset for filename with no identity material attached.
func NewDataset(filename string) Dataset {
	return Dataset{Filename: filename}
}

// HasIdentity reports whether the dataset carries identity keywords or a
// checksum, so that DatasetID can succeed without reading the file.
func (ds Dataset) HasIdentity() bool {
	if ds.Checksum != "" {
		return true
	}
	for _, kw := range IdentityKeywords {
		if _, ok := ds.Meta[kw]; ok {
			return true
		}
	}
	return false
}

// ArgValue is a recipe argument: either a string or a bare flag.
// Bare flags (`stepA(verbose)`) compile to the boolean true.
type ArgValue struct {
	Str  string
	Flag bool
}

// StringArg returns a string-valued argument.
func StringArg(s string) ArgValue { return ArgValue{Str: s} }

// FlagArg returns a bare-flag argument.
func FlagArg() ArgValue { return ArgValue{Flag: true} }

// Value returns the argument as it is placed into the step-local overlay.
func (a ArgValue) Value() any {
	if a.Flag {
		return true
	}
	return a.Str
}

// String renders the argument the way it reads in recipe source.
func (a ArgValue) String() string {
	if a.Flag {
		return "true"
	}
	return a.Str
}

// MarshalJSON encodes flags as JSON booleans and everything else as strings.
func (a ArgValue) MarshalJSON() ([]byte, error) {
	if a.Flag {
		return []byte("true"), nil
	}
	return json.Marshal(a.Str)
}

// UnmarshalJSON accepts a JSON string or the boolean true.
func (a *ArgValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if !b {
			return fmt.Errorf("argument flag must be true")
		}
		*a = FlagArg()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("argument must be a string or true: %w", err)
	}
	*a = StringArg(s)
	return nil
}

// Args maps argument names to values for one recipe line.
type Args map[string]ArgValue

// Keys returns argument names in sorted order.
func (a Args) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OpCode identifies the kind of a compiled instruction.
type OpCode string

const (
	// OpInvoke runs a primitive unconditionally.
	OpInvoke OpCode = "invoke"

	// OpConditionalInvoke runs a primitive unless the recipe-local overlay
	// disables it through one of the instruction's conditional keys.
	OpConditionalInvoke OpCode = "conditional_invoke"
)

// Instruction is one compiled recipe line.
type Instruction struct {
	Op        OpCode `json:"op"`
	Primitive string `json:"primitive"`
	Args      Args   `json:"args,omitempty"`
	Line      string `json:"line"`    // source text with comments and whitespace removed
	LineNo    int    `json:"line_no"` // 1-based line in the recipe source

	// ConditionalKeys are the recipe-local keys consulted for a skip.
	// Holds the full line text and the bare primitive name.
	ConditionalKeys []string `json:"conditional_keys,omitempty"`
}

// Program is a compiled recipe: an ordered, immutable instruction list.
type Program struct {
	Name         string        `json:"name"`
	Instructions []Instruction `json:"instructions"`
}

// Primitives returns the primitive names invoked by the program, in order.
func (p *Program) Primitives() []string {
	names := make([]string, len(p.Instructions))
	for i, in := range p.Instructions {
		names[i] = in.Primitive
	}
	return names
}

// Parameter types accepted in parameter declarations. The empty type
// leaves values unconverted.
var ValidParamTypes = map[string]bool{
	"":      true,
	"bool":  true,
	"int":   true,
	"str":   true,
	"float": true,
}

// ParamSpec is the compiled declaration of one primitive parameter.
//
// A nil override flag means the override is permitted.
type ParamSpec struct {
	Default        any      `json:"default,omitempty"`
	HasDefault     bool     `json:"has_default"`
	Type           string   `json:"type,omitempty"`
	RecipeOverride *bool    `json:"recipe_override,omitempty"`
	UserOverride   *bool    `json:"user_override,omitempty"`
	Help           string   `json:"help,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// RecipeOverridable reports whether recipe arguments or ambient context
// values may replace the default.
func (p ParamSpec) RecipeOverridable() bool {
	return p.RecipeOverride == nil || *p.RecipeOverride
}

// UserOverridable reports whether user overrides may replace the value.
func (p ParamSpec) UserOverridable() bool {
	return p.UserOverride == nil || *p.UserOverride
}

// HasTag reports whether the parameter carries tag.
func (p ParamSpec) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ParamTable holds parameter declarations: primitive -> parameter -> spec.
type ParamTable map[string]map[string]ParamSpec

// Lookup returns the declaration of param for primitive.
func (t ParamTable) Lookup(primitive, param string) (ParamSpec, bool) {
	params, ok := t[primitive]
	if !ok {
		return ParamSpec{}, false
	}
	spec, ok := params[param]
	return spec, ok
}

// UserParam is one explicit user override scoped to an astrotype and primitive.
type UserParam struct {
	AstroType string `json:"astrotype"`
	Primitive string `json:"primitive"`
	Param     string `json:"param"`
	Value     string `json:"value"`
}

// UserParams indexes user overrides as astrotype -> primitive -> param -> value.
// The zero value is ready to use.
type UserParams struct {
	byType map[string]map[string]map[string]string
}

// Add records up. Setting the same (astrotype, primitive, param) twice is
// an error and the first value is kept.
func (u *UserParams) Add(up UserParam) error {
	if u.byType == nil {
		u.byType = make(map[string]map[string]map[string]string)
	}
	prims, ok := u.byType[up.AstroType]
	if !ok {
		prims = make(map[string]map[string]string)
		u.byType[up.AstroType] = prims
	}
	params, ok := prims[up.Primitive]
	if !ok {
		params = make(map[string]string)
		prims[up.Primitive] = params
	}
	if _, exists := params[up.Param]; exists {
		return &ConfigurationError{
			Code:      ErrCodeDuplicateUserParam,
			Message:   fmt.Sprintf("parameter (%s.%s.%s) already set by user", up.AstroType, up.Primitive, up.Param),
			AstroType: up.AstroType,
			Primitive: up.Primitive,
			Param:     up.Param,
			Attempted: up.Value,
			Fixed:     params[up.Param],
		}
	}
	params[up.Param] = up.Value
	return nil
}

// Get returns the overrides for primitive under astrotype, or nil.
func (u *UserParams) Get(astrotype, primitive string) map[string]string {
	if u == nil || u.byType == nil {
		return nil
	}
	prims, ok := u.byType[astrotype]
	if !ok {
		return nil
	}
	return prims[primitive]
}

// All returns every override sorted by astrotype, primitive, then param.
func (u *UserParams) All() []UserParam {
	if u == nil {
		return nil
	}
	var out []UserParam
	for typ, prims := range u.byType {
		for prim, params := range prims {
			for param, val := range params {
				out = append(out, UserParam{AstroType: typ, Primitive: prim, Param: param, Value: val})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AstroType != b.AstroType {
			return a.AstroType < b.AstroType
		}
		if a.Primitive != b.Primitive {
			return a.Primitive < b.Primitive
		}
		return a.Param < b.Param
	})
	return out
}

// Len returns the number of recorded overrides.
func (u *UserParams) Len() int {
	if u == nil {
		return 0
	}
	n := 0
	for _, prims := range u.byType {
		for _, params := range prims {
			n += len(params)
		}
	}
	return n
}

// CalKey identifies a calibration: content identity of the dataset plus type.
type CalKey struct {
	DatasetID string `json:"dataset_id"`
	CalType   string `json:"cal_type"`
}

// CalibrationRecord is a calibration index entry.
type CalibrationRecord struct {
	Filename  string    `json:"filename"`          // calibration file, absolute
	CalType   string    `json:"cal_type"`          // "bias", "flat", ...
	Timestamp time.Time `json:"timestamp"`         // when the record was added
	Source    string    `json:"source,omitempty"`  // dataset filename the record was added for
}

// RequestKind classifies reduction requests.
type RequestKind string

const (
	RequestKindCalibration  RequestKind = "calibration"
	RequestKindStackUpdate  RequestKind = "stack_update"
	RequestKindStackGet     RequestKind = "stack_get"
	RequestKindDisplay      RequestKind = "display"
	RequestKindImageQuality RequestKind = "image_quality"
	RequestKindClearCache   RequestKind = "clear_cache"
)

// Request is a side effect a primitive asks the control loop to perform.
type Request interface {
	Kind() RequestKind
}

// CalibrationRequest asks for a calibration of CalType for one dataset.
type CalibrationRequest struct {
	Filename  string            `json:"filename"`
	DatasetID string            `json:"dataset_id"`
	CalType   string            `json:"cal_type"`
	Source    string            `json:"source"` // "all", "local", "remote"
	Meta      map[string]string `json:"meta,omitempty"`
}

// StackUpdateRequest asks for filenames to be appended to a stack.
type StackUpdateRequest struct {
	StackID   string   `json:"stack_id"`
	Filenames []string `json:"filenames"`
}

// StackGetRequest asks for a stack to be made available.
type StackGetRequest struct {
	StackID string `json:"stack_id"`
}

// DisplayRequest asks for datasets to be displayed.
type DisplayRequest struct {
	DisplayID string   `json:"display_id"`
	Filenames []string `json:"filenames"`
}

// ImageQualityRequest reports image quality measurements for logging.
type ImageQualityRequest struct {
	Filename        string    `json:"filename"`
	EllipticityMean float64   `json:"ellipticity_mean"`
	EllipticityStd  float64   `json:"ellipticity_std"`
	FWHMMean        float64   `json:"fwhm_mean"`
	FWHMStd         float64   `json:"fwhm_std"`
	Timestamp       time.Time `json:"timestamp"`
}

// ClearCacheRequest asks for named cache directories to be emptied.
// An empty Caches list clears every configured cache.
type ClearCacheRequest struct {
	Caches []string `json:"caches,omitempty"`
}

func (CalibrationRequest) Kind() RequestKind  { return RequestKindCalibration }
func (StackUpdateRequest) Kind() RequestKind  { return RequestKindStackUpdate }
func (StackGetRequest) Kind() RequestKind     { return RequestKindStackGet }
func (DisplayRequest) Kind() RequestKind      { return RequestKindDisplay }
func (ImageQualityRequest) Kind() RequestKind { return RequestKindImageQuality }
func (ClearCacheRequest) Kind() RequestKind   { return RequestKindClearCache }

// Status is the lifecycle state of a reduction context.
type Status string

const (
	StatusExtant   Status = "EXTANT"
	StatusRunning  Status = "RUNNING"
	StatusPaused   Status = "PAUSED"
	StatusFinished Status = "FINISHED"
)

// Mark distinguishes step-history entries.
type Mark string

const (
	MarkBegin Mark = "begin"
	MarkEnd   Mark = "end"
)

// HistoryEntry is one begin or end marker in a context's step history.
type HistoryEntry struct {
	Seq     int64     `json:"seq"` // tiebreak for identical timestamps
	Time    time.Time `json:"time"`
	Step    string    `json:"step"`
	Mark    Mark      `json:"mark"`
	Depth   int       `json:"depth"`
	Inputs  []string  `json:"inputs"`
	Outputs []string  `json:"outputs"`
}

// PrimSetKind distinguishes declared primitive sets from sets created by
// binding a compiled recipe.
type PrimSetKind string

const (
	PrimSetKindPrimitives PrimSetKind = "PRIMITIVES"
	PrimSetKindRecipe     PrimSetKind = "RECIPE"
)

// PrimSetRef is a primitive index entry: a declaration file and the
// name of the primitive set implemented for it.
type PrimSetRef struct {
	File string `json:"file"`
	Set  string `json:"set"`
}
