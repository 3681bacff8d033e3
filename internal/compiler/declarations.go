package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"

	"github.com/roach88/reduce/internal/ir"
)

// Top-level fields of the declaration files found by the registry walk.
const (
	FieldPrimitiveIndex = "localPrimitiveIndex"
	FieldRecipeIndex    = "localAstroTypeRecipeIndex"
	FieldParameterSet   = "localParameterIndex"
	FieldParameterIndex = "localParameterTypeIndex"
	FieldParameters     = "parameters"
	FieldAstroTypes     = "astrotypes"
)

// TypeDecl declares one astrotype and its parents.
type TypeDecl struct {
	Name    string   `json:"name"`
	Parents []string `json:"parents,omitempty"`
}

// LoadCUE compiles one CUE declaration file.
func LoadCUE(ctx *cue.Context, path string) (cue.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("read %s: %w", path, err)
	}
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// CompilePrimitiveIndex reads the astrotype -> primitive set table:
//
//	localPrimitiveIndex: GMOS_IMAGE: [{file: "primitives_GMOS_IMAGE.cue", set: "GMOS_IMAGEPrimitives"}]
//
// It returns nil without error when the file declares no index.
func CompilePrimitiveIndex(v cue.Value) (map[string][]ir.PrimSetRef, error) {
	idx := v.LookupPath(cue.ParsePath(FieldPrimitiveIndex))
	if !idx.Exists() {
		return nil, nil
	}
	out := map[string][]ir.PrimSetRef{}
	iter, err := idx.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		typ := iter.Label()
		list, err := iter.Value().List()
		if err != nil {
			return nil, declError(FieldPrimitiveIndex+"."+typ, "must be a list of {file, set}", iter.Value())
		}
		for list.Next() {
			elem := list.Value()
			file, err := elem.LookupPath(cue.ParsePath("file")).String()
			if err != nil {
				return nil, declError(FieldPrimitiveIndex+"."+typ, "entry needs a file", elem)
			}
			set, err := elem.LookupPath(cue.ParsePath("set")).String()
			if err != nil {
				return nil, declError(FieldPrimitiveIndex+"."+typ, "entry needs a set", elem)
			}
			out[typ] = append(out[typ], ir.PrimSetRef{File: file, Set: set})
		}
	}
	return out, nil
}

// CompileRecipeIndex reads the astrotype -> recipe names table.
func CompileRecipeIndex(v cue.Value) (map[string][]string, error) {
	return compileNameIndex(v, FieldRecipeIndex)
}

// CompileParameterIndex reads the astrotype -> parameter set names table.
func CompileParameterIndex(v cue.Value) (map[string][]string, error) {
	return compileNameIndex(v, FieldParameterIndex)
}

func compileNameIndex(v cue.Value, field string) (map[string][]string, error) {
	idx := v.LookupPath(cue.ParsePath(field))
	if !idx.Exists() {
		return nil, nil
	}
	out := map[string][]string{}
	iter, err := idx.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		names, err := stringList(iter.Value())
		if err != nil {
			return nil, declError(field+"."+iter.Label(), err.Error(), iter.Value())
		}
		out[iter.Label()] = names
	}
	return out, nil
}

// CompileParameterSet reads a named set of ambient parameter values.
func CompileParameterSet(v cue.Value) (map[string]any, error) {
	set := v.LookupPath(cue.ParsePath(FieldParameterSet))
	if !set.Exists() {
		return nil, declError(FieldParameterSet, "not found", v)
	}
	out := map[string]any{}
	iter, err := set.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		val, err := scalar(iter.Value())
		if err != nil {
			return nil, declError(FieldParameterSet+"."+iter.Label(), err.Error(), iter.Value())
		}
		out[iter.Label()] = val
	}
	return out, nil
}

// CompileParamTable reads the parameter declarations of a primitive set:
//
//	parameters: biasCorrect: {
//		suffix:   {default: "_biasCorrected", type: "str", recipeOverride: true}
//		overscan: {default: true, type: "bool", userOverride: false, tags: ["ccd"]}
//	}
//
// A file without a parameters field declares an empty table.
func CompileParamTable(v cue.Value) (ir.ParamTable, error) {
	table := ir.ParamTable{}
	params := v.LookupPath(cue.ParsePath(FieldParameters))
	if !params.Exists() {
		return table, nil
	}
	prims, err := params.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for prims.Next() {
		prim := prims.Label()
		table[prim] = map[string]ir.ParamSpec{}
		fields, err := prims.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for fields.Next() {
			spec, err := compileParamSpec(FieldParameters+"."+prim+"."+fields.Label(), fields.Value())
			if err != nil {
				return nil, err
			}
			table[prim][fields.Label()] = spec
		}
	}
	return table, nil
}

func compileParamSpec(path string, v cue.Value) (ir.ParamSpec, error) {
	var spec ir.ParamSpec

	if d := v.LookupPath(cue.ParsePath("default")); d.Exists() {
		val, err := scalar(d)
		if err != nil {
			return spec, declError(path+".default", err.Error(), d)
		}
		spec.Default = val
		spec.HasDefault = true
	}
	if t := v.LookupPath(cue.ParsePath("type")); t.Exists() {
		typ, err := t.String()
		if err != nil {
			return spec, declError(path+".type", "must be a string", t)
		}
		if !ir.ValidParamTypes[typ] {
			return spec, declError(path+".type", fmt.Sprintf("unknown parameter type %q", typ), t)
		}
		spec.Type = typ
	}
	for _, flag := range []struct {
		name string
		dst  **bool
	}{
		{"recipeOverride", &spec.RecipeOverride},
		{"userOverride", &spec.UserOverride},
	} {
		f := v.LookupPath(cue.ParsePath(flag.name))
		if !f.Exists() {
			continue
		}
		b, err := f.Bool()
		if err != nil {
			return spec, declError(path+"."+flag.name, "must be a bool", f)
		}
		*flag.dst = &b
	}
	if h := v.LookupPath(cue.ParsePath("help")); h.Exists() {
		help, err := h.String()
		if err != nil {
			return spec, declError(path+".help", "must be a string", h)
		}
		spec.Help = help
	}
	if tg := v.LookupPath(cue.ParsePath("tags")); tg.Exists() {
		tags, err := stringList(tg)
		if err != nil {
			return spec, declError(path+".tags", err.Error(), tg)
		}
		spec.Tags = tags
	}
	return spec, nil
}

// CompileTypeGraph reads astrotype declarations in file order:
//
//	astrotypes: GMOS:       {parents: ["GEMINI"]}
//	astrotypes: GMOS_IMAGE: {parents: ["GMOS"]}
func CompileTypeGraph(v cue.Value) ([]TypeDecl, error) {
	types := v.LookupPath(cue.ParsePath(FieldAstroTypes))
	if !types.Exists() {
		return nil, nil
	}
	iter, err := types.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []TypeDecl
	for iter.Next() {
		decl := TypeDecl{Name: iter.Label()}
		if p := iter.Value().LookupPath(cue.ParsePath("parents")); p.Exists() {
			parents, err := stringList(p)
			if err != nil {
				return nil, declError(FieldAstroTypes+"."+decl.Name+".parents", err.Error(), p)
			}
			decl.Parents = parents
		}
		out = append(out, decl)
	}
	return out, nil
}

func stringList(v cue.Value) ([]string, error) {
	list, err := v.List()
	if err != nil {
		return nil, fmt.Errorf("must be a list of strings")
	}
	var out []string
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			return nil, fmt.Errorf("must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// scalar converts a concrete CUE scalar to string, bool, int64 or float64.
func scalar(v cue.Value) (any, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return v.String()
	case cue.BoolKind:
		return v.Bool()
	case cue.IntKind:
		return v.Int64()
	case cue.FloatKind, cue.NumberKind:
		return v.Float64()
	default:
		return nil, fmt.Errorf("unsupported value kind %v", v.IncompleteKind())
	}
}

func declError(field, msg string, v cue.Value) error {
	return &CompileError{
		Code:    ir.ErrCodeBadDeclaration,
		Field:   field,
		Message: msg,
		Pos:     v.Pos(),
	}
}
