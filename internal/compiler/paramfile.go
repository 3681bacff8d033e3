package compiler

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/reduce/internal/ir"
)

// ParamFile is a parsed user parameter file.
type ParamFile struct {
	// UserParams are settings made inside an [ASTROTYPE] + [primitive] section.
	UserParams []ir.UserParam
	// Globals are key=value settings made outside any section. They go
	// into the ambient context where every primitive sees them.
	Globals map[string]string
	// Options are `--option` or `--option=value` lines, keyed without dashes.
	Options map[string]string
	// Files are input files named by `--files=a b c` lines.
	Files []string
}

// TypeOracle reports whether a section name is a known astrotype. Any
// other section name is taken as a primitive name.
type TypeOracle func(name string) bool

// ParseParamFile parses a user parameter file.
//
//	# global setting
//	suffix = "_r"
//	--files = a.fits b.fits
//	[GMOS_IMAGE]
//	[biasCorrect]
//	overscan = true
//
// A `[]` header clears both the astrotype and the primitive. Errors name
// the offending line.
func ParseParamFile(name string, r io.Reader, isType TypeOracle) (*ParamFile, error) {
	pf := &ParamFile{
		Globals: map[string]string{},
		Options: map[string]string{},
	}

	var astrotype, primitive string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(stripComment(raw))
		if line == "" {
			continue
		}

		if len(line) > 2 && strings.HasPrefix(line, "--") {
			opt, val, hasValue := strings.Cut(line[2:], "=")
			opt = strings.TrimSpace(opt)
			val = strings.TrimSpace(val)
			if !hasValue {
				val = "true"
			}
			if opt == "files" {
				pf.Files = append(pf.Files, strings.Fields(val)...)
				continue
			}
			pf.Options[opt] = val
			continue
		}

		if strings.Contains(line, "]") {
			section := strings.TrimSpace(strings.NewReplacer("[", "", "]", "").Replace(line))
			switch {
			case section == "":
				astrotype, primitive = "", ""
			case isType != nil && isType(section):
				astrotype = section
			default:
				primitive = section
			}
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, paramFileError(name, lineNo, fmt.Sprintf("badly formatted parameter file: %s", raw))
		}
		val = trimQuotes(strings.TrimSpace(val))

		switch {
		case primitive != "" && astrotype == "":
			return nil, paramFileError(name, lineNo,
				fmt.Sprintf("the primitive name is set to %q, but the astrotype is not set", primitive))
		case primitive == "" && astrotype != "":
			return nil, paramFileError(name, lineNo,
				fmt.Sprintf("the astrotype is set to %q, but the primitive name is not set", astrotype))
		case primitive == "" && astrotype == "":
			pf.Globals[key] = val
		default:
			pf.UserParams = append(pf.UserParams, ir.UserParam{
				AstroType: astrotype,
				Primitive: primitive,
				Param:     key,
				Value:     val,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read parameter file %s: %w", name, err)
	}

	return pf, nil
}

func paramFileError(name string, line int, msg string) error {
	return &CompileError{
		Code:    ir.ErrCodeMalformedParamFile,
		File:    name,
		Line:    line,
		Message: msg,
	}
}

// ParseParamFlag parses a command line parameter setting. Settings are
// comma separated; `TYPE:primitive:param=value` is a scoped user override
// and `param=value` is a global setting.
func ParseParamFlag(s string) ([]ir.UserParam, map[string]string, error) {
	var ups []ir.UserParam
	globals := map[string]string{}

	for _, setting := range strings.Split(s, ",") {
		setting = strings.TrimSpace(setting)
		if setting == "" {
			continue
		}
		spec, val, ok := strings.Cut(setting, "=")
		if !ok {
			return nil, nil, &ir.ConfigurationError{
				Code:    ir.ErrCodeBadParamValue,
				Message: fmt.Sprintf("parameter setting %q must have the form name=value", setting),
			}
		}
		spec = strings.TrimSpace(spec)
		val = trimQuotes(strings.TrimSpace(val))

		if !strings.Contains(spec, ":") {
			globals[spec] = val
			continue
		}
		parts := strings.Split(spec, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, nil, &ir.ConfigurationError{
				Code:    ir.ErrCodeBadParamValue,
				Message: fmt.Sprintf("scoped parameter %q must have the form ASTROTYPE:primitive:param", spec),
			}
		}
		ups = append(ups, ir.UserParam{AstroType: parts[0], Primitive: parts[1], Param: parts[2], Value: val})
	}
	return ups, globals, nil
}
