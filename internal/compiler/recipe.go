package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/reduce/internal/ir"
)

// ParseRecipe compiles recipe source into an instruction list.
//
// Recipe source is line oriented:
//
//	# comment
//	prepare
//	biasCorrect(suffix="_b", verbose)   # trailing comments are removed
//	display(displayID=[dispid])
//
// Each non-blank line becomes one conditional invocation. Arguments are
// `key=value` (surrounding quotes removed) or bare flags, which compile to
// true. Values of the form `[otherkey]` are left as written and resolved
// against the recipe-local overlay when the step runs.
func ParseRecipe(name, src string) (*ir.Program, error) {
	prog := &ir.Program{Name: name, Instructions: []ir.Instruction{}}

	for i, raw := range strings.Split(src, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(stripComment(raw))
		if line == "" {
			continue
		}

		prim, args, err := parseInvocation(line)
		if err != nil {
			return nil, &CompileError{
				Code:    ir.ErrCodeMalformedRecipe,
				File:    name,
				Line:    lineNo,
				Message: fmt.Sprintf("%s: %q", err.Error(), line),
			}
		}

		keys := []string{line}
		if prim != line {
			keys = append(keys, prim)
		}
		prog.Instructions = append(prog.Instructions, ir.Instruction{
			Op:              ir.OpConditionalInvoke,
			Primitive:       prim,
			Args:            args,
			Line:            line,
			LineNo:          lineNo,
			ConditionalKeys: keys,
		})
	}

	return prog, nil
}

// stripComment removes everything from the first '#' on.
func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

// parseInvocation splits `name(args)` into the primitive name and its
// argument map.
func parseInvocation(line string) (string, ir.Args, error) {
	open := strings.IndexByte(line, '(')
	if open < 0 {
		if strings.ContainsRune(line, ')') {
			return "", nil, fmt.Errorf("unbalanced parenthesis")
		}
		if !isIdentifier(line) {
			return "", nil, fmt.Errorf("invalid primitive name")
		}
		return line, nil, nil
	}
	if !strings.HasSuffix(line, ")") {
		return "", nil, fmt.Errorf("argument list must close the line")
	}

	prim := strings.TrimSpace(line[:open])
	if !isIdentifier(prim) {
		return "", nil, fmt.Errorf("invalid primitive name")
	}

	body := line[open+1 : len(line)-1]
	if strings.ContainsAny(unquoted(body), "()") {
		return "", nil, fmt.Errorf("nested parentheses in argument list")
	}

	elems, err := splitArgs(body)
	if err != nil {
		return "", nil, err
	}

	args := ir.Args{}
	for _, elem := range elems {
		elem = strings.TrimSpace(elem)
		if elem == "" {
			continue
		}
		key, val, hasValue := strings.Cut(elem, "=")
		key = strings.TrimSpace(key)
		if !isIdentifier(key) {
			return "", nil, fmt.Errorf("invalid argument name %q", key)
		}
		if !hasValue {
			args[key] = ir.FlagArg()
			continue
		}
		args[key] = ir.StringArg(trimQuotes(strings.TrimSpace(val)))
	}
	if len(args) == 0 {
		args = nil
	}
	return prim, args, nil
}

// splitArgs splits on commas that are not inside quotes.
func splitArgs(body string) ([]string, error) {
	var (
		out   []string
		cur   strings.Builder
		quote rune
	)
	for _, r := range body {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			cur.WriteRune(r)
		case r == ',':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	return append(out, cur.String()), nil
}

// unquoted returns s with quoted sections removed.
func unquoted(s string) string {
	var b strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// trimQuotes removes one leading and one trailing quote character.
func trimQuotes(s string) string {
	if s == "" {
		return s
	}
	if s[0] == '"' || s[0] == '\'' {
		s = s[1:]
	}
	if s != "" && (s[len(s)-1] == '"' || s[len(s)-1] == '\'') {
		s = s[:len(s)-1]
	}
	return s
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// IndirectKey returns the referenced key when value has the form
// `[otherkey]`.
func IndirectKey(value string) (string, bool) {
	if len(value) >= 2 && value[0] == '[' && value[len(value)-1] == ']' {
		return value[1 : len(value)-1], true
	}
	return "", false
}
