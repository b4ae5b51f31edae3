package script

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var templateExpr = regexp.MustCompile(`\$\{([^}]+)\}`)

// Template is a string with embedded ${...} expressions. Literal text
// between expressions is kept verbatim; each expression is compiled once at
// construction and evaluated against the globals passed to Eval.
type Template struct {
	raw      string
	segments []segment
}

// segment is one literal or compiled piece of a template. Exactly one of
// text and code is set.
type segment struct {
	text string
	code Script
}

func NewTemplate(engine Compiler, raw string) (*Template, error) {
	if strings.Count(raw, "${") > strings.Count(raw, "}") {
		return nil, fmt.Errorf("unclosed template expression in string: %q", raw)
	}

	matches := templateExpr.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return &Template{raw: raw}, nil
	}

	var segments []segment
	lastEnd := 0
	for _, match := range matches {
		if match[0] > lastEnd {
			segments = append(segments, segment{text: raw[lastEnd:match[0]]})
		}
		expr := raw[match[2]:match[3]]
		code, err := engine.Compile(context.Background(), expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template expression %q: %w", expr, err)
		}
		segments = append(segments, segment{code: code})
		lastEnd = match[1]
	}
	if lastEnd < len(raw) {
		segments = append(segments, segment{text: raw[lastEnd:]})
	}

	return &Template{raw: raw, segments: segments}, nil
}

// Eval renders the template. Expression results are stringified with the
// Value's String form.
func (t *Template) Eval(ctx context.Context, globals map[string]any) (string, error) {
	if len(t.segments) == 0 {
		return t.raw, nil
	}

	var out strings.Builder
	for _, seg := range t.segments {
		if seg.code == nil {
			out.WriteString(seg.text)
			continue
		}
		result, err := seg.code.Evaluate(ctx, globals)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate template expression: %w", err)
		}
		out.WriteString(result.String())
	}
	return out.String(), nil
}
