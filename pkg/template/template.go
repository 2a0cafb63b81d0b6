// Package template renders tool command templates. Placeholders use
// {{name}} syntax and resolve against a merged request context; substitution
// is textual with no escaping or quoting, so templates are trusted to place
// values in safe positions.
package template

import (
	"fmt"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// RenderError reports a malformed template. The caller receives a
// descriptive message and no partially rendered output.
type RenderError struct {
	Message string
}

func (e *RenderError) Error() string {
	return "template rendering failed: " + e.Message
}

// BuildContext merges the caller envelope and the request parameters into
// the rendering context. Precedence, lowest to highest:
//  1. every top-level envelope field
//  2. "msg", a nested alias of the whole envelope
//  3. "params", the parameter map as a nested value
//  4. every parameter key promoted to the top level (parameters shadow
//     same-named envelope fields)
func BuildContext(envelope map[string]interface{}, params map[string]interface{}) map[string]interface{} {
	ctx := make(map[string]interface{}, len(envelope)+len(params)+2)
	for k, v := range envelope {
		ctx[k] = v
	}
	ctx["msg"] = envelope
	ctx["params"] = params
	for k, v := range params {
		ctx[k] = v
	}
	return ctx
}

// Render substitutes every {{name}} placeholder in the template with the
// corresponding context value. Dotted names traverse nested maps. A missing
// key renders as an empty string; an unterminated placeholder is an error.
func Render(tmpl string, ctx map[string]interface{}) (string, error) {
	var out strings.Builder
	rest := tmpl

	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}

		out.WriteString(rest[:start])
		rest = rest[start+len(openDelim):]

		end := strings.Index(rest, closeDelim)
		if end < 0 {
			return "", &RenderError{Message: fmt.Sprintf("unclosed placeholder at offset %d", start)}
		}

		key := strings.TrimSpace(rest[:end])
		rest = rest[end+len(closeDelim):]

		if key == "" {
			continue
		}
		out.WriteString(stringify(lookup(ctx, key)))
	}
}

// Preview renders a template for display purposes only. On failure it
// degrades to a bracketed error string instead of propagating; execution
// paths must call Render and fail hard.
func Preview(tmpl string, ctx map[string]interface{}) string {
	rendered, err := Render(tmpl, ctx)
	if err != nil {
		return fmt.Sprintf("[Error building command: %v]", err)
	}
	return rendered
}

// lookup resolves a possibly dotted key against nested maps.
func lookup(ctx map[string]interface{}, key string) interface{} {
	parts := strings.Split(key, ".")
	var current interface{} = ctx
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
