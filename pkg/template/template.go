// Package template resolves {{name}} placeholders against an execution-scoped
// variable store. Substitution is a single pass: inserted values are never
// re-scanned, so a variable containing "{{...}}" cannot trigger expansion loops.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Mode controls how unresolvable placeholders are handled.
type Mode int

const (
	// ModeStrict leaves the token as a literal placeholder and reports it.
	// Callers treat any missing variable as a hard failure.
	ModeStrict Mode = iota
	// ModeLenient substitutes the empty string and reports the token.
	ModeLenient
)

// Resolve substitutes every {{identifier}} token in input with the string
// representation of the variable of that name. Identifiers are alphanumeric
// plus '.' and '_'; anything else (including nested braces) is left untouched.
// The returned slice lists variables that were referenced but absent.
func Resolve(input string, vars map[string]any, mode Mode) (string, []string) {
	var (
		sb      strings.Builder
		missing []string
	)

	sb.Grow(len(input))

	for i := 0; i < len(input); {
		open := strings.Index(input[i:], "{{")
		if open < 0 {
			sb.WriteString(input[i:])

			break
		}

		open += i
		sb.WriteString(input[i:open])

		name, end, ok := scanToken(input, open)
		if !ok {
			// Not a well-formed token; emit the braces literally and move on.
			sb.WriteString("{{")
			i = open + 2

			continue
		}

		value, found := lookup(name, vars)
		if !found {
			missing = append(missing, name)

			if mode == ModeStrict {
				sb.WriteString(input[open:end])
			}

			i = end

			continue
		}

		sb.WriteString(Stringify(value))
		i = end
	}

	return sb.String(), missing
}

// scanToken reads a {{identifier}} token starting at the opening braces.
// It returns the identifier and the index just past the closing braces.
func scanToken(input string, open int) (string, int, bool) {
	i := open + 2

	start := i
	for i < len(input) && isIdentChar(input[i]) {
		i++
	}

	if i == start || i+1 >= len(input) || input[i] != '}' || input[i+1] != '}' {
		return "", 0, false
	}

	return input[start:i], i + 2, true
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// lookup resolves a name against the store: literal key first, then by
// walking dotted segments into nested maps.
func lookup(name string, vars map[string]any) (any, bool) {
	if value, ok := vars[name]; ok {
		return value, true
	}

	if !strings.Contains(name, ".") {
		return nil, false
	}

	var current any = vars

	for _, segment := range strings.Split(name, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Stringify renders a variable value in its canonical string form. Scalars
// use strconv so the output is reproducible; objects and arrays are
// JSON-encoded. Determinism here is what makes prompts reproducible.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(encoded)
	}
}

// Variables returns the distinct placeholder names referenced by input,
// in first-appearance order.
func Variables(input string) []string {
	seen := make(map[string]bool)
	names := make([]string, 0)

	for i := 0; i < len(input); {
		open := strings.Index(input[i:], "{{")
		if open < 0 {
			break
		}

		open += i

		name, end, ok := scanToken(input, open)
		if !ok {
			i = open + 2

			continue
		}

		if !seen[name] {
			seen[name] = true

			names = append(names, name)
		}

		i = end
	}

	return names
}
