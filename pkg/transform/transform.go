package transform

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/syncbridge/syncbridge/pkg/log"
	"github.com/syncbridge/syncbridge/pkg/types"
)

// Direction selects which side of a mapping is the source.
type Direction string

const (
	InternalToExternal Direction = "internal_to_external"
	ExternalToInternal Direction = "external_to_internal"
)

// MissingFieldError reports a required source field that was absent
// from the input record.
type MissingFieldError struct {
	Field  string
	Target string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("required field %q is missing (maps to %q)", e.Field, e.Target)
}

// TransformationError reports a transformer that does not exist or
// failed on the given value.
type TransformationError struct {
	Transformer string
	Err         error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("transformer %q: %v", e.Transformer, e.Err)
}

func (e *TransformationError) Unwrap() error { return e.Err }

// Func is a named pure function over a single value. Nil in means
// nil out for every built-in.
type Func func(v any) (any, error)

// Transformer is the registry of named value functions plus the
// mapping engine that projects one field dictionary onto another.
type Transformer struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	funcs map[string]Func
}

// New returns a Transformer with all built-ins registered.
func New() *Transformer {
	t := &Transformer{
		logger: log.WithComponent("transform"),
		funcs:  make(map[string]Func),
	}
	for name, fn := range builtins() {
		t.funcs[name] = fn
	}
	return t
}

// Register adds or replaces a named transformer.
func (t *Transformer) Register(name string, fn Func) {
	t.mu.Lock()
	t.funcs[name] = fn
	t.mu.Unlock()
	t.logger.Info().Str("name", name).Msg("custom transformer registered")
}

func (t *Transformer) lookup(name string) (Func, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.funcs[name]
	return fn, ok
}

// Apply runs the named transformer on v. An unknown name is a
// TransformationError.
func (t *Transformer) Apply(name string, v any) (any, error) {
	fn, ok := t.lookup(name)
	if !ok {
		return nil, &TransformationError{Transformer: name, Err: fmt.Errorf("unknown transformer")}
	}
	out, err := fn(v)
	if err != nil {
		return nil, &TransformationError{Transformer: name, Err: err}
	}
	return out, nil
}

// Transform projects record through mappings in the given direction.
// Required fields must be present; optional fields whose transformer
// fails are skipped with a warning; nil outputs are omitted.
func (t *Transformer) Transform(record types.Record, mappings []types.FieldMapping, dir Direction) (map[string]any, error) {
	out := make(map[string]any, len(mappings))

	for _, m := range mappings {
		source, target := m.InternalField, m.ExternalField
		if dir == ExternalToInternal {
			source, target = m.ExternalField, m.InternalField
		}

		value, present := record[source]
		if !present || value == nil {
			if m.Required {
				return nil, &MissingFieldError{Field: source, Target: target}
			}
			continue
		}

		if m.Transformer != "" {
			fn, ok := t.lookup(m.Transformer)
			if !ok {
				// Unknown names fail regardless of the required flag.
				return nil, &TransformationError{Transformer: m.Transformer, Err: fmt.Errorf("unknown transformer")}
			}
			transformed, err := fn(value)
			if err != nil {
				if m.Required {
					return nil, &TransformationError{Transformer: m.Transformer, Err: err}
				}
				t.logger.Warn().
					Str("field", source).
					Str("transformer", m.Transformer).
					Err(err).
					Msg("skipping optional field, transformation failed")
				continue
			}
			value = transformed
		}

		if value != nil {
			out[target] = value
		}
	}

	return out, nil
}

// builtins returns the standard transformer set.
func builtins() map[string]Func {
	return map[string]Func{
		"to_upper":             stringFunc(strings.ToUpper),
		"to_lower":             stringFunc(strings.ToLower),
		"to_string":            toString,
		"to_int":               toInt,
		"to_float":             toFloat,
		"to_bool":              toBool,
		"format_phone":         formatPhone,
		"format_email":         formatEmail,
		"format_date":          formatDate,
		"clean_html":           cleanHTML,
		"truncate_255":         truncate255,
		"remove_special_chars": removeSpecialChars,
	}
}

// nullish is the shared empty-input rule: nil and empty strings map
// to nil for every built-in.
func nullish(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// stringify renders any scalar the way it should appear on the wire.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func stringFunc(fn func(string) string) Func {
	return func(v any) (any, error) {
		if nullish(v) {
			return nil, nil
		}
		return fn(stringify(v)), nil
	}
}

func toString(v any) (any, error) {
	if nullish(v) {
		return nil, nil
	}
	return stringify(v), nil
}

func toInt(v any) (any, error) {
	if nullish(v) {
		return nil, nil
	}
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case float32:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to int", x)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to int", v)
	}
}

func toFloat(v any) (any, error) {
	if nullish(v) {
		return nil, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to float", x)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to float", v)
	}
}

func toBool(v any) (any, error) {
	if nullish(v) {
		return nil, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case string:
		return true, nil // non-empty, empty handled above
	default:
		return nil, fmt.Errorf("cannot convert %T to bool", v)
	}
}

// formatPhone normalizes to E.164 for NANP numbers and returns the
// original string form for anything it cannot interpret.
func formatPhone(v any) (any, error) {
	if nullish(v) {
		return nil, nil
	}
	s := strings.TrimSpace(stringify(v))

	var digits strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case len(d) == 10:
		return "+1" + d, nil
	case len(d) == 11 && strings.HasPrefix(d, "1"):
		return "+" + d, nil
	default:
		return s, nil
	}
}

// formatEmail trims and lowercases; invalid addresses become nil.
func formatEmail(v any) (any, error) {
	if nullish(v) {
		return nil, nil
	}
	s := strings.ToLower(strings.TrimSpace(stringify(v)))
	at := strings.LastIndex(s, "@")
	if at < 0 || !strings.Contains(s[at+1:], ".") {
		return nil, nil
	}
	return s, nil
}

// dateLayouts are the string forms formatDate understands, tried in
// order.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	time.RFC1123,
}

// formatDate renders wallclock values as ISO-8601, parses common
// string formats, and hands back unparseable strings unchanged.
func formatDate(v any) (any, error) {
	if nullish(v) {
		return nil, nil
	}
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return x, nil
	default:
		return stringify(v), nil
	}
}

func cleanHTML(v any) (any, error) {
	if nullish(v) {
		return nil, nil
	}
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(stringify(v), "")), nil
}

func truncate255(v any) (any, error) {
	if nullish(v) {
		return nil, nil
	}
	s := stringify(v)
	runes := []rune(s)
	if len(runes) > 255 {
		return string(runes[:255]), nil
	}
	return s, nil
}

func removeSpecialChars(v any) (any, error) {
	if nullish(v) {
		return nil, nil
	}
	return strings.TrimSpace(specialCharPattern.ReplaceAllString(stringify(v), "")), nil
}
