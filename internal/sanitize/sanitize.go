// Package sanitize scrubs registered secrets out of anything that is
// about to be logged or serialized.
package sanitize

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// Replacement markers.
const (
	Redacted = "[REDACTED]"
	Circular = "[Circular]"
	Function = "[Function]"
)

// minSecretLength guards against registering values so short that
// redaction would mangle ordinary log text.
const minSecretLength = 4

var (
	mu       sync.RWMutex
	secrets  []string
	patterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(token=)[^&\s"]+`),
		regexp.MustCompile(`(?i)(bearer\s+)\S+`),
	}
)

// RegisterSecret adds a literal value to be redacted wherever it
// appears. Short and empty values are ignored.
func RegisterSecret(value string) {
	value = strings.TrimSpace(value)
	if len(value) < minSecretLength {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	for _, s := range secrets {
		if s == value {
			return
		}
	}
	secrets = append(secrets, value)
}

// RegisterPattern adds a regexp whose first capture group is kept and
// the remainder of the match redacted.
func RegisterPattern(re *regexp.Regexp) {
	mu.Lock()
	patterns = append(patterns, re)
	mu.Unlock()
}

// Reset drops all registered literals. Used by tests.
func Reset() {
	mu.Lock()
	secrets = nil
	mu.Unlock()
}

// Sanitize redacts registered secrets and pattern matches from a string.
func Sanitize(s string) string {
	mu.RLock()
	defer mu.RUnlock()
	for _, secret := range secrets {
		s = strings.ReplaceAll(s, secret, Redacted)
	}
	for _, re := range patterns {
		s = re.ReplaceAllString(s, "${1}"+Redacted)
	}
	return s
}

// SanitizeAny walks an arbitrary value depth first and returns a copy
// with every string sanitized. Cycles are cut with the circular marker
// and functions are replaced wholesale. Nil stays nil.
func SanitizeAny(v any) any {
	if v == nil {
		return nil
	}
	return sanitizeValue(reflect.ValueOf(v), map[uintptr]bool{})
}

func sanitizeValue(v reflect.Value, seen map[uintptr]bool) any {
	switch v.Kind() {
	case reflect.String:
		return Sanitize(v.String())

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitizeValue(v.Elem(), seen)

	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if seen[addr] {
			return Circular
		}
		seen[addr] = true
		defer delete(seen, addr)
		return sanitizeValue(v.Elem(), seen)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if seen[addr] {
			return Circular
		}
		seen[addr] = true
		defer delete(seen, addr)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := keyString(iter.Key())
			out[key] = sanitizeValue(iter.Value(), seen)
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if seen[addr] {
			return Circular
		}
		seen[addr] = true
		defer delete(seen, addr)
		return sanitizeSequence(v, seen)

	case reflect.Array:
		return sanitizeSequence(v, seen)

	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			out[t.Field(i).Name] = sanitizeValue(v.Field(i), seen)
		}
		return out

	case reflect.Func:
		return Function

	case reflect.Chan, reflect.UnsafePointer:
		return v.Type().String()

	default:
		return v.Interface()
	}
}

func sanitizeSequence(v reflect.Value, seen map[uintptr]bool) []any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = sanitizeValue(v.Index(i), seen)
	}
	return out
}

func keyString(v reflect.Value) string {
	if v.Kind() == reflect.String {
		return Sanitize(v.String())
	}
	return fmt.Sprint(v.Interface())
}
