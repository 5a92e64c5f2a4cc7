package sanitize

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSanitizeRedactsRegisteredSecrets(t *testing.T) {
	defer Reset()
	RegisterSecret("super-secret-value")

	got := Sanitize("connecting with super-secret-value now")
	if got != "connecting with [REDACTED] now" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestSanitizeIgnoresShortSecrets(t *testing.T) {
	defer Reset()
	RegisterSecret("ab")

	if got := Sanitize("ab is fine"); got != "ab is fine" {
		t.Fatalf("short value must not be redacted, got %q", got)
	}
}

func TestSanitizePatterns(t *testing.T) {
	defer Reset()

	got := Sanitize("GET /stream?channel=all&token=abc123def HTTP/1.1")
	if strings.Contains(got, "abc123def") {
		t.Fatalf("token query param leaked: %q", got)
	}
	if !strings.Contains(got, "token=[REDACTED]") {
		t.Fatalf("unexpected output %q", got)
	}

	got = Sanitize("Authorization: Bearer eyJtoken")
	if got != "Authorization: Bearer [REDACTED]" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestSanitizeAnyWalksStructures(t *testing.T) {
	defer Reset()
	RegisterSecret("hunter2secret")

	type inner struct {
		Token      string
		unexported string
	}
	type outer struct {
		Name   string
		Nested inner
		List   []string
		Meta   map[string]string
	}

	got := SanitizeAny(outer{
		Name:   "svc",
		Nested: inner{Token: "hunter2secret", unexported: "hidden"},
		List:   []string{"ok", "key hunter2secret"},
		Meta:   map[string]string{"auth": "hunter2secret"},
	})

	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	nested := m["Nested"].(map[string]any)
	if nested["Token"] != Redacted {
		t.Fatalf("nested secret leaked: %v", nested["Token"])
	}
	if _, present := nested["unexported"]; present {
		t.Fatal("unexported fields must be skipped")
	}
	list := m["List"].([]any)
	if list[1] != "key "+Redacted {
		t.Fatalf("slice secret leaked: %v", list[1])
	}
	meta := m["Meta"].(map[string]any)
	if meta["auth"] != Redacted {
		t.Fatalf("map secret leaked: %v", meta["auth"])
	}
}

func TestSanitizeAnyCutsCycles(t *testing.T) {
	type node struct {
		Name string
		Next *node
	}
	n := &node{Name: "a"}
	n.Next = n

	got := SanitizeAny(n)
	m := got.(map[string]any)
	if m["Next"] != Circular {
		t.Fatalf("expected circular marker, got %v", m["Next"])
	}
}

func TestSanitizeAnySpecialKinds(t *testing.T) {
	got := SanitizeAny(map[string]any{
		"fn": func() {},
		"n":  42,
	})
	m := got.(map[string]any)
	if m["fn"] != Function {
		t.Fatalf("expected function marker, got %v", m["fn"])
	}
	if m["n"] != 42 {
		t.Fatalf("scalar mangled: %v", m["n"])
	}

	if SanitizeAny(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestSanitizeAnyNonStringMapKeys(t *testing.T) {
	got := SanitizeAny(map[int]string{7: "seven"})
	m := got.(map[string]any)
	if m["7"] != "seven" {
		t.Fatalf("unexpected map %v", m)
	}
}

func TestHookScrubsEntries(t *testing.T) {
	defer Reset()
	RegisterSecret("tok-123456789")

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	InstallHook(logger)

	logger.WithFields(logrus.Fields{
		"err":    errors.New("auth failed for tok-123456789"),
		"detail": "token tok-123456789 rejected",
		"count":  3,
	}).Warn("upstream rejected tok-123456789")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("bad log output: %v", err)
	}
	if strings.Contains(buf.String(), "tok-123456789") {
		t.Fatalf("secret leaked into log: %s", buf.String())
	}
	if entry["msg"] != "upstream rejected "+Redacted {
		t.Fatalf("unexpected message %v", entry["msg"])
	}
	if entry["detail"] != "token "+Redacted+" rejected" {
		t.Fatalf("unexpected field %v", entry["detail"])
	}
	if entry["count"] != float64(3) {
		t.Fatalf("non-string field mangled: %v", entry["count"])
	}
}

func TestInstallHookIdempotent(t *testing.T) {
	logger := logrus.New()
	InstallHook(logger)
	InstallHook(logger)

	if n := len(logger.Hooks[logrus.WarnLevel]); n != 1 {
		t.Fatalf("expected a single hook, got %d", n)
	}
}
