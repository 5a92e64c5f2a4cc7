package sanitize

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Hook scrubs registered secrets from every log entry before it is
// formatted.
type Hook struct{}

// Levels fires on everything.
func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire sanitizes the message and every field value in place.
func (h *Hook) Fire(entry *logrus.Entry) error {
	entry.Message = Sanitize(entry.Message)
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			entry.Data[k] = Sanitize(err.Error())
			continue
		}
		if s, ok := v.(string); ok {
			entry.Data[k] = Sanitize(s)
			continue
		}
		entry.Data[k] = SanitizeAny(v)
	}
	return nil
}

var (
	hookMu     sync.Mutex
	hookedLogs = map[*logrus.Logger]bool{}
)

// InstallHook attaches the sanitizer hook to a logger exactly once.
func InstallHook(logger *logrus.Logger) {
	hookMu.Lock()
	defer hookMu.Unlock()
	if hookedLogs[logger] {
		return
	}
	logger.AddHook(&Hook{})
	hookedLogs[logger] = true
}
