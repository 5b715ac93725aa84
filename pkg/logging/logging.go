// Package logging configures logrus for chainbridge.
//
// In standalone mode entries go to stderr. In plugin mode stdout belongs to
// the JSON-RPC stream, so the logger writes nowhere and a Hook forwards every
// entry to lightningd as a "log" notification instead.
package logging

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to out at level in the given format ("text"
// or "json").
func New(level, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)
	switch format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}

// Notifier sends a JSON-RPC notification to lightningd.
type Notifier interface {
	Notify(method string, params interface{}) error
}

// Hook forwards entries to lightningd's log.
type Hook struct {
	notifier Notifier
	levels   []logrus.Level
}

// NewHook returns a hook sending entries at or above min to n.
func NewHook(n Notifier, min logrus.Level) *Hook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return &Hook{notifier: n, levels: levels}
}

// Levels implements logrus.Hook.
func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook.
func (h *Hook) Fire(e *logrus.Entry) error {
	return h.notifier.Notify("log", map[string]string{
		"level":   LightningdLevel(e.Level),
		"message": formatMessage(e),
	})
}

// LightningdLevel maps a logrus level to one of lightningd's log levels.
func LightningdLevel(l logrus.Level) string {
	switch l {
	case logrus.TraceLevel:
		return "io"
	case logrus.DebugLevel:
		return "debug"
	case logrus.InfoLevel:
		return "info"
	case logrus.WarnLevel:
		return "unusual"
	default:
		return "broken"
	}
}

// formatMessage renders the message followed by its fields in key order.
func formatMessage(e *logrus.Entry) string {
	if len(e.Data) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(e.Message)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	return b.String()
}
