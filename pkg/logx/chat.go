package logx

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	chatMaxRecord = 3500
	chatMaxValue  = 600
)

// Forwarder receives formatted log records destined for the operator chat.
// Forward must not block.
type Forwarder interface {
	Forward(text string)
}

// chatSink is a zerolog.LevelWriter that renders records as plain text and
// hands them to a Forwarder, dropping what exceeds the rate limit.
type chatSink struct {
	mu       sync.Mutex
	target   Forwarder
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

func (c *chatSink) setTarget(f Forwarder) {
	c.mu.Lock()
	c.target = f
	c.mu.Unlock()
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	target, lim, minLevel := c.target, c.limiter, c.minLevel
	c.mu.Unlock()

	if target != nil && lim != nil && level >= minLevel && lim.Allow() {
		if text := renderRecord(p); text != "" {
			target.Forward(text)
		}
	}
	return len(p), nil
}

// renderRecord turns a zerolog JSON line into
//
//	[LEVEL] message
//	- key=value
//
// with keys sorted. Lines that are not JSON are passed through clipped.
func renderRecord(p []byte) string {
	line := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return clip(line, chatMaxRecord)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(rec, zerolog.LevelFieldName)
	delete(rec, zerolog.MessageFieldName)
	delete(rec, zerolog.TimestampFieldName)
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), chatMaxValue))
	}
	return clip(b.String(), chatMaxRecord)
}

func clip(s string, n int) string {
	switch {
	case len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
