// Package logging provides the structured-logging conventions shared by
// every component in this module.
//
// Design principles:
//   - Logging is dependency-injected, never global.
//   - Each component scopes its own logger once at construction time with
//     logger.With("component", "<name>").
//   - If no logger is provided, a discard logger is used so components
//     never need a nil check on every call.
//   - Global configuration (output format, level, destination) belongs
//     only in main(); components must never call slog.SetDefault.
//
// Logging is intentionally sparse: lifecycle boundaries (open/close,
// snapshot creation, cleanup sweeps, verify/repair, mount/unmount) are
// the intended log points, not per-record or per-block inner loops.
package logging

import (
	"context"
	"log/slog"
	"maps"
	"sync/atomic"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if non-nil, otherwise a discard logger. This is
// the standard pattern for an optional *slog.Logger constructor
// parameter.
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// ComponentFilterHandler wraps a handler and filters records by a
// per-component minimum level, read from the "component" attribute. It
// lets a caller turn on debug logging for, say, just the cleanup sweep
// without touching everything else.
type ComponentFilterHandler struct {
	next         slog.Handler
	defaultLevel slog.Level
	preAttrs     []slog.Attr
	levels       *atomic.Pointer[map[string]slog.Level]
}

// NewComponentFilterHandler wraps next, dropping records below
// defaultLevel unless a per-component override raises or lowers that
// floor.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	p := &atomic.Pointer[map[string]slog.Level]{}
	empty := make(map[string]slog.Level)
	p.Store(&empty)
	return &ComponentFilterHandler{next: next, defaultLevel: defaultLevel, levels: p}
}

func (h *ComponentFilterHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	levels := *h.levels.Load()
	component := h.findComponent(r)

	min := h.defaultLevel
	if component != "" {
		if lvl, ok := levels[component]; ok {
			min = lvl
		}
	}
	if r.Level < min {
		return nil
	}
	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) findComponent(r slog.Record) string {
	for _, a := range h.preAttrs {
		if a.Key == "component" {
			if s, ok := a.Value.Resolve().Any().(string); ok {
				return s
			}
		}
	}
	var component string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			if s, ok := a.Value.Resolve().Any().(string); ok {
				component = s
				return false
			}
		}
		return true
	})
	return component
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	newAttrs := make([]slog.Attr, len(h.preAttrs), len(h.preAttrs)+len(attrs))
	copy(newAttrs, h.preAttrs)
	newAttrs = append(newAttrs, attrs...)
	return &ComponentFilterHandler{
		next:         h.next.WithAttrs(attrs),
		defaultLevel: h.defaultLevel,
		preAttrs:     newAttrs,
		levels:       h.levels,
	}
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ComponentFilterHandler{
		next:         h.next.WithGroup(name),
		defaultLevel: h.defaultLevel,
		preAttrs:     h.preAttrs,
		levels:       h.levels,
	}
}

// SetLevel overrides the minimum level for a single component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	old := *h.levels.Load()
	next := make(map[string]slog.Level, len(old)+1)
	maps.Copy(next, old)
	next[component] = level
	h.levels.Store(&next)
}

// ClearLevel removes a per-component override, reverting to the default.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	old := *h.levels.Load()
	if _, ok := old[component]; !ok {
		return
	}
	next := make(map[string]slog.Level, len(old))
	for k, v := range old {
		if k != component {
			next[k] = v
		}
	}
	h.levels.Store(&next)
}
