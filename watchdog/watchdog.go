// Package watchdog tracks recent data-quality skips and decides when the
// engine should stop trusting its own feed. While degraded, the engine
// blocks new entries and freezes trailing-stop updates; exits still run.
package watchdog

import (
	"fmt"
	"log/slog"
)

// Tag classifies what happened on a processed bar.
type Tag string

const (
	TagOK              Tag = "ok"
	TagCadenceFailed   Tag = "cadence_failed"
	TagFeaturesInvalid Tag = "features_invalid"
)

const (
	ringSize   = 12
	window     = 6
	cadenceMax = 2
	featureMax = 2
)

// State is the watchdog verdict after an observation. It is recomputed
// per bar and never persisted; a restart starts clean.
type State struct {
	Active  bool
	Reason  string
	SinceTS int64
}

// Watchdog keeps a ring of the most recent bar tags.
type Watchdog struct {
	ring []Tag

	active  bool
	reason  string
	sinceTS int64

	log *slog.Logger
}

func New(log *slog.Logger) *Watchdog {
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{
		ring: make([]Tag, 0, ringSize),
		log:  log.With("component", "watchdog"),
	}
}

// Observe records the tag for the bar at nowTS and returns the current
// state. cadenceOK is the fresh signal for this bar; a fresh failure
// degrades immediately regardless of history. Transitions are logged on
// edges only: entering, leaving, and a reason change while degraded.
func (w *Watchdog) Observe(nowTS int64, tag Tag, cadenceOK bool) State {
	w.ring = append(w.ring, tag)
	if len(w.ring) > ringSize {
		w.ring = w.ring[len(w.ring)-ringSize:]
	}

	recent := w.ring
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}

	cadenceFails := 0
	featureFails := 0
	for _, t := range recent {
		switch t {
		case TagCadenceFailed:
			cadenceFails++
		case TagFeaturesInvalid:
			featureFails++
		}
	}

	var reason string
	switch {
	case !cadenceOK:
		reason = "cadence_failed_now"
	case cadenceFails >= cadenceMax:
		reason = fmt.Sprintf("cadence_failed_%d_of_%d", cadenceFails, window)
	case featureFails >= featureMax:
		reason = fmt.Sprintf("features_invalid_%d_of_%d", featureFails, window)
	}

	active := reason != ""
	switch {
	case active && !w.active:
		w.sinceTS = nowTS
		w.log.Warn("entering degraded mode", "reason", reason, "ts_ms", nowTS)
	case active && reason != w.reason:
		w.log.Warn("degraded reason changed", "was", w.reason, "now", reason, "ts_ms", nowTS)
	case !active && w.active:
		w.log.Info("leaving degraded mode", "was", w.reason, "ts_ms", nowTS)
		w.sinceTS = 0
	}
	w.active = active
	w.reason = reason

	return State{Active: w.active, Reason: w.reason, SinceTS: w.sinceTS}
}

// Current returns the last computed state without observing a new bar.
func (w *Watchdog) Current() State {
	return State{Active: w.active, Reason: w.reason, SinceTS: w.sinceTS}
}
