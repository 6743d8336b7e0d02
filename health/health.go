// Package health inspects a namespace's decision ledger and bar store
// and reports whether the loop looks alive: rows exist, timestamps are
// strictly increasing, recent cadence is clean, bad markers are rare and
// the data is fresh.
package health

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reedholm/tradeloop/ledger"
)

// Status is the check verdict, doubling as the CLI exit code.
type Status int

const (
	StatusOK   Status = 0
	StatusWarn Status = 1
	StatusFail Status = 2
)

// Options tune the check windows and freshness thresholds.
type Options struct {
	Tail            int           // decision rows to inspect
	StepMS          int64         // expected bar spacing
	RecentK         int           // diffs the cadence check enforces
	MaxRecentGaps   int           // tolerated off-cadence diffs in RecentK
	GraceBars       int           // clean trailing diffs required before cadence can fail
	MaxBadRecent    int           // tolerated bad markers in the recent window
	MaxStaleness    time.Duration // decision freshness
	MaxRawStaleness time.Duration // newest bar partition freshness
	Now             time.Time     // zero means time.Now()
}

// DefaultOptions matches a 5m loop.
func DefaultOptions() Options {
	return Options{
		Tail:            250,
		StepMS:          300000,
		RecentK:         12,
		MaxRecentGaps:   1,
		GraceBars:       12,
		MaxBadRecent:    2,
		MaxStaleness:    15 * time.Minute,
		MaxRawStaleness: 30 * time.Minute,
	}
}

// Result carries the verdict and the explanation lines.
type Result struct {
	Status Status
	Reason string
	Lines  []string
}

func (r *Result) addf(format string, args ...any) {
	r.Lines = append(r.Lines, fmt.Sprintf(format, args...))
}

func (r *Result) fail(reason string) Result {
	r.Status = StatusFail
	r.Reason = reason
	r.addf("FAIL: %s", reason)
	return *r
}

var badMarkers = []string{"fetch_failed", "persist_failed", "cadence_failed", "features_invalid"}

func isBadMarker(reason string) bool {
	for _, m := range badMarkers {
		if strings.Contains(reason, m) {
			return true
		}
	}
	return false
}

// Check runs the health checks over decision rows and the bar store
// directory. barsDir may be empty to skip the raw-freshness check.
func Check(decisions []ledger.DecisionRecord, barsDir string, opts Options) Result {
	res := Result{}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	if opts.Tail > 0 && len(decisions) > opts.Tail {
		decisions = decisions[len(decisions)-opts.Tail:]
	}
	if len(decisions) == 0 {
		return res.fail("decisions missing/empty")
	}

	var ts []int64
	for _, r := range decisions {
		if r.TS > 0 {
			ts = append(ts, r.TS)
		}
	}

	// A brand-new namespace may only have a handful of rows at startup,
	// so the absolute minimum is small.
	const minValidRequired = 5
	if len(ts) < minValidRequired {
		return res.fail(fmt.Sprintf("too few valid ts_ms rows (%d < %d)", len(ts), minValidRequired))
	}

	var warns []string

	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			return res.fail("ts_ms not strictly increasing in tail")
		}
	}

	diffs := make([]int64, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		diffs = append(diffs, ts[i]-ts[i-1])
	}

	effRecentK := opts.RecentK
	if effRecentK > len(diffs) {
		effRecentK = len(diffs)
		warns = append(warns, fmt.Sprintf("recent_k capped to available history: requested=%d effective=%d", opts.RecentK, effRecentK))
	}
	if effRecentK < 1 {
		effRecentK = 1
	}

	cleanTrailing := 0
	for i := len(diffs) - 1; i >= 0; i-- {
		if diffs[i] != opts.StepMS {
			break
		}
		cleanTrailing++
	}

	recentGaps := 0
	if len(diffs) > 0 {
		for _, d := range diffs[len(diffs)-effRecentK:] {
			if d != opts.StepMS {
				recentGaps++
			}
		}
	}

	if recentGaps > opts.MaxRecentGaps {
		if cleanTrailing < opts.GraceBars {
			warns = append(warns, fmt.Sprintf("recent cadence anomalies within restart grace (clean_trailing=%d < grace=%d)", cleanTrailing, opts.GraceBars))
		} else {
			return res.fail(fmt.Sprintf("recent cadence anomalies detected (gaps=%d > max=%d)", recentGaps, opts.MaxRecentGaps))
		}
	}

	badRecent := 0
	recentRows := decisions
	if len(recentRows) > effRecentK {
		recentRows = recentRows[len(recentRows)-effRecentK:]
	}
	for _, r := range recentRows {
		if isBadMarker(r.MarketReason) {
			badRecent++
		}
	}
	if badRecent > opts.MaxBadRecent {
		return res.fail(fmt.Sprintf("too many bad market_reason markers in recent window (%d > %d)", badRecent, opts.MaxBadRecent))
	}

	staleness := now.UnixMilli() - ts[len(ts)-1]
	if opts.MaxStaleness > 0 && staleness > opts.MaxStaleness.Milliseconds() {
		return res.fail(fmt.Sprintf("decisions stale (staleness_ms=%d > max=%d)", staleness, opts.MaxStaleness.Milliseconds()))
	}

	if barsDir != "" {
		newest, mtime, err := newestPartition(barsDir)
		if err != nil || newest == "" {
			return res.fail("raw bars missing")
		}
		rawAge := now.Sub(mtime)
		if opts.MaxRawStaleness > 0 && rawAge > opts.MaxRawStaleness {
			return res.fail(fmt.Sprintf("raw bars stale (age=%s > max=%s)", rawAge.Round(time.Second), opts.MaxRawStaleness))
		}
		res.addf("newest_raw: %s (age=%s)", newest, rawAge.Round(time.Second))
	}

	// Historical anomalies are worth a warning but never a failure.
	for _, d := range diffs {
		if d >= opts.StepMS*2 {
			warns = append(warns, "historical gaps detected (likely downtime)")
			break
		}
	}
	for _, r := range decisions {
		if isBadMarker(r.MarketReason) {
			warns = append(warns, "historical bad markers exist in tail")
			break
		}
	}

	res.addf("last_ts_ms: %d", ts[len(ts)-1])
	res.addf("tail_rows_checked: %d", len(decisions))
	res.addf("staleness_ms: %d", staleness)
	res.addf("clean_trailing_cadence_diffs: %d", cleanTrailing)
	for _, w := range warns {
		res.addf("WARN: %s", w)
	}

	if len(warns) > 0 {
		res.Status = StatusWarn
		res.Reason = "pass with warnings"
	} else {
		res.Status = StatusOK
		res.Reason = "pass"
	}
	return res
}

func newestPartition(dir string) (string, time.Time, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "date=*", "bars.parquet"))
	if err != nil {
		return "", time.Time{}, err
	}
	var newest string
	var newestMtime time.Time
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.ModTime().After(newestMtime) {
			newest = p
			newestMtime = info.ModTime()
		}
	}
	return newest, newestMtime, nil
}
