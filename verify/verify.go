// Package verify compares a live decision ledger against a replay over
// the same bars and reports the first behavioral divergence. Comparison
// is ts-keyed over the overlap window, synced at the first timestamp
// where both sides are flat, so warmup differences never count as
// mismatches.
package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reedholm/tradeloop/ledger"
)

// Report is the verification outcome. Lines holds the human-readable
// trace, including mismatch context when Pass is false.
type Report struct {
	Pass         bool
	Lines        []string
	OverlapStart int64
	OverlapEnd   int64
	SyncTS       int64
}

func (r *Report) String() string { return strings.Join(r.Lines, "\n") }

func (r *Report) addf(format string, args ...any) {
	r.Lines = append(r.Lines, fmt.Sprintf(format, args...))
}

// decSig is the per-timestamp lifecycle signature. Minimal on purpose:
// prices and PnL are allowed to drift, lifecycle is not.
type decSig struct {
	TS         int64
	Enter      bool
	EntrySide  string
	Exit       bool
	ExitReason string
	PosSide    string
	HasStop    bool
	HasAnchor  bool
}

func signatureOf(r ledger.DecisionRecord) decSig {
	return decSig{
		TS:         r.TS,
		Enter:      r.EntryShouldEnter != nil && *r.EntryShouldEnter,
		EntrySide:  normSide(r.EntrySide),
		Exit:       r.ExitShouldExit != nil && *r.ExitShouldExit,
		ExitReason: strings.TrimSpace(r.ExitReason),
		PosSide:    normSide(r.PositionSide),
		HasStop:    r.PositionStopPrice != nil,
		HasAnchor:  r.PositionAnchor != nil,
	}
}

func (s decSig) format() string {
	return fmt.Sprintf("ts=%d|enter=%s|side=%s|exit=%s|reason=%s|pos=%s|stop=%s|anch=%s",
		s.TS, b01(s.Enter), s.EntrySide, b01(s.Exit), s.ExitReason, s.PosSide, b01(s.HasStop), b01(s.HasAnchor))
}

// tradeSig identifies one closed trade's lifecycle.
type tradeSig struct {
	EntryTS    int64
	ExitTS     int64
	Side       string
	ExitReason string
}

func (s tradeSig) format() string {
	return fmt.Sprintf("entry=%d|exit=%d|side=%s|reason=%s", s.EntryTS, s.ExitTS, s.Side, s.ExitReason)
}

// Compare verifies replay decisions and trades against the live ledger.
// It stops at the first divergence.
func Compare(liveDec, btDec []ledger.DecisionRecord, liveTrades, btTrades []ledger.TradeRecord) Report {
	rep := Report{}

	l0, l1, ok := tsRange(liveDec)
	if !ok {
		rep.addf("[decisions] FAIL: LIVE has no ts_ms rows")
		return rep
	}
	b0, b1, ok := tsRange(btDec)
	if !ok {
		rep.addf("[decisions] FAIL: BT has no ts_ms rows")
		return rep
	}

	rep.OverlapStart = max(l0, b0)
	rep.OverlapEnd = min(l1, b1)

	rep.addf("[window] decisions LIVE=[%d,%d]  BT=[%d,%d]", l0, l1, b0, b1)
	rep.addf("[window] overlap=[%d,%d]", rep.OverlapStart, rep.OverlapEnd)

	if rep.OverlapStart > rep.OverlapEnd {
		rep.addf("[decisions] FAIL: no overlap window")
		return rep
	}

	liveByTS := indexByTS(liveDec, rep.OverlapStart, rep.OverlapEnd)
	btByTS := indexByTS(btDec, rep.OverlapStart, rep.OverlapEnd)

	rep.SyncTS = findMutualFlat(liveByTS, btByTS)
	if rep.SyncTS == 0 {
		rep.SyncTS = rep.OverlapStart
		rep.addf("[sync] no mutual-flat found; starting at overlap_start ts_ms=%d", rep.SyncTS)
	} else {
		rep.addf("[sync] starting comparison at first mutual-flat ts_ms=%d", rep.SyncTS)
	}

	for ts := range liveByTS {
		if ts < rep.SyncTS {
			delete(liveByTS, ts)
		}
	}
	for ts := range btByTS {
		if ts < rep.SyncTS {
			delete(btByTS, ts)
		}
	}

	common := commonTS(liveByTS, btByTS)
	if len(common) == 0 {
		rep.addf("[decisions] FAIL: no common timestamps after sync")
		return rep
	}

	// Timestamps present on one side only are tolerated when the present
	// row is a no-op; anything else is a hole in the history.
	var missingBadLive, missingBadBT []int64
	noopLive, noopBT := 0, 0
	for ts, r := range btByTS {
		if _, ok := liveByTS[ts]; ok {
			continue
		}
		if r.IsNoop() {
			noopLive++
		} else {
			missingBadLive = append(missingBadLive, ts)
		}
	}
	for ts, r := range liveByTS {
		if _, ok := btByTS[ts]; ok {
			continue
		}
		if r.IsNoop() {
			noopBT++
		} else {
			missingBadBT = append(missingBadBT, ts)
		}
	}
	sortTS(missingBadLive)
	sortTS(missingBadBT)

	if len(missingBadLive) > 0 || len(missingBadBT) > 0 {
		rep.addf("[decisions] FAIL missing timestamps after sync: missing_in_live=%d missing_in_bt=%d",
			len(missingBadLive), len(missingBadBT))
		rep.addf("missing_in_live (first 20): %v", head(missingBadLive, 20))
		rep.addf("missing_in_bt   (first 20): %v", head(missingBadBT, 20))
		return rep
	}

	for i, ts := range common {
		lsig := signatureOf(liveByTS[ts])
		bsig := signatureOf(btByTS[ts])
		if lsig == bsig {
			continue
		}

		rep.addf("[decisions] first mismatch at index=%d ts_ms=%d", i, ts)
		rep.addf("")
		rep.addf("--- context around mismatch (decisions) index=%d ---", i)

		lo := max(0, i-3)
		hi := min(len(common), i+4)
		for j := lo; j < hi; j++ {
			tt := common[j]
			prefix := "  "
			if j == i {
				prefix = ">>"
			}
			rep.addf("%s %06d  LIVE: %s", prefix, j, signatureOf(liveByTS[tt]).format())
			rep.addf("%s %06d   BT : %s", prefix, j, signatureOf(btByTS[tt]).format())
		}
		return rep
	}

	rep.addf("[decisions] PASS (common_ts=%d rows; missing_noop_live=%d missing_noop_bt=%d)",
		len(common), noopLive, noopBT)

	if !compareTrades(&rep, liveTrades, btTrades, rep.SyncTS, rep.OverlapEnd) {
		return rep
	}

	rep.Pass = true
	return rep
}

// compareTrades checks the unordered trade signature sets whose entries
// fall inside [startTS, endTS]. Window-keying on the entry keeps replay
// warmup trades from mismatching the live capture.
func compareTrades(rep *Report, live, bt []ledger.TradeRecord, startTS, endTS int64) bool {
	liveSigs := tradeSigsInWindow(live, startTS, endTS)
	btSigs := tradeSigsInWindow(bt, startTS, endTS)

	if equalSigs(liveSigs, btSigs) {
		rep.addf("[trades] PASS windowed (%d rows) window=[%d,%d]", len(liveSigs), startTS, endTS)
		return true
	}

	rep.addf("[trades] WINDOWED mismatch window=[%d,%d]", startTS, endTS)
	rep.addf("[trades] length mismatch: LIVE=%d BT=%d", len(liveSigs), len(btSigs))

	first := len(liveSigs)
	if len(btSigs) < first {
		first = len(btSigs)
	}
	for i := 0; i < min(len(liveSigs), len(btSigs)); i++ {
		if liveSigs[i] != btSigs[i] {
			first = i
			break
		}
	}

	rep.addf("[trades] first mismatch at index=%d", first)
	rep.addf("")
	rep.addf("--- context around mismatch (trades) index=%d ---", first)

	lo := max(0, first-3)
	hi := min(max(len(liveSigs), len(btSigs)), first+4)
	for j := lo; j < hi; j++ {
		prefix := "  "
		if j == first {
			prefix = ">>"
		}
		rep.addf("%s %06d  LIVE: %s", prefix, j, sigAt(liveSigs, j))
		rep.addf("%s %06d   BT : %s", prefix, j, sigAt(btSigs, j))
	}
	return false
}

func tradeSigsInWindow(trades []ledger.TradeRecord, startTS, endTS int64) []tradeSig {
	var sigs []tradeSig
	for _, t := range trades {
		if t.EntryTS < startTS || t.EntryTS > endTS {
			continue
		}
		sigs = append(sigs, tradeSig{
			EntryTS:    t.EntryTS,
			ExitTS:     t.ExitTS,
			Side:       normSide(t.Side),
			ExitReason: strings.TrimSpace(t.Reason),
		})
	}
	sort.Slice(sigs, func(i, j int) bool {
		a, b := sigs[i], sigs[j]
		if a.EntryTS != b.EntryTS {
			return a.EntryTS < b.EntryTS
		}
		if a.ExitTS != b.ExitTS {
			return a.ExitTS < b.ExitTS
		}
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		return a.ExitReason < b.ExitReason
	})
	return sigs
}

func equalSigs(a, b []tradeSig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sigAt(sigs []tradeSig, i int) string {
	if i < 0 || i >= len(sigs) {
		return "<none>"
	}
	return sigs[i].format()
}

func tsRange(rows []ledger.DecisionRecord) (lo, hi int64, ok bool) {
	for _, r := range rows {
		if r.TS <= 0 {
			continue
		}
		if !ok || r.TS < lo {
			lo = r.TS
		}
		if !ok || r.TS > hi {
			hi = r.TS
		}
		ok = true
	}
	return lo, hi, ok
}

// indexByTS keeps the last row per timestamp inside the window.
func indexByTS(rows []ledger.DecisionRecord, startTS, endTS int64) map[int64]ledger.DecisionRecord {
	byTS := make(map[int64]ledger.DecisionRecord)
	for _, r := range rows {
		if r.TS >= startTS && r.TS <= endTS {
			byTS[r.TS] = r
		}
	}
	return byTS
}

// findMutualFlat returns the first common timestamp where both sides
// have no position, or 0 when none exists.
func findMutualFlat(live, bt map[int64]ledger.DecisionRecord) int64 {
	for _, ts := range commonTS(live, bt) {
		if strings.TrimSpace(live[ts].PositionSide) == "" && strings.TrimSpace(bt[ts].PositionSide) == "" {
			return ts
		}
	}
	return 0
}

func commonTS(a, b map[int64]ledger.DecisionRecord) []int64 {
	var out []int64
	for ts := range a {
		if _, ok := b[ts]; ok {
			out = append(out, ts)
		}
	}
	sortTS(out)
	return out
}

func sortTS(ts []int64) {
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
}

func head(ts []int64, n int) []int64 {
	if len(ts) > n {
		return ts[:n]
	}
	return ts
}

func normSide(s string) string {
	up := strings.ToUpper(strings.TrimSpace(s))
	if up == "LONG" || up == "SHORT" {
		return up
	}
	return ""
}

func b01(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
