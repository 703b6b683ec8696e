package dualwrite

import (
	"strconv"

	"github.com/triage-ai/taskdb/internal/taskdb"
)

// Diff summarises how two result sets differ. Events are compared by
// fingerprint because each backend assigns its own ids.
type Diff struct {
	OnlyPrimary   int `json:"only_primary"`
	OnlySecondary int `json:"only_secondary"`
}

// Equal reports whether both sides held the same events.
func (d Diff) Equal() bool {
	return d.OnlyPrimary == 0 && d.OnlySecondary == 0
}

// Fingerprint identifies an event independently of its store-assigned id.
func Fingerprint(ev taskdb.Event) string {
	return string(ev.Kind) + "|" + strconv.FormatInt(ev.TS, 10) + "|" +
		ev.Ctx.TraceID + "|" + ev.Ctx.SpanID + "|" + string(ev.Status)
}

// Compare counts the events present on one side only, treating each side as
// a multiset so duplicates are matched one for one.
func Compare(primary, secondary []taskdb.Event) Diff {
	counts := make(map[string]int, len(primary))
	for _, ev := range primary {
		counts[Fingerprint(ev)]++
	}
	var d Diff
	for _, ev := range secondary {
		fp := Fingerprint(ev)
		if counts[fp] > 0 {
			counts[fp]--
			continue
		}
		d.OnlySecondary++
	}
	for _, n := range counts {
		d.OnlyPrimary += n
	}
	return d
}
