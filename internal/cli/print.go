package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/triage-ai/taskdb/internal/taskdb"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed, color.Bold)
	skipColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

func statusColor(s taskdb.Status) *color.Color {
	switch s {
	case taskdb.StatusFail:
		return failColor
	case taskdb.StatusSkip:
		return skipColor
	default:
		return okColor
	}
}

// printEvent writes one event per line, status colored.
func printEvent(w io.Writer, ev taskdb.Event) {
	ts := time.UnixMilli(ev.TS).UTC().Format("2006-01-02T15:04:05.000Z")
	status := string(ev.Status)
	if status == "" {
		status = "-"
	}
	line := fmt.Sprintf("%s %s %-18s run=%s span=%s",
		dimColor.Sprint(ts),
		statusColor(ev.Status).Sprintf("%-4s", status),
		ev.Kind,
		ev.Ctx.RunID,
		ev.Ctx.SpanID,
	)
	if ev.Ctx.Component != "" {
		line += " component=" + ev.Ctx.Component
	}
	if ev.DurationMs != nil {
		line += fmt.Sprintf(" duration=%dms", *ev.DurationMs)
	}
	if len(ev.Payload) > 0 {
		if b, err := json.Marshal(ev.Payload); err == nil {
			line += " " + dimColor.Sprint(string(b))
		}
	}
	fmt.Fprintln(w, line)
}
