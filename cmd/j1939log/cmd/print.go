package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/roffe/goj1939"
	"github.com/roffe/goj1939/pkg/dbc"
	"github.com/roffe/goj1939/pkg/decoder"
	"github.com/roffe/goj1939/pkg/packetlog"
)

var (
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func printUpdate(w io.Writer, u *goj1939.Update, raw bool) {
	ts := ""
	if u.Message != nil {
		ts = u.Message.Timestamp.Format("15:04:05.000")
	}
	if u.Abort != nil {
		fmt.Fprintf(w, "%s %s %s %s\n", ts, u.Network, red("abort"), u.Abort.Key.String()+" "+u.Abort.Reason.String())
		return
	}
	if raw || len(u.Signals) == 0 {
		if raw {
			fmt.Fprintf(w, "%s %s %s\n", ts, u.Network, u.Message)
		}
		return
	}
	for _, v := range u.Signals {
		fmt.Fprintf(w, "%s %s %s\n", ts, u.Network, formatValue(v))
	}
}

func formatValue(v decoder.Value) string {
	name := cyan(v.Message + "." + v.Signal)
	if !v.Available && v.Label == "" {
		return fmt.Sprintf("%s = %s", name, yellow(v.Display()))
	}
	return fmt.Sprintf("%s = %s", name, green(v.Display()))
}

// printSnapshot prints the latest value of every dictionary signal. With
// seenOnly set, messages never received are left out.
func printSnapshot(w io.Writer, dict *dbc.Dictionary, plog *packetlog.Log, seenOnly bool) {
	dec := decoder.New(dict)
	keys := plog.Keys()
	end := plog.LastTime()
	for _, m := range dict.Messages() {
		if !plog.Seen(m.PGN) {
			if !seenOnly {
				fmt.Fprintf(w, "%-24s %05X  -\n", m.Name, m.PGN)
			}
			continue
		}
		for _, k := range keys {
			if k.PGN != m.PGN {
				continue
			}
			msg, ok := plog.Last(k.PGN, k.Source, end)
			if !ok {
				continue
			}
			values, _ := dec.Decode(msg)
			fmt.Fprintf(w, "%-24s %05X  SA %02X  %d values\n", m.Name, m.PGN, k.Source, len(values))
			for _, v := range values {
				fmt.Fprintf(w, "  %s\n", formatValue(v))
			}
		}
	}
}

// lockedWriter serialises capture lines from several networks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
