package packetlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/roffe/goj1939/pkg/frame"
)

func formatLine(m *frame.Message, rel time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%10.4f %-6s %d %06X %02X %02X [%d]", rel.Seconds(), m.Network, m.Priority, m.PGN, m.Source, m.Destination, len(m.Data))
	for _, d := range m.Data {
		fmt.Fprintf(&b, " %02X", d)
	}
	b.WriteString("\r\n")
	return b.String()
}
