package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"strobe/scanner"
)

// writeJSON marshals and prints the result in JSON format.
func writeJSON(w io.Writer, res *scanner.ScanResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// writeText prints one line per port that is not closed, then a summary.
// Closed ports are only counted, like most scanners do, to keep large scans
// readable.
func writeText(w io.Writer, res *scanner.ScanResult) error {
	var b strings.Builder
	for _, pr := range res.PortResults {
		if pr.State == scanner.Closed {
			continue
		}
		fmt.Fprintf(&b, "%s:%d/%s - %s", pr.Address, pr.Port, pr.Protocol, pr.State)
		if pr.Service != "" {
			fmt.Fprintf(&b, " - %s", pr.Service)
		}
		b.WriteByte('\n')
	}

	st := res.Stats
	fmt.Fprintln(&b, res.String())
	fmt.Fprintf(&b, "%d sent, %d received, %d timeouts, %.1f%% loss, %d retries, %d fallbacks, %d errors",
		st.PacketsSent, st.PacketsReceived, st.Timeouts, st.PacketLoss, st.Retries, st.Fallbacks, st.Errors)
	if st.AvgResponseTime > 0 {
		fmt.Fprintf(&b, ", rtt %s avg (%s-%s)",
			st.AvgResponseTime.Round(time.Microsecond),
			st.MinResponseTime.Round(time.Microsecond),
			st.MaxResponseTime.Round(time.Microsecond))
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}
