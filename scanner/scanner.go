package scanner

import (
	"fmt"
	"net/netip"
	"slices"
	"time"
)

// Protocol is the transport protocol of a probed port.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// PortState is the verdict for one port.
type PortState string

const (
	Open           PortState = "open"
	Closed         PortState = "closed"
	Filtered       PortState = "filtered"
	OpenFiltered   PortState = "open|filtered"
	ClosedFiltered PortState = "closed|filtered"
	Unfiltered     PortState = "unfiltered"
)

// ScanJob is one probe to run. Jobs are values and are consumed exactly once.
type ScanJob struct {
	Target    netip.Addr
	Port      uint16
	Technique Technique
}

// ScanBatch groups the jobs for one target that are dispatched together.
type ScanBatch struct {
	ID     int
	Target netip.Addr
	Jobs   []ScanJob
}

// PortResult represents the outcome of probing one port.
type PortResult struct {
	Address      netip.Addr    `json:"address"`
	Port         uint16        `json:"port"`
	Protocol     Protocol      `json:"protocol"`
	State        PortState     `json:"state"`
	Service      string        `json:"service,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	Technique    Technique     `json:"technique"`
}

// ScanStats are the counters of one scan. Counters only grow while the
// scan runs; the derived fields are filled in once at the end.
type ScanStats struct {
	PacketsSent     uint64        `json:"packets_sent"`
	PacketsReceived uint64        `json:"packets_received"`
	Timeouts        uint64        `json:"timeouts"`
	Errors          uint64        `json:"errors"`
	Retries         uint64        `json:"retries"`
	Fallbacks       uint64        `json:"fallbacks"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	MinResponseTime time.Duration `json:"min_response_time"`
	MaxResponseTime time.Duration `json:"max_response_time"`
	PacketLoss      float64       `json:"packet_loss"`
	ActualRate      float64       `json:"actual_rate"`
}

// ScanResult is the finished report for one scan.
type ScanResult struct {
	Target        string        `json:"target"`
	OpenPorts     []uint16      `json:"open_ports"`
	ClosedPorts   []uint16      `json:"closed_ports"`
	FilteredPorts []uint16      `json:"filtered_ports"`
	PortResults   []PortResult  `json:"port_results"`
	Duration      time.Duration `json:"duration"`
	Stats         ScanStats     `json:"stats"`
	Config        ScanConfig    `json:"config"`
}

// add buckets r. Every state other than Open and Closed is reported as
// filtered so the three port lists always partition PortResults.
func (r *ScanResult) add(pr PortResult) {
	switch pr.State {
	case Open:
		r.OpenPorts = append(r.OpenPorts, pr.Port)
	case Closed:
		r.ClosedPorts = append(r.ClosedPorts, pr.Port)
	default:
		r.FilteredPorts = append(r.FilteredPorts, pr.Port)
	}
	r.PortResults = append(r.PortResults, pr)
}

func (r *ScanResult) sort() {
	slices.Sort(r.OpenPorts)
	slices.Sort(r.ClosedPorts)
	slices.Sort(r.FilteredPorts)
	slices.SortStableFunc(r.PortResults, func(a, b PortResult) int {
		if a.Port != b.Port {
			return int(a.Port) - int(b.Port)
		}
		return a.Address.Compare(b.Address)
	})
}

// TotalPorts returns the number of ports with a verdict.
func (r *ScanResult) TotalPorts() int {
	return len(r.OpenPorts) + len(r.ClosedPorts) + len(r.FilteredPorts)
}

// ScanRate returns ports per second over the whole scan.
func (r *ScanResult) ScanRate() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.TotalPorts()) / r.Duration.Seconds()
}

func (r *ScanResult) String() string {
	return fmt.Sprintf("%s: %d open, %d closed, %d filtered in %s",
		r.Target, len(r.OpenPorts), len(r.ClosedPorts), len(r.FilteredPorts), r.Duration.Round(time.Millisecond))
}

// Progress is reported to ScanConfig.Progress as probes finish.
type Progress struct {
	Total     int
	Completed int
	Open      int
	Elapsed   time.Duration
	Rate      float64
}
