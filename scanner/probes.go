package scanner

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"strobe/targets"
)

// Probe is a UDP payload sent to ports that only answer a well-formed
// request.
type Probe struct {
	Name    string
	Data    []byte
	Ports   []uint16
	Matches []Match
}

// Match names the service behind a response.
type Match struct {
	Service string
	Pattern *regexp.Regexp
}

// defaultUDPPayload goes to ports without a dedicated probe.
var defaultUDPPayload = []byte{0}

func builtinProbes() []Probe {
	return []Probe{
		{
			Name: "DNSStatusRequest",
			// Standard query for example.com A.
			Data: []byte{
				0x12, 0x34, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x07, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 0x03, 'c', 'o', 'm', 0x00,
				0x00, 0x01, 0x00, 0x01,
			},
			Ports:   []uint16{53, 5353},
			Matches: []Match{{Service: "domain", Pattern: regexp.MustCompile(`(?s)^\x12\x34`)}},
		},
		{
			Name: "NTPRequest",
			// Client mode, version 4.
			Data:    append([]byte{0x23}, make([]byte, 47)...),
			Ports:   []uint16{123},
			Matches: []Match{{Service: "ntp", Pattern: regexp.MustCompile(`(?s)^[\x1c\x24\x25]`)}},
		},
		{
			Name: "SNMPv1GetRequest",
			// get-request for sysDescr.0 with community "public".
			Data: []byte{
				0x30, 0x26, 0x02, 0x01, 0x00, 0x04, 0x06, 'p', 'u', 'b', 'l', 'i', 'c',
				0xa0, 0x19, 0x02, 0x04, 0x12, 0x34, 0x56, 0x78, 0x02, 0x01, 0x00, 0x02, 0x01,
				0x00, 0x30, 0x0b, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x06, 0x01, 0x02, 0x01, 0x05, 0x00,
			},
			Ports:   []uint16{161},
			Matches: []Match{{Service: "snmp", Pattern: regexp.MustCompile(`(?s)^\x30`)}},
		},
		{
			Name: "TFTPRead",
			// RRQ "test" in octet mode.
			Data:    []byte{0x00, 0x01, 't', 'e', 's', 't', 0x00, 'o', 'c', 't', 'e', 't', 0x00},
			Ports:   []uint16{69},
			Matches: []Match{{Service: "tftp", Pattern: regexp.MustCompile(`(?s)^\x00[\x03\x05]`)}},
		},
		{
			Name:  "Syslog",
			Data:  []byte("<14>strobe: probe\n"),
			Ports: []uint16{514},
		},
		{
			Name: "SSDPSearch",
			Data: []byte("M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\n" +
				"MAN: \"ssdp:discover\"\r\nMX: 1\r\nST: ssdp:all\r\n\r\n"),
			Ports:   []uint16{1900},
			Matches: []Match{{Service: "upnp", Pattern: regexp.MustCompile(`(?i)^HTTP/1\.[01] 200`)}},
		},
		{
			Name:    "SIPOptions",
			Data:    []byte("OPTIONS sip:nm SIP/2.0\r\nVia: SIP/2.0/UDP nm;branch=foo\r\nFrom: <sip:nm@nm>;tag=root\r\nTo: <sip:nm2@nm2>\r\nCall-ID: 50000\r\nCSeq: 42 OPTIONS\r\nMax-Forwards: 70\r\nContent-Length: 0\r\n\r\n"),
			Ports:   []uint16{5060},
			Matches: []Match{{Service: "sip", Pattern: regexp.MustCompile(`^SIP/2\.0 `)}},
		},
	}
}

// ProbeTable picks the UDP payload for a port and names the service that
// answered it.
type ProbeTable struct {
	byPort map[uint16][]Probe
}

// NewProbeTable indexes probes by port. Later probes for a port are tried
// after earlier ones.
func NewProbeTable(probes []Probe) *ProbeTable {
	t := &ProbeTable{byPort: make(map[uint16][]Probe)}
	for _, p := range probes {
		for _, port := range p.Ports {
			t.byPort[port] = append(t.byPort[port], p)
		}
	}
	return t
}

// DefaultProbeTable holds the built-in payloads.
func DefaultProbeTable() *ProbeTable {
	return NewProbeTable(builtinProbes())
}

// Payload returns the datagram body to send to port.
func (t *ProbeTable) Payload(port uint16) []byte {
	if t != nil {
		if ps := t.byPort[port]; len(ps) > 0 {
			return ps[0].Data
		}
	}
	return defaultUDPPayload
}

// Identify names the service whose pattern matches a reply from port.
func (t *ProbeTable) Identify(port uint16, reply []byte) string {
	if t == nil || len(reply) == 0 {
		return ""
	}
	for _, p := range t.byPort[port] {
		for _, m := range p.Matches {
			if m.Pattern.Match(reply) {
				return m.Service
			}
		}
	}
	return ""
}

// Len returns the number of ports with a dedicated probe.
func (t *ProbeTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byPort)
}

// LoadProbeFile reads UDP probes from an nmap-service-probes file and merges
// them after the built-in ones.
func LoadProbeFile(path string, log *slog.Logger) (*ProbeTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open file %s: %w", path, err)
	}
	defer f.Close()

	probes, err := ParseProbes(f, log)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return NewProbeTable(append(builtinProbes(), probes...)), nil
}

// ParseProbes reads UDP probes in nmap-service-probes format. TCP probes are
// skipped; lines the parser cannot use are logged and skipped.
func ParseProbes(r io.Reader, log *slog.Logger) ([]Probe, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	var (
		probes  []Probe
		current *Probe
		lineNum int
	)
	flush := func() {
		if current != nil && len(current.Ports) > 0 {
			probes = append(probes, *current)
		}
		current = nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "Probe "):
			flush()
			p, proto, err := parseProbeLine(line)
			if err != nil {
				log.Debug("skipping probe", "line", lineNum, "error", err)
				continue
			}
			if proto != "UDP" {
				continue
			}
			current = &p

		case current == nil:
			// Directives of a skipped probe.

		case strings.HasPrefix(line, "ports "):
			ports, err := targets.ParsePorts(strings.TrimPrefix(line, "ports "))
			if err != nil {
				log.Debug("skipping ports directive", "line", lineNum, "error", err)
				continue
			}
			current.Ports = append(current.Ports, ports...)

		case strings.HasPrefix(line, "match "):
			m, err := parseMatchLine(line)
			if err != nil {
				log.Debug("skipping match", "line", lineNum, "error", err)
				continue
			}
			current.Matches = append(current.Matches, m)
		}
	}
	flush()

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("error reading probes: %w", err)
	}
	log.Debug("loaded udp probes", "count", len(probes))
	return probes, nil
}

// parseProbeLine parses a line like:
// Probe UDP DNSStatusRequest q|\0\0\x10\0\0\0\0\0\0\0\0\0|
func parseProbeLine(line string) (Probe, string, error) {
	parts := strings.SplitN(strings.TrimPrefix(line, "Probe "), " ", 3)
	if len(parts) < 3 {
		return Probe{}, "", fmt.Errorf("invalid Probe format")
	}
	proto, name, rest := parts[0], parts[1], parts[2]

	// Trailing options such as no-payload follow the data.
	if i := strings.LastIndexByte(rest, '|'); i > 0 {
		rest = rest[:i+1]
	}
	data, err := parseProbeData(rest)
	if err != nil {
		return Probe{}, "", fmt.Errorf("cannot parse probe data: %w", err)
	}
	return Probe{Name: name, Data: data}, proto, nil
}

// parseProbeData decodes q|...| with C-style escapes.
func parseProbeData(s string) ([]byte, error) {
	if len(s) < 3 || s[0] != 'q' || s[1] != '|' || s[len(s)-1] != '|' {
		return nil, fmt.Errorf("probe data must be in format q|...|")
	}
	unquoted, err := strconv.Unquote(`"` + goEscapes(s[2:len(s)-1]) + `"`)
	if err != nil {
		return nil, fmt.Errorf("cannot unquote probe data: %w", err)
	}
	return []byte(unquoted), nil
}

// goEscapes rewrites the escapes Go does not accept: a bare \0 and an
// unescaped double quote.
func goEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '"':
			b.WriteString(`\"`)
		case s[i] == '\\' && i+1 < len(s):
			if s[i+1] == '0' && (i+2 >= len(s) || s[i+2] < '0' || s[i+2] > '7') {
				b.WriteString(`\x00`)
			} else {
				b.WriteByte('\\')
				b.WriteByte(s[i+1])
			}
			i++
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// parseMatchLine parses a line like:
// match dns m|^\x12\x34\x81\x80| p/ISC BIND/
func parseMatchLine(line string) (Match, error) {
	parts := strings.SplitN(strings.TrimPrefix(line, "match "), " ", 2)
	if len(parts) < 2 || len(parts[1]) < 3 || parts[1][0] != 'm' {
		return Match{}, fmt.Errorf("invalid match format")
	}
	service, expr := parts[0], parts[1]

	delim := expr[1]
	end := strings.IndexByte(expr[2:], delim)
	if end < 0 {
		return Match{}, fmt.Errorf("unterminated match pattern")
	}
	pattern := expr[2 : 2+end]
	flags := expr[2+end+1:]
	if i := strings.IndexByte(flags, ' '); i >= 0 {
		flags = flags[:i]
	}

	prefix := ""
	if strings.Contains(flags, "i") {
		prefix += "i"
	}
	if strings.Contains(flags, "s") {
		prefix += "s"
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return Match{}, fmt.Errorf("cannot compile regex: %w", err)
	}
	return Match{Service: service, Pattern: re}, nil
}
