package scanner

import (
	"fmt"
	"strings"

	"strobe/packet"
)

// Technique selects how a port is probed and how its answer is read.
type Technique uint8

const (
	Syn Technique = iota
	Connect
	Fin
	Null
	Xmas
	Ack
	Window
	Udp
)

// Techniques lists every technique in declaration order.
var Techniques = []Technique{Syn, Connect, Fin, Null, Xmas, Ack, Window, Udp}

var techniqueNames = [...]string{
	Syn:     "syn",
	Connect: "connect",
	Fin:     "fin",
	Null:    "null",
	Xmas:    "xmas",
	Ack:     "ack",
	Window:  "window",
	Udp:     "udp",
}

func (t Technique) String() string {
	if int(t) < len(techniqueNames) {
		return techniqueNames[t]
	}
	return fmt.Sprintf("technique(%d)", uint8(t))
}

// Valid reports whether t is one of the declared techniques.
func (t Technique) Valid() bool {
	return int(t) < len(techniqueNames)
}

// ParseTechnique accepts a technique name case-insensitively, with or without
// a "-scan" suffix.
func ParseTechnique(s string) (Technique, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "-scan")
	for i, n := range techniqueNames {
		if n == name {
			return Technique(i), nil
		}
	}
	return 0, fmt.Errorf("unknown technique %q", s)
}

func (t Technique) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown technique %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Technique) UnmarshalText(b []byte) error {
	v, err := ParseTechnique(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Flags returns the TCP control bits a probe carries. Connect and Udp
// craft no TCP segment and return zero.
func (t Technique) Flags() packet.TCPFlags {
	switch t {
	case Syn:
		return packet.FlagSYN
	case Fin:
		return packet.FlagFIN
	case Null:
		return 0
	case Xmas:
		return packet.FlagFIN | packet.FlagPSH | packet.FlagURG
	case Ack, Window:
		return packet.FlagACK
	case Connect, Udp:
		return 0
	}
	return 0
}

// Protocol is the transport protocol the technique probes.
func (t Technique) Protocol() Protocol {
	if t == Udp {
		return UDP
	}
	return TCP
}

// RequiresRaw reports whether the technique needs crafted packets. Udp can
// run over either transport and does not.
func (t Technique) RequiresRaw() bool {
	switch t {
	case Syn, Fin, Null, Xmas, Ack, Window:
		return true
	case Connect, Udp:
		return false
	}
	return false
}
