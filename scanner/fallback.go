package scanner

// FallbackChain is the ordered list of techniques tried after the primary
// technique cannot run or keeps failing.
type FallbackChain []Technique

// DefaultFallbackChain prefers crafted probes, then the OS stack, then an
// ACK probe that at least separates filtered from unfiltered ports.
var DefaultFallbackChain = FallbackChain{Syn, Connect, Ack}

// Sequence returns primary followed by the chain entries that probe the same
// protocol, each technique at most once.
func (c FallbackChain) Sequence(primary Technique) []Technique {
	seq := []Technique{primary}
	for _, t := range c {
		if t.Protocol() != primary.Protocol() {
			continue
		}
		seen := false
		for _, s := range seq {
			if s == t {
				seen = true
				break
			}
		}
		if !seen {
			seq = append(seq, t)
		}
	}
	return seq
}
