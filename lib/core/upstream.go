// Package core holds the data model shared read-only across the proxy: the
// set of configured Applications, their listen ports, and their upstream
// targets.
package core

import "fmt"

// Upstream is a single dial target: a host:port endpoint over some network
// (almost always "tcp"). Upstream has value semantics and supports the
// comparison operators (==, !=), so it can be used as a map key.
type Upstream struct {
	Network string
	Address string
}

func (u Upstream) String() string {
	return fmt.Sprintf("%s://%s", u.Network, u.Address)
}

// Shuffle returns a freshly shuffled copy of upstreams, independent of any
// other caller's copy. intn is injected so callers can use a per-connection
// random source rather than share one across connections (§4.3, §5).
func Shuffle(upstreams []Upstream, intn func(n int) int) []Upstream {
	shuffled := make([]Upstream, len(upstreams))
	copy(shuffled, upstreams)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled
}
