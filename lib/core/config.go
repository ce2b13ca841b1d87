package core

import "github.com/pkg/errors"

// Configuration is an ordered list of Applications. Ports across
// Applications are expected to be unique; this is enforced only by bind
// failure at runtime, not here (§3).
type Configuration struct {
	Apps []Application
}

// Validate checks every Application's own invariants. An empty Apps list is
// valid: the acceptor fan-out returns success immediately in that case
// (§4.5).
func (c *Configuration) Validate() error {
	for i := range c.Apps {
		if err := c.Apps[i].Validate(); err != nil {
			return errors.Wrapf(err, "application at index %d is invalid", i)
		}
	}
	return nil
}
