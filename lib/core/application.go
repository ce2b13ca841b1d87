package core

import "github.com/pkg/errors"

// Application is a named routing group: a non-empty set of listen ports and
// a non-empty ordered list of upstream targets that share a routing policy.
// Application is immutable after load and is shared by reference across
// every port handler that serves it (§3, §5).
type Application struct {
	Name    string
	Ports   []uint16
	Targets []Upstream
}

// Validate checks the invariants required of an Application: a non-empty
// name, at least one listen port, and at least one target.
func (a *Application) Validate() error {
	if a.Name == "" {
		return errors.New("application name must not be empty")
	}
	if len(a.Ports) == 0 {
		return errors.Errorf("application %q must declare at least one port", a.Name)
	}
	if len(a.Targets) == 0 {
		return errors.Errorf("application %q must declare at least one target", a.Name)
	}
	return nil
}
