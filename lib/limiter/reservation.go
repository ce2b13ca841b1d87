// Package limiter caps the number of concurrent inbound connections a
// single Application may hold open, so one misbehaving or overloaded
// application cannot starve file descriptors from the rest of the process
// (a supplemented feature; see DESIGN.md).
package limiter

import (
	"errors"
	"sync"
)

// ErrMaxConnectionsExceeded is returned by AppConnReserver.TryReserve when
// an application has already reached its concurrent connection cap.
var ErrMaxConnectionsExceeded = errors.New("maximum concurrent connections for application exceeded")

// ErrNoReservationExists is returned by AppConnReserver.Release if a caller
// attempts to release a reservation that was never acquired.
var ErrNoReservationExists = errors.New("no reservation exists")

// ErrInvariantFailure is returned if AppConnReserver detects its internal
// bookkeeping has gone negative or over its configured bound.
var ErrInvariantFailure = errors.New("reservation invariant failure")

// AppConnReserver bounds the number of concurrently open connections per
// Application name. A zero MaxConnectionsPerApp means unbounded.
//
// Multiple goroutines may invoke methods on an AppConnReserver simultaneously.
type AppConnReserver struct {
	MaxConnectionsPerApp int64

	mu         sync.Mutex
	countByApp map[string]int64
}

// NewAppConnReserver returns an AppConnReserver bounding every application
// to at most maxConnectionsPerApp concurrent reservations. A value <= 0
// means unbounded.
func NewAppConnReserver(maxConnectionsPerApp int64) *AppConnReserver {
	return &AppConnReserver{
		MaxConnectionsPerApp: maxConnectionsPerApp,
		countByApp:           make(map[string]int64),
	}
}

// TryReserve attempts to acquire a reservation for the named application.
// It never blocks: if the application is already at its cap, it returns
// ErrMaxConnectionsExceeded immediately.
func (r *AppConnReserver) TryReserve(appName string) error {
	if r.MaxConnectionsPerApp <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.countByApp[appName]
	if n < 0 || n > r.MaxConnectionsPerApp {
		return ErrInvariantFailure
	}
	if n == r.MaxConnectionsPerApp {
		return ErrMaxConnectionsExceeded
	}
	r.countByApp[appName] = n + 1
	return nil
}

// Release releases a reservation previously acquired by TryReserve for
// appName.
func (r *AppConnReserver) Release(appName string) error {
	if r.MaxConnectionsPerApp <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.countByApp[appName]
	if n < 0 || n > r.MaxConnectionsPerApp {
		return ErrInvariantFailure
	}
	if n == 0 {
		return ErrNoReservationExists
	}
	n--
	if n == 0 {
		delete(r.countByApp, appName)
	} else {
		r.countByApp[appName] = n
	}
	return nil
}
