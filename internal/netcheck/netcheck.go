// Package netcheck classifies network failures and answers "is this device
// online". The classifier keeps an explicit allow-list of causes: only errors
// on the list may send a sale down the offline path. Matching on error text
// is deliberately not supported.
package netcheck

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// ErrUnreachable marks a failure raised by a reachability probe itself.
var ErrUnreachable = errors.New("backend unreachable")

// IsTransient reports whether err is a network-class failure worth recovering
// from locally: connection refused/reset, unreachable host or network, DNS
// resolution failure, or a timeout. Validation and constraint errors from the
// server never match. A user-initiated cancellation is not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrUnreachable) {
		return true
	}

	for _, cause := range []error{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.ENETDOWN,
		syscall.EPIPE,
	} {
		if errors.Is(err, cause) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// Prober answers whether the device currently has connectivity to the
// backend. Consulted before the online sale path is attempted.
type Prober interface {
	Online(ctx context.Context) bool
}

// Func adapts a plain function to a Prober; tests use it to script
// connectivity flaps.
type Func func(ctx context.Context) bool

func (f Func) Online(ctx context.Context) bool {
	return f(ctx)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe considers the device online when the backend answers a ping
// within the timeout.
type PingProbe struct {
	Target  pinger
	Timeout time.Duration
}

func NewPingProbe(target pinger, timeout time.Duration) PingProbe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return PingProbe{Target: target, Timeout: timeout}
}

func (p PingProbe) Online(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return p.Target.Ping(pingCtx) == nil
}
