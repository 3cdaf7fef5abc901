package netcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransientAllowList(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"wrapped refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"connection reset", syscall.ECONNRESET, true},
		{"host unreachable", syscall.EHOSTUNREACH, true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "db.example"}, true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"net timeout", timeoutErr{}, true},
		{"probe sentinel", ErrUnreachable, true},
		{"canceled", context.Canceled, false},
		{"plain error", errors.New("duplicate key value violates unique constraint"), false},
		{"validation", errors.New("branch selection is required"), false},
	}

	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: IsTransient = %t, want %t", tc.name, got, tc.want)
		}
	}
}

type scriptedPinger struct {
	err error
}

func (p scriptedPinger) Ping(context.Context) error { return p.err }

func TestPingProbe(t *testing.T) {
	online := NewPingProbe(scriptedPinger{}, time.Second)
	if !online.Online(context.Background()) {
		t.Fatalf("expected online when ping succeeds")
	}

	offline := NewPingProbe(scriptedPinger{err: syscall.ECONNREFUSED}, time.Second)
	if offline.Online(context.Background()) {
		t.Fatalf("expected offline when ping fails")
	}
}

func TestFuncProber(t *testing.T) {
	calls := 0
	probe := Func(func(context.Context) bool {
		calls++
		return calls > 1
	})
	if probe.Online(context.Background()) {
		t.Fatalf("first call should report offline")
	}
	if !probe.Online(context.Background()) {
		t.Fatalf("second call should report online")
	}
}
