package sshexec

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEndpointAddr(t *testing.T) {
	if got := (Endpoint{Host: "10.0.0.5", Port: 22}).Addr(); got != "10.0.0.5:22" {
		t.Fatalf("addr = %q", got)
	}
	if got := (Endpoint{Host: "::1", Port: 2222}).Addr(); got != "[::1]:2222" {
		t.Fatalf("ipv6 addr = %q", got)
	}
}

func TestCommandErrorMessage(t *testing.T) {
	err := &CommandError{Command: "kill -s 0 42", ExitStatus: 1, Stderr: []byte("no such process\n")}
	msg := err.Error()
	if !strings.Contains(msg, "exited 1") || !strings.Contains(msg, "no such process") {
		t.Fatalf("message = %q", msg)
	}
}

func TestConnectErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := fmt.Errorf("port finder: %w", &ConnectError{Addr: "h1:22", Err: inner})

	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatal("ConnectError not found in chain")
	}
	if !errors.Is(err, inner) {
		t.Fatal("inner error not reachable through Unwrap")
	}
}

func TestErrorKindsAreDistinct(t *testing.T) {
	wrapped := fmt.Errorf("probe: %w", &CommandError{Command: "kill -s 0 42", ExitStatus: 1})
	var connErr *ConnectError
	if errors.As(wrapped, &connErr) {
		t.Fatal("CommandError must not match as ConnectError")
	}
}
