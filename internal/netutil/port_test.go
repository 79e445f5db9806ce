package netutil

import (
	"net"
	"testing"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestListenPreferredFree(t *testing.T) {
	addr := freeAddr(t)

	ln, err := Listen(addr, nil, false)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	if got := ln.Addr().String(); got != addr {
		t.Fatalf("Listen() addr = %q; want %q", got, addr)
	}
}

func TestListenFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()
	free := freeAddr(t)

	ln, err := Listen(busy.Addr().String(), []string{busy.Addr().String(), free}, true)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	if got := ln.Addr().String(); got != free {
		t.Fatalf("Listen() addr = %q; want %q", got, free)
	}
}

func TestListenPreferredBusyWithoutFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	if ln, err := Listen(busy.Addr().String(), []string{freeAddr(t)}, false); err == nil {
		ln.Close()
		t.Fatalf("Listen() error = nil; want in-use error")
	}
}

func TestListenRejectsMalformedAddress(t *testing.T) {
	if ln, err := Listen("not-an-address", nil, true); err == nil {
		ln.Close()
		t.Fatalf("Listen() error = nil; want error")
	}
}

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8219": true,
		"[::1]:8219":     true,
		"localhost:8219": true,
		"0.0.0.0:8219":   false,
		":8219":          false,
		"10.0.0.5:8219":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := IsLoopback(addr); got != want {
			t.Fatalf("IsLoopback(%q) = %v; want %v", addr, got, want)
		}
	}
}

func TestParseCandidates(t *testing.T) {
	got := ParseCandidates(" 127.0.0.1:8219, ,127.0.0.1:8220,")
	if len(got) != 2 || got[0] != "127.0.0.1:8219" || got[1] != "127.0.0.1:8220" {
		t.Fatalf("ParseCandidates() = %v; want two trimmed addresses", got)
	}
	if got := ParseCandidates(""); got != nil {
		t.Fatalf("ParseCandidates(\"\") = %v; want nil", got)
	}
}
