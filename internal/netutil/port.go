package netutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ParseCandidates splits a comma separated address list, dropping blanks.
func ParseCandidates(csv string) []string {
	var out []string
	for _, addr := range strings.Split(csv, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Listen binds preferred, or with autoFallback the first candidate that is
// not in use. The listener is returned bound so no other process can take
// the port between selection and serving.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := listen(preferred)
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		if !autoFallback {
			return nil, fmt.Errorf("daemon bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		ln, err := listen(addr)
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
	}
	return nil, errors.New("no available daemon bind addresses")
}

func listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// IsLoopback reports whether addr only accepts local connections. An empty
// or wildcard host is not loopback.
func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
