// Package netstart bootstraps an observer: it picks a transport for the
// platform, tries the configured addresses in order and runs the
// predicting client once connected.
package netstart

import (
	"fmt"
	"runtime"
	"strings"
)

// Kind is a transport family.
type Kind uint8

const (
	// Standard sends datagrams over UDP.
	Standard Kind = iota
	// Fallback tunnels datagrams through a websocket for platforms without
	// raw sockets.
	Fallback
)

func (k Kind) String() string {
	if k == Fallback {
		return "fallback"
	}
	return "standard"
}

// ParseKind accepts "standard", "fallback" or their aliases "udp" and
// "websocket".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "udp":
		return Standard, nil
	case "fallback", "websocket", "ws":
		return Fallback, nil
	}
	return Standard, fmt.Errorf("unknown transport %q", s)
}

// Environment is everything transport selection depends on.
type Environment struct {
	GOOS     string
	GOARCH   string
	Override string
}

// CurrentEnvironment describes the running binary.
func CurrentEnvironment(override string) Environment {
	return Environment{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH, Override: override}
}

// Select picks the transport for env. A valid override wins; browsers get
// the fallback; everything else the standard transport.
func Select(env Environment) Kind {
	if env.Override != "" {
		if k, err := ParseKind(env.Override); err == nil {
			return k
		}
	}
	if env.GOOS == "js" || env.GOARCH == "wasm" {
		return Fallback
	}
	return Standard
}
