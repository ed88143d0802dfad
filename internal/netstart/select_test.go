package netstart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name string
		env  Environment
		want Kind
	}{
		{"linux", Environment{GOOS: "linux", GOARCH: "amd64"}, Standard},
		{"browser", Environment{GOOS: "js", GOARCH: "wasm"}, Fallback},
		{"wasi", Environment{GOOS: "wasip1", GOARCH: "wasm"}, Fallback},
		{"override fallback", Environment{GOOS: "linux", GOARCH: "arm64", Override: "fallback"}, Fallback},
		{"override standard in browser", Environment{GOOS: "js", GOARCH: "wasm", Override: "udp"}, Standard},
		{"bad override ignored", Environment{GOOS: "js", GOARCH: "wasm", Override: "carrier-pigeon"}, Fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.env))
			assert.Equal(t, Select(tt.env), Select(tt.env), "selection is stable")
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" WebSocket ")
	assert.NoError(t, err)
	assert.Equal(t, Fallback, k)

	_, err = ParseKind("tcp")
	assert.Error(t, err)
}
