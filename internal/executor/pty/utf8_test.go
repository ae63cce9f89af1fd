package pty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitUTF8(t *testing.T) {
	euro := []byte("€") // e2 82 ac

	tests := []struct {
		name     string
		in       []byte
		complete string
		rest     []byte
	}{
		{"ascii", []byte("ls -la"), "ls -la", nil},
		{"whole rune", append([]byte("a"), euro...), "a€", nil},
		{"one byte of three", append([]byte("a"), euro[0]), "a", euro[:1]},
		{"two bytes of three", append([]byte("ab"), euro[:2]...), "ab", euro[:2]},
		{"empty", nil, "", nil},
		{"stray continuation", []byte{'a', 0x82}, "a\x82", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, rest := splitUTF8(tt.in)
			assert.Equal(t, tt.complete, string(complete))
			assert.Equal(t, tt.rest, rest)
		})
	}
}
