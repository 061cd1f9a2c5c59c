//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package core

import (
	"os"
	"testing"
)

func TestIsTerminalAlwaysFalse(t *testing.T) {
	t.Parallel()
	for _, w := range []*os.File{os.Stdout, os.Stderr} {
		if isTerminal(w) {
			t.Errorf("isTerminal(%s) = true; want false without termios", w.Name())
		}
	}
}
