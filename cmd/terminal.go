package cmd

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// rawTerminal adapts the real stdin/stdout to emulator.Terminal: raw mode on stdin (so
// keystrokes arrive one byte at a time, unbuffered, matching the reference emulator's
// termios/fcntl setup) and a background reader goroutine feeding a channel, since
// emulator.Terminal.ReadByte must never block the terminal actor's poll loop.
type rawTerminal struct {
	oldState *term.State
	in       chan byte
}

// newRawTerminal puts stdin into raw mode and starts the background byte reader. The
// returned closer restores the terminal; callers must defer it.
func newRawTerminal() (*rawTerminal, func(), error) {
	fd := int(os.Stdin.Fd())
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, fmt.Errorf("put stdin in raw mode: %w", err)
	}

	rt := &rawTerminal{oldState: old, in: make(chan byte, 256)}
	go rt.pump()

	restore := func() {
		_ = term.Restore(fd, old)
	}
	return rt, restore, nil
}

func (rt *rawTerminal) pump() {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			rt.in <- buf[0]
		}
		if err != nil {
			return
		}
	}
}

// ReadByte never blocks: it reports the next buffered input byte if one is already
// available, or (0, false) otherwise, matching emulator.Terminal's polling contract.
func (rt *rawTerminal) ReadByte() (byte, bool) {
	select {
	case b := <-rt.in:
		return b, true
	default:
		return 0, false
	}
}

func (rt *rawTerminal) WriteByte(b byte) error {
	_, err := os.Stdout.Write([]byte{b})
	return err
}
