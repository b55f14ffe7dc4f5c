package emulator

import (
	"context"
	"runtime"
)

// sendToTerminal implements writeWord's TermOutAddr case: it spins until the terminal
// actor has drained the previous byte, publishes the new one, signals it, then spins
// again until the actor clears the signal — the same two-flag busy-wait rendezvous the
// reference emulator performs between its processor and terminal threads via
// atomic<bool>, expressed here with sync/atomic and runtime.Gosched instead of
// std::this_thread::yield.
func (m *Machine) sendToTerminal(v uint32) {
	done := m.runCtx.Done()
	for m.terminalBusy.Load() {
		select {
		case <-done:
			return
		default:
			runtime.Gosched()
		}
	}
	m.termOut.Store(v)
	m.terminalBusy.Store(true)
	for m.terminalBusy.Load() {
		select {
		case <-done:
			return
		default:
			runtime.Gosched()
		}
	}
}

// runTerminal is the terminal actor: it polls the pluggable Terminal for input bytes
// (publishing each one to term_in and raising terminalInterrupt) and drains pending
// output bytes written by sendToTerminal, following the reference emulator's terminal()
// thread. Terminal raw-mode setup/teardown belongs to the Terminal implementation (see
// cmd's golang.org/x/term-backed adapter), not to this actor, which only deals with
// bytes.
func (m *Machine) runTerminal(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if m.term != nil {
			if b, ok := m.term.ReadByte(); ok {
				m.termIn.Store(uint32(b))
				m.terminalInterrupt.Store(true)
			}
		}

		if m.terminalBusy.Load() {
			if m.term != nil {
				_ = m.term.WriteByte(byte(m.termOut.Load()))
			}
			m.terminalBusy.Store(false)
		}

		runtime.Gosched()
	}
}
