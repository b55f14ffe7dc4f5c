package emulator

// handleInterrupts runs once per fetch/execute cycle, after the instruction has run,
// mirroring the reference emulator's handleInterrupts priority chain: an illegal
// instruction outranks a software trap, which outranks the two maskable hardware lines
// (timer then terminal), each of which only fires while STATUS's global mask and its own
// per-line mask are both clear.
func (m *Machine) handleInterrupts() error {
	switch {
	case m.illegalInstruction:
		if err := m.enterTrap(CauseIllegalInstruction, true); err != nil {
			return err
		}
		m.illegalInstruction = false

	case m.softwareInterrupt:
		if err := m.enterTrap(CauseSoftware, false); err != nil {
			return err
		}
		m.csr[StatusCSR] &^= statusTimerMask
		m.softwareInterrupt = false

	case m.csr[StatusCSR]&statusGlobalMask == 0:
		switch {
		case m.timerInterrupt.Load() && m.csr[StatusCSR]&statusTimerMask == 0:
			if err := m.enterTrap(CauseTimer, true); err != nil {
				return err
			}
			m.timerInterrupt.Store(false)
		case m.terminalInterrupt.Load() && m.csr[StatusCSR]&statusTerminalMask == 0:
			if err := m.enterTrap(CauseTerminal, true); err != nil {
				return err
			}
			m.terminalInterrupt.Store(false)
		}
	}
	return nil
}

// enterTrap pushes STATUS then PC, sets CAUSE, optionally masks all interrupts, and
// transfers control to the HANDLER CSR. For a software interrupt (cause=4) the caller
// passes maskAll=false and clears the timer mask bit itself, so the global mask is not
// raised.
func (m *Machine) enterTrap(cause uint32, maskAll bool) error {
	if err := m.pushWord(m.csr[StatusCSR]); err != nil {
		return err
	}
	if err := m.pushWord(m.gpr[PC]); err != nil {
		return err
	}
	m.csr[CauseCSR] = cause
	if maskAll {
		m.csr[StatusCSR] |= statusGlobalMask
	}
	m.gpr[PC] = m.csr[HandlerCSR]
	return nil
}
