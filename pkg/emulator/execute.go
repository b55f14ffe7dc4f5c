package emulator

import (
	"github.com/petrouvik/shelfctl/pkg/encoder"
)

// decodeAndExecute unpacks one fetched word and dispatches to the handler for its
// opcode, exactly the ten-way branch the reference emulator's instructionDecodeAndExecute
// performs; any opcode outside 0x0-0x9 raises IllegalInstruction. A non-nil return is a
// fatal memory/MMIO error (boundary crossing, byte access inside the mapped region, bad
// register address) that stops the run loop outright, distinct from the illegal-
// instruction pending bit, which is a recoverable in-band trap handled by
// handleInterrupts on the next cycle.
func (m *Machine) decodeAndExecute(w encoder.Word) error {
	d := encoder.Decode(w)

	switch d.Opcode {
	case encoder.OpHalt:
		m.execHalt(d)
	case encoder.OpInt:
		m.execInt(d)
	case encoder.OpCall:
		return m.execCall(d)
	case encoder.OpJump:
		return m.execJump(d)
	case encoder.OpXchg:
		m.execXchg(d)
	case encoder.OpArith:
		m.execArith(d)
	case encoder.OpLogic:
		m.execLogic(d)
	case encoder.OpShift:
		m.execShift(d)
	case encoder.OpStore:
		return m.execStore(d)
	case encoder.OpLoad:
		return m.execLoad(d)
	default:
		m.illegal()
	}
	return nil
}

func (m *Machine) execHalt(d encoder.Decoded) {
	if d.Mod != 0 || d.A != 0 || d.B != 0 || d.C != 0 || d.Disp != 0 {
		m.illegal()
	}
	m.running.Store(false)
}

func (m *Machine) execInt(d encoder.Decoded) {
	if d.Mod != 0 || d.A != 0 || d.B != 0 || d.C != 0 || d.Disp != 0 {
		m.illegal()
	}
	m.softwareInterrupt = true
}

func (m *Machine) pushWord(v uint32) error {
	m.gpr[SP] -= 4
	return m.writeWord(m.gpr[SP], v)
}

func (m *Machine) execCall(d encoder.Decoded) error {
	if d.C != 0 {
		m.illegal()
		return nil
	}
	switch d.Mod {
	case 0:
		if err := m.pushWord(m.gpr[PC]); err != nil {
			return err
		}
		m.gpr[PC] = m.gpr[d.A] + m.gpr[d.B] + uint32(d.Disp)
	case 1:
		if err := m.pushWord(m.gpr[PC]); err != nil {
			return err
		}
		target, err := m.readWord(m.gpr[d.A] + m.gpr[d.B] + uint32(d.Disp))
		if err != nil {
			return err
		}
		m.gpr[PC] = target
	default:
		m.illegal()
	}
	return nil
}

func (m *Machine) execJump(d encoder.Decoded) error {
	addr := m.gpr[d.A] + uint32(d.Disp)

	switch d.Mod {
	case 0:
		m.gpr[PC] = addr
	case 1:
		if m.gpr[d.B] == m.gpr[d.C] {
			m.gpr[PC] = addr
		}
	case 2:
		if m.gpr[d.B] != m.gpr[d.C] {
			m.gpr[PC] = addr
		}
	case 3:
		if int32(m.gpr[d.B]) > int32(m.gpr[d.C]) {
			m.gpr[PC] = addr
		}
	case 8:
		return m.jumpIndirect(addr, true)
	case 9:
		return m.jumpIndirect(addr, m.gpr[d.B] == m.gpr[d.C])
	case 10:
		return m.jumpIndirect(addr, m.gpr[d.B] != m.gpr[d.C])
	case 11:
		return m.jumpIndirect(addr, int32(m.gpr[d.B]) > int32(m.gpr[d.C]))
	default:
		m.illegal()
	}
	return nil
}

func (m *Machine) jumpIndirect(addr uint32, take bool) error {
	if !take {
		return nil
	}
	target, err := m.readWord(addr)
	if err != nil {
		return err
	}
	m.gpr[PC] = target
	return nil
}

func (m *Machine) execXchg(d encoder.Decoded) {
	if d.Mod != 0 || d.A != 0 || d.Disp != 0 {
		m.illegal()
	}
	temp := m.gpr[d.B]
	if d.B == 0 {
		m.gpr[d.B] = 0
	} else {
		m.gpr[d.B] = m.gpr[d.C]
	}
	if d.C == 0 {
		m.gpr[d.C] = 0
	} else {
		m.gpr[d.C] = temp
	}
}

func (m *Machine) execArith(d encoder.Decoded) {
	if d.Disp != 0 {
		m.illegal()
	}
	switch d.Mod {
	case 0:
		m.setGPR(d.A, m.gpr[d.B]+m.gpr[d.C])
	case 1:
		m.setGPR(d.A, m.gpr[d.B]-m.gpr[d.C])
	case 2:
		m.setGPR(d.A, m.gpr[d.B]*m.gpr[d.C])
	case 3:
		if m.gpr[d.C] == 0 {
			m.illegal()
			return
		}
		m.setGPR(d.A, m.gpr[d.B]/m.gpr[d.C])
	default:
		m.illegal()
	}
}

func (m *Machine) execLogic(d encoder.Decoded) {
	if d.Disp != 0 {
		m.illegal()
	}
	switch d.Mod {
	case 0:
		m.setGPR(d.A, ^m.gpr[d.B])
	case 1:
		m.setGPR(d.A, m.gpr[d.B]&m.gpr[d.C])
	case 2:
		m.setGPR(d.A, m.gpr[d.B]|m.gpr[d.C])
	case 3:
		m.setGPR(d.A, m.gpr[d.B]^m.gpr[d.C])
	default:
		m.illegal()
	}
}

func (m *Machine) execShift(d encoder.Decoded) {
	if d.Disp != 0 {
		m.illegal()
	}
	switch d.Mod {
	case 0:
		m.setGPR(d.A, m.gpr[d.B]<<(m.gpr[d.C]&0x1F))
	case 1:
		m.setGPR(d.A, m.gpr[d.B]>>(m.gpr[d.C]&0x1F))
	default:
		m.illegal()
	}
}

func (m *Machine) execStore(d encoder.Decoded) error {
	switch d.Mod {
	case 0:
		return m.writeWord(m.gpr[d.A]+m.gpr[d.B]+uint32(d.Disp), m.gpr[d.C])
	case 1:
		m.setGPR(d.A, m.gpr[d.A]+uint32(d.Disp))
		return m.writeWord(m.gpr[d.A], m.gpr[d.C])
	case 2:
		target, err := m.readWord(m.gpr[d.A] + m.gpr[d.B] + uint32(d.Disp))
		if err != nil {
			return err
		}
		return m.writeWord(target, m.gpr[d.C])
	default:
		m.illegal()
		return nil
	}
}

func (m *Machine) execLoad(d encoder.Decoded) error {
	switch d.Mod {
	case 0:
		v, ok := m.csrGet(d.B)
		if !ok {
			m.illegal()
			return nil
		}
		m.setGPR(d.A, v)
	case 1:
		m.setGPR(d.A, m.gpr[d.B]+uint32(d.Disp))
	case 2:
		v, err := m.readWord(m.gpr[d.B] + m.gpr[d.C] + uint32(d.Disp))
		if err != nil {
			return err
		}
		m.setGPR(d.A, v)
	case 3:
		v, err := m.readWord(m.gpr[d.B])
		if err != nil {
			return err
		}
		m.setGPR(d.A, v)
		m.setGPR(d.B, m.gpr[d.B]+uint32(d.Disp))
	case 4:
		if !m.csrSet(d.A, m.gpr[d.B]) {
			m.illegal()
		}
	case 5:
		cur, ok := m.csrGet(d.B)
		if !ok || !m.csrSet(d.A, cur|uint32(d.Disp)) {
			m.illegal()
		}
	case 6:
		v, err := m.readWord(m.gpr[d.B] + m.gpr[d.C] + uint32(d.Disp))
		if err != nil {
			return err
		}
		if !m.csrSet(d.A, v) {
			m.illegal()
		}
	case 7:
		v, err := m.readWord(m.gpr[d.B])
		if err != nil {
			return err
		}
		if !m.csrSet(d.A, v) {
			m.illegal()
			return nil
		}
		m.setGPR(d.B, m.gpr[d.B]+uint32(d.Disp))
	default:
		m.illegal()
	}
	return nil
}
