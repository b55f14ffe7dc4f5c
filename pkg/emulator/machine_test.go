package emulator

import (
	"context"
	"testing"

	"github.com/petrouvik/shelfctl/pkg/encoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadAt lays out a flat byte slice starting at base into a (address -> byte) map, the
// shape LoadImage expects.
func loadAt(base uint32, bytes ...[]byte) map[uint32]byte {
	out := make(map[uint32]byte)
	addr := base
	for _, chunk := range bytes {
		for _, b := range chunk {
			out[addr] = b
			addr++
		}
	}
	return out
}

func mustEncode(t *testing.T, b []byte, err error) []byte {
	t.Helper()
	require.NoError(t, err)
	return b
}

func TestHaltAndRegisterDump(t *testing.T) {
	ldImm := mustEncode(t, encoder.LdImmediate(1, 42))
	halt := mustEncode(t, encoder.Halt())

	m := New(nil, nil)
	m.LoadImage(loadAt(StartAddress, ldImm, halt))

	err := m.Run(context.Background())
	require.NoError(t, err)

	halted, haltErr := m.Halted()
	assert.True(t, halted)
	assert.NoError(t, haltErr)
	assert.Equal(t, uint32(42), m.Registers()[1])
}

func TestIllegalInstructionEntersTrap(t *testing.T) {
	// halt with a nonzero A field (byte1 = (a<<4)|b = 0x10) is illegal; its word still
	// executes (setting emulatorRunning=false per the reference semantics), but the
	// illegal bit fires the trap on the very next handleInterrupts pass, which runs
	// before the loop re-checks the running flag.
	illegalHalt := []byte{0x00, 0x10, 0x00, 0x00}
	halt := mustEncode(t, encoder.Halt())

	m := New(nil, nil)
	const handlerAddr = uint32(0x40001000)
	m.csr[HandlerCSR] = handlerAddr
	m.gpr[SP] = 0x40010000 // trap entry pushes STATUS and PC; SP=0 would push into MMIO
	m.LoadImage(loadAt(StartAddress, illegalHalt, halt))
	// place a halt at the handler so the trapped execution terminates cleanly too.
	for addr, b := range loadAt(handlerAddr, halt) {
		m.mem[addr] = b
	}

	err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CauseIllegalInstruction, m.CSRs()[CauseCSR])
}

func TestSoftwareInterruptClearsTimerMaskAndJumpsToHandler(t *testing.T) {
	softInt := mustEncode(t, encoder.Int())
	halt := mustEncode(t, encoder.Halt())

	m := New(nil, nil)
	const handlerAddr = uint32(0x40002000)
	m.csr[HandlerCSR] = handlerAddr
	m.gpr[SP] = 0x40010000             // trap entry pushes STATUS and PC; SP=0 would push into MMIO
	m.csr[StatusCSR] = statusTimerMask // timer masked beforehand
	m.LoadImage(loadAt(StartAddress, softInt, halt))
	for addr, b := range loadAt(handlerAddr, halt) {
		m.mem[addr] = b
	}

	err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CauseSoftware, m.CSRs()[CauseCSR])
	assert.Equal(t, uint32(0), m.CSRs()[StatusCSR]&statusTimerMask, "software trap clears the timer mask bit")
}

func TestDivideByZeroIsIllegal(t *testing.T) {
	// r2 stays 0; dividing r1 (arbitrary) by r2 must trap as illegal, not panic.
	div := mustEncode(t, encoder.Div(2, 1)) // gprS=2 gprD=1 -> gpr[1] <= gpr[1]/gpr[2]
	halt := mustEncode(t, encoder.Halt())

	m := New(nil, nil)
	const handlerAddr = uint32(0x40003000)
	m.csr[HandlerCSR] = handlerAddr
	m.gpr[SP] = 0x40010000 // trap entry pushes STATUS and PC; SP=0 would push into MMIO
	m.LoadImage(loadAt(StartAddress, div, halt))
	for addr, b := range loadAt(handlerAddr, halt) {
		m.mem[addr] = b
	}

	err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CauseIllegalInstruction, m.CSRs()[CauseCSR])
}

func TestMmioByteAccessIsFatal(t *testing.T) {
	// Arithmetic/logic/etc only ever touch registers; to exercise a byte-level MMIO
	// fault we drive the private readByte/writeByte helpers directly, the same surface
	// a `ld` through a byte-typed opcode would hit if this architecture had one.
	m := New(nil, nil)
	_, err := m.readByte(MmioBase)
	require.Error(t, err)
	err = m.writeByte(MmioBase+4, 0xFF)
	require.Error(t, err)
}

func TestUnmappedWordReadsZero(t *testing.T) {
	m := New(nil, nil)
	v, err := m.readWord(0x1234)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)
}

func TestR0WriteIsNoop(t *testing.T) {
	m := New(nil, nil)
	m.setGPR(0, 0xDEADBEEF)
	assert.Equal(t, uint32(0), m.Registers()[0])
}
