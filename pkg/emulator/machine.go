// Package emulator implements a byte-addressable virtual machine for the instruction
// set encoded by github.com/petrouvik/shelfctl/pkg/encoder: 16 GPRs, 3 CSRs, sparse
// memory, a small memory-mapped terminal/timer region, and software/hardware interrupt
// arbitration, following the reference emulator's fetch/decode/execute/interrupt loop.
package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/encoder"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

// Special-purpose register indices, fixed by the architecture.
const (
	PC = encoder.PC
	SP = encoder.SP

	StatusCSR  = encoder.StatusCSR
	HandlerCSR = encoder.HandlerCSR
	CauseCSR   = encoder.CauseCSR
)

// StartAddress is the PC value loaded before the first fetch.
const StartAddress uint32 = 0x40000000

// Memory-mapped register addresses. Any other address at or above MmioBase is an
// InvalidMmioAccess.
const (
	MmioBase     uint32 = 0xFFFFFF00
	TermOutAddr  uint32 = 0xFFFFFF00
	TermInAddr   uint32 = 0xFFFFFF04
	TimerCfgAddr uint32 = 0xFFFFFF10
)

// Status flag bits.
const (
	statusTimerMask    = 1 << 0
	statusTerminalMask = 1 << 1
	statusGlobalMask   = 1 << 2
)

// Cause values pushed onto the stack by handleInterrupts.
const (
	CauseIllegalInstruction uint32 = 1
	CauseTimer              uint32 = 2
	CauseTerminal           uint32 = 3
	CauseSoftware           uint32 = 4
)

// timerPeriods maps a tim_cfg setting to its period in milliseconds; any value outside
// this table falls back to the 500ms default, same as the reference firmware.
var timerPeriods = map[uint32]int{
	0x0: 500,
	0x1: 1000,
	0x2: 1500,
	0x3: 2000,
	0x4: 5000,
	0x5: 10000,
	0x6: 30000,
	0x7: 60000,
}

func timerPeriodMillis(cfg uint32) int {
	if p, ok := timerPeriods[cfg]; ok {
		return p
	}
	return 500
}

// Terminal is the pluggable I/O surface the terminal actor reads from and writes to; it
// exists so tests can exercise the machine without touching a real tty.
type Terminal interface {
	// ReadByte returns a byte and true if one is available without blocking, or
	// (0, false) if none is ready yet.
	ReadByte() (byte, bool)
	// WriteByte emits a single byte of processor output.
	WriteByte(b byte) error
}

// Machine is a single instance of the virtual processor plus its sparse memory and
// memory-mapped peripherals. Zero value is not usable; build one with New.
type Machine struct {
	gpr [16]uint32
	csr [3]uint32

	mem map[uint32]byte

	running atomic.Bool

	illegalInstruction  bool
	softwareInterrupt   bool
	terminalInterrupt   atomic.Bool
	timerInterrupt      atomic.Bool

	termOut       atomic.Uint32
	terminalBusy  atomic.Bool
	termIn        atomic.Uint32
	timerCfg      atomic.Uint32
	timerStarted  atomic.Bool

	term   Terminal
	logger *slog.Logger
	runCtx context.Context

	halted  bool
	haltErr error

	breakpoints map[uint32]bool
}

// New builds an empty Machine with all registers, memory and CSRs zeroed, ready for
// LoadImage followed by Run. A nil Terminal disables terminal I/O (term_in always reads
// 0, term_out writes are accepted and discarded).
func New(term Terminal, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		mem:         make(map[uint32]byte),
		term:        term,
		logger:      logger,
		runCtx:      context.Background(),
		breakpoints: make(map[uint32]bool),
	}
}

// LoadImage populates sparse memory from a decoded hex image: a sequence of (address,
// byte) pairs, following the reference loader's one-value-per-address contract.
func (m *Machine) LoadImage(pairs map[uint32]byte) {
	for addr, b := range pairs {
		m.mem[addr] = b
	}
}

// Registers returns a snapshot of the 16 general-purpose registers.
func (m *Machine) Registers() [16]uint32 {
	return m.gpr
}

// CSRs returns a snapshot of the 3 control-and-status registers (STATUS, HANDLER, CAUSE).
func (m *Machine) CSRs() [3]uint32 {
	return m.csr
}

// Halted reports whether the fetch/execute loop has stopped, and the error (nil on a
// clean halt instruction) that stopped it.
func (m *Machine) Halted() (bool, error) {
	return m.halted, m.haltErr
}

// ReadByteAt peeks a single byte of ordinary memory, bypassing MMIO routing entirely.
// It exists for read-only tooling (the debugger's disassembly/hex-dump panels) that
// needs to look at arbitrary addresses without the side effects a real instruction's
// memory access would have; an unmapped address reads back as 0.
func (m *Machine) ReadByteAt(addr uint32) byte {
	return m.mem[addr]
}

// DumpRegisters renders all 16 GPRs the way the reference emulator's printRegisters
// does: four per line, zero-padded 8-digit hex.
func (m *Machine) DumpRegisters() string {
	s := ""
	for i := 0; i < 16; i++ {
		s += fmt.Sprintf("%3s=0x%08x  ", fmt.Sprintf("r%d", i), m.gpr[i])
		if i%4 == 3 {
			s += "\n"
		}
	}
	return s
}

// readByte reads one byte from ordinary (non-MMIO) memory; an unmapped address reads
// back as 0, letting a program read wherever it wants just like the reference emulator.
func (m *Machine) readByte(addr uint32) (byte, error) {
	if addr >= MmioBase {
		return 0, utils.MakeError(asmerr.ErrInvalidMmioAccess, "byte-granularity read at 0x%08X", addr)
	}
	return m.mem[addr], nil
}

func (m *Machine) writeByte(addr uint32, v byte) error {
	if addr >= MmioBase {
		return utils.MakeError(asmerr.ErrInvalidMmioAccess, "byte-granularity write at 0x%08X", addr)
	}
	m.mem[addr] = v
	return nil
}

// readWord reads a 4-byte little-endian word, routing to the MMIO handlers when the
// address falls in the mapped region.
func (m *Machine) readWord(addr uint32) (uint32, error) {
	if addr > 0xFFFFFFFF-3 {
		return 0, utils.MakeError(asmerr.ErrMemoryBoundary, "word read crosses address space boundary at 0x%08X", addr)
	}
	if addr >= MmioBase {
		switch addr {
		case TermInAddr:
			return m.termIn.Load(), nil
		case TimerCfgAddr:
			return m.timerCfg.Load(), nil
		default:
			return 0, utils.MakeError(asmerr.ErrInvalidMmioAccess, "no mapped register at 0x%08X", addr)
		}
	}

	var value uint32
	for i := 0; i < 4; i++ {
		b, err := m.readByte(addr + uint32(i))
		if err != nil {
			return 0, err
		}
		value |= uint32(b) << (8 * i)
	}
	return value, nil
}

// writeWord writes a 4-byte little-endian word. A write to TermOutAddr rendezvous-spins
// with the terminal actor (see terminal.go) the same way the reference C++ busy-waits
// two atomic<bool> signals instead of blocking on a channel.
func (m *Machine) writeWord(addr uint32, v uint32) error {
	if addr > 0xFFFFFFFF-3 {
		return utils.MakeError(asmerr.ErrMemoryBoundary, "word write crosses address space boundary at 0x%08X", addr)
	}
	if addr >= MmioBase {
		switch addr {
		case TermOutAddr:
			m.sendToTerminal(v)
			return nil
		case TimerCfgAddr:
			m.timerCfg.Store(v)
			m.timerStarted.Store(true)
			return nil
		default:
			return utils.MakeError(asmerr.ErrInvalidMmioAccess, "no mapped register at 0x%08X", addr)
		}
	}

	for i := 0; i < 4; i++ {
		if err := m.writeByte(addr+uint32(i), byte(v>>(8*i))); err != nil {
			return err
		}
	}
	return nil
}

// StartActors launches the timer and terminal actor goroutines bound to ctx and returns
// a stop function that cancels them and blocks until both have exited (joining, in the
// reference implementation's std::thread terms). Run calls this once for a free-running
// emulation; the debugger calls it once up front and then drives the machine with Step/
// Continue instead.
func (m *Machine) StartActors(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	m.runCtx = ctx

	done := make(chan struct{})
	go func() { defer close(done); m.runTimer(ctx) }()

	termDone := make(chan struct{})
	go func() { defer close(termDone); m.runTerminal(ctx) }()

	return func() {
		cancel()
		<-done
		<-termDone
	}
}

// Step executes exactly one fetch/decode/execute/handleInterrupts cycle: the single-
// stepping primitive behind the debugger's `step` command. Run and Continue both drive
// it in a tight loop for free-running execution.
func (m *Machine) Step() error {
	instr, err := m.fetch()
	if err != nil {
		m.halted = true
		m.haltErr = err
		return err
	}
	if err := m.decodeAndExecute(instr); err != nil {
		m.halted = true
		m.haltErr = err
		return err
	}
	if err := m.handleInterrupts(); err != nil {
		m.halted = true
		m.haltErr = err
		return err
	}
	if !m.running.Load() {
		m.halted = true
	}
	return nil
}

// Continue steps the machine until it halts, hits a fatal error, reaches a breakpoint
// address, or ctx is cancelled. It assumes actors are already running (StartActors has
// been called); Run wraps it with that setup for the non-interactive case.
func (m *Machine) Continue(ctx context.Context) error {
	for m.running.Load() {
		select {
		case <-ctx.Done():
			m.haltErr = ctx.Err()
			m.halted = true
			return m.haltErr
		default:
		}
		if err := m.Step(); err != nil {
			return err
		}
		if m.breakpoints[m.gpr[PC]] {
			return nil
		}
	}
	m.halted = true
	return nil
}

// SetBreakpoint/ClearBreakpoint/Breakpoints back the debugger's `break ADDR` command.
func (m *Machine) SetBreakpoint(addr uint32)   { m.breakpoints[addr] = true }
func (m *Machine) ClearBreakpoint(addr uint32) { delete(m.breakpoints, addr) }
func (m *Machine) Breakpoints() []uint32 {
	out := make([]uint32, 0, len(m.breakpoints))
	for addr := range m.breakpoints {
		out = append(out, addr)
	}
	return out
}

// Start sets the processor running with PC at StartAddress, without touching the actor
// goroutines; a caller that wants single-stepping (the debugger) calls StartActors and
// Start separately instead of going through Run.
func (m *Machine) Start() {
	m.running.Store(true)
	m.gpr[PC] = StartAddress
}

// Run drives the fetch/decode/execute/interrupt loop until a halt instruction, a fatal
// memory error, or ctx cancellation, starting and joining the timer/terminal actors
// around the loop. The deferred stop() only cancels and joins those actors; restoring
// the host terminal is left to the caller.
func (m *Machine) Run(ctx context.Context) error {
	m.Start()

	stop := m.StartActors(ctx)
	defer stop()

	for m.running.Load() {
		select {
		case <-ctx.Done():
			m.haltErr = ctx.Err()
			m.halted = true
			return m.haltErr
		default:
		}
		if err := m.Step(); err != nil {
			return err
		}
	}

	m.halted = true
	m.logger.Info("processor halted", "r1", m.gpr[1])
	return nil
}

func (m *Machine) fetch() (encoder.Word, error) {
	raw, err := m.readWord(m.gpr[PC])
	if err != nil {
		return encoder.Word{}, err
	}
	m.gpr[PC] += 4
	var w encoder.Word
	w[0] = byte(raw)
	w[1] = byte(raw >> 8)
	w[2] = byte(raw >> 16)
	w[3] = byte(raw >> 24)
	return w, nil
}

func (m *Machine) illegal() {
	m.illegalInstruction = true
}

// setGPR writes a general-purpose register, honoring r0's hardwired-zero contract: any
// write to it is silently dropped.
func (m *Machine) setGPR(r uint8, v uint32) {
	if r == 0 {
		return
	}
	m.gpr[r] = v
}

// csrGet/csrSet guard the 3-entry CSR file against out-of-range nibbles; the reference
// implementation indexes a raw C array here (undefined behavior on a malformed image),
// so the Go port treats an out-of-range CSR index as an illegal instruction instead.
func (m *Machine) csrGet(r uint8) (uint32, bool) {
	if int(r) >= len(m.csr) {
		return 0, false
	}
	return m.csr[r], true
}

func (m *Machine) csrSet(r uint8, v uint32) bool {
	if int(r) >= len(m.csr) {
		return false
	}
	m.csr[r] = v
	return true
}
