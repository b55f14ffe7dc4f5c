// Package debugger implements the interactive `shelfctl debug` TUI: a tview application
// driving the same *emulator.Machine a non-interactive run would use, one Step/Continue
// call at a time instead of free-running.
package debugger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/petrouvik/shelfctl/pkg/emulator"
	"github.com/petrouvik/shelfctl/pkg/encoder"
)

// Debugger wires a *tview.Application around an *emulator.Machine: a register panel, a
// disassembly panel centered on PC, a memory hex-dump panel, and a command line
// supporting step/continue/break ADDR/reg NAME.
type Debugger struct {
	machine *emulator.Machine
	reader  MemoryReader

	app     *tview.Application
	regs    *tview.TextView
	disasm  *tview.TextView
	memView *tview.TextView
	cmdline *tview.InputField
	status  *tview.TextView
}

// MemoryReader lets the disassembly/hex panels read raw bytes back out of the machine
// without pkg/emulator exposing its sparse memory map directly.
type MemoryReader interface {
	ReadByteAt(addr uint32) byte
}

// New builds a Debugger around an already-loaded Machine; call Run to start the TUI.
func New(m *emulator.Machine, reader MemoryReader) *Debugger {
	d := &Debugger{
		machine: m,
		reader:  reader,
		app:     tview.NewApplication(),
		regs:    tview.NewTextView().SetDynamicColors(true),
		disasm:  tview.NewTextView().SetDynamicColors(true),
		memView: tview.NewTextView().SetDynamicColors(true),
		status:  tview.NewTextView().SetDynamicColors(true),
	}
	d.regs.SetBorder(true).SetTitle(" registers ")
	d.disasm.SetBorder(true).SetTitle(" disassembly ")
	d.memView.SetBorder(true).SetTitle(" memory ")
	d.status.SetBorder(true).SetTitle(" status ")

	d.cmdline = tview.NewInputField().SetLabel("> ")
	d.cmdline.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		d.runCommand(d.cmdline.GetText())
		d.cmdline.SetText("")
		d.refresh()
	})
	return d
}

func (d *Debugger) layout() tview.Primitive {
	top := tview.NewFlex().
		AddItem(d.regs, 0, 1, false).
		AddItem(d.status, 0, 1, false)
	middle := tview.NewFlex().
		AddItem(d.disasm, 0, 1, false).
		AddItem(d.memView, 0, 1, false)
	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, 8, 0, false).
		AddItem(middle, 0, 1, false).
		AddItem(d.cmdline, 1, 0, true)
}

// Run starts the tview event loop. It redraws once immediately, then once per tick of a
// background ticker (so register/memory changes made by `continue` or by the machine's
// own timer/terminal actors show up without waiting on a keypress), and on every command
// submission. ctx cancellation stops the ticker and the underlying application.
func (d *Debugger) Run(ctx context.Context) error {
	d.refresh()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				d.app.Stop()
				return
			case <-ticker.C:
				d.app.QueueUpdateDraw(d.refresh)
			}
		}
	}()

	return d.app.SetRoot(d.layout(), true).SetFocus(d.cmdline).Run()
}

func (d *Debugger) runCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "step":
		if err := d.machine.Step(); err != nil {
			d.setStatusLine(fmt.Sprintf("step error: %v", err))
		}
	case "continue", "c":
		if err := d.machine.Continue(context.Background()); err != nil {
			d.setStatusLine(fmt.Sprintf("continue error: %v", err))
		}
	case "break", "b":
		if len(fields) < 2 {
			d.setStatusLine("usage: break ADDR")
			return
		}
		addr, err := parseAddr(fields[1])
		if err != nil {
			d.setStatusLine(fmt.Sprintf("bad address: %v", err))
			return
		}
		d.machine.SetBreakpoint(addr)
		d.setStatusLine(fmt.Sprintf("breakpoint set at 0x%08X", addr))
	case "reg":
		if len(fields) < 2 {
			d.setStatusLine("usage: reg NAME")
			return
		}
		d.setStatusLine(d.describeRegister(fields[1]))
	default:
		d.setStatusLine("unknown command: " + fields[0])
	}
}

func (d *Debugger) describeRegister(name string) string {
	regs := d.machine.Registers()
	switch strings.ToLower(name) {
	case "pc":
		return fmt.Sprintf("pc = 0x%08X", regs[emulator.PC])
	case "sp":
		return fmt.Sprintf("sp = 0x%08X", regs[emulator.SP])
	}
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(name), "r"))
	if err != nil || n < 0 || n > 15 {
		return "unknown register: " + name
	}
	return fmt.Sprintf("r%d = 0x%08X", n, regs[n])
}

func parseAddr(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

func (d *Debugger) setStatusLine(s string) {
	d.status.SetText(s)
}

func (d *Debugger) refresh() {
	d.regs.SetText(d.machine.DumpRegisters())
	d.disasm.SetText(d.disassembleAroundPC())
	d.memView.SetText(d.hexDumpAroundPC())
}

// disassembleAroundPC renders a handful of words centered on PC using the pure Decoder,
// never re-encoding anything: the debugger only ever reads instructions back.
func (d *Debugger) disassembleAroundPC() string {
	if d.reader == nil {
		return ""
	}
	regs := d.machine.Registers()
	pc := regs[emulator.PC]
	var b strings.Builder
	start := pc - 4*4
	for i := 0; i < 9; i++ {
		addr := start + uint32(i)*4
		var word encoder.Word
		for j := 0; j < 4; j++ {
			word[j] = d.reader.ReadByteAt(addr + uint32(j))
		}
		dec := encoder.Decode(word)
		marker := "  "
		if addr == pc {
			marker = "->"
		}
		fmt.Fprintf(&b, "%s 0x%08X: op=%X mod=%X a=%d b=%d c=%d disp=%d\n",
			marker, addr, dec.Opcode, dec.Mod, dec.A, dec.B, dec.C, dec.Disp)
	}
	return b.String()
}

func (d *Debugger) hexDumpAroundPC() string {
	if d.reader == nil {
		return ""
	}
	regs := d.machine.Registers()
	base := regs[emulator.PC] - 16
	var b strings.Builder
	for row := 0; row < 8; row++ {
		addr := base + uint32(row*8)
		fmt.Fprintf(&b, "0x%08X: ", addr)
		for col := 0; col < 8; col++ {
			fmt.Fprintf(&b, "%02X ", d.reader.ReadByteAt(addr+uint32(col)))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
