// Package encoder implements the pure (mnemonic, operands) -> bytes instruction encoder
// and its inverse Decoder, following the fixed four-byte word layout:
//
//	b0 = (opcode<<4) | mod
//	b1 = (A<<4) | B
//	b2 = (C<<4) | disp[11:8]
//	b3 = disp[7:0]
//
// Each emitter is a pure function: it never touches assembler or linker state, it only
// returns bytes (or an error); where a symbol patch is needed, its byte offset is the
// matching PatchOffset* constant declared alongside the emitter, following the teacher's BitView bit-packing idiom (github.com/petrouvik/shelfctl/pkg/utils).
package encoder

import (
	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

// Register aliases fixed by the architecture.
const (
	PC     = 15
	SP     = 14
	StatusCSR = 0
	HandlerCSR = 1
	CauseCSR = 2
)

const (
	MinDisp = -2048
	MaxDisp = 2047
)

// Opcode is the high nibble of byte 0.
type Opcode uint8

const (
	OpHalt  Opcode = 0x0
	OpInt   Opcode = 0x1
	OpCall  Opcode = 0x2
	OpJump  Opcode = 0x3
	OpXchg  Opcode = 0x4
	OpArith Opcode = 0x5
	OpLogic Opcode = 0x6
	OpShift Opcode = 0x7
	OpStore Opcode = 0x8
	OpLoad  Opcode = 0x9
)

// Word is a single encoded 4-byte instruction, little-endian on disk but built here as
// four already-ordered bytes: Bytes()[0] is byte0 (opcode|mod), ... Bytes()[3] is byte3.
type Word [4]byte

func (w Word) Bytes() []byte { return w[:] }

// makeWord packs one instruction word, validating register indices and the 12-bit signed
// displacement range. This is the single choke point every emitter below funnels through,
// mirroring the source's makeInstruction.
func makeWord(opcode Opcode, mod, a, b, c uint8, disp int32) (Word, error) {
	if disp < MinDisp || disp > MaxDisp {
		return Word{}, utils.MakeError(asmerr.ErrOutOfRangeDisp, "disp %d outside [%d,%d]", disp, MinDisp, MaxDisp)
	}
	if a > 15 || b > 15 || c > 15 {
		return Word{}, utils.MakeError(asmerr.ErrInternalInvariant, "register index out of range: a=%d b=%d c=%d", a, b, c)
	}

	var w Word
	byte0 := uint32(0)
	view0 := utils.CreateBitView(&byte0)
	view0.Write(uint32(opcode), 4, 4)
	view0.Write(uint32(mod), 0, 4)
	w[0] = byte(byte0)

	w[1] = (a << 4) | (b & 0x0F)

	udisp := uint16(int16(disp)) // two's complement 16-bit view of the 12-bit value
	w[2] = (c << 4) | byte((udisp>>8)&0x0F)
	w[3] = byte(udisp & 0xFF)

	return w, nil
}

func littleEndian32(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

func cat(chunks ...[]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// Halt, Int are the two all-zero-field single-word instructions.
func Halt() ([]byte, error) {
	w, err := makeWord(OpHalt, 0, 0, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func Int() ([]byte, error) {
	w, err := makeWord(OpInt, 0, 0, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Iret encodes "pop status; pop pc" as two words. It is not a distinct opcode: the
// emulator decodes and executes it as exactly these two load instructions in sequence.
func Iret() ([]byte, error) {
	first, err := makeWord(OpLoad, 0x6, StatusCSR, SP, 0, 4)
	if err != nil {
		return nil, err
	}
	second, err := makeWord(OpLoad, 0x3, PC, SP, 0, 8)
	if err != nil {
		return nil, err
	}
	return cat(first.Bytes(), second.Bytes()), nil
}

func Ret() ([]byte, error) {
	w, err := makeWord(OpLoad, 0x3, PC, SP, 0, 4)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Call emits the 2-word-plus-literal call sequence; the embedded 32-bit target address
// starts at byte offset 8 of the returned slice (PatchOffsetCall).
const PatchOffsetCall = 8

func Call(address int32) ([]byte, error) {
	i1, err := makeWord(OpCall, 0x1, PC, 0, 0, 4)
	if err != nil {
		return nil, err
	}
	i2, err := makeWord(OpJump, 0x0, PC, 0, 0, 4)
	if err != nil {
		return nil, err
	}
	return cat(i1.Bytes(), i2.Bytes(), littleEndian32(address)), nil
}

func Push(gpr uint8) ([]byte, error) {
	w, err := makeWord(OpStore, 0x1, SP, 0, gpr, -4)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func Pop(gpr uint8) ([]byte, error) {
	w, err := makeWord(OpLoad, 0x3, gpr, SP, 0, 4)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Jmp emits the 1-word-plus-literal unconditional jump; the target address starts at
// byte offset 4 (PatchOffsetJmp).
const PatchOffsetJmp = 4

func Jmp(address int32) ([]byte, error) {
	i1, err := makeWord(OpJump, 0x8, PC, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return cat(i1.Bytes(), littleEndian32(address)), nil
}

// ModBeq, ModBne and ModBgt are the mod nibbles of the three conditional-branch mnemonics.
const (
	ModBeq = 0x9
	ModBne = 0xA
	ModBgt = 0xB
)

// PatchOffsetBranch is the patch offset for beq/bne/bgt's embedded address.
const PatchOffsetBranch = 8

func branch(mod uint8, gpr1, gpr2 uint8, address int32) ([]byte, error) {
	i1, err := makeWord(OpJump, mod, PC, gpr1, gpr2, 4)
	if err != nil {
		return nil, err
	}
	i2, err := makeWord(OpJump, 0x0, PC, 0, 0, 4)
	if err != nil {
		return nil, err
	}
	return cat(i1.Bytes(), i2.Bytes(), littleEndian32(address)), nil
}

func Beq(gpr1, gpr2 uint8, address int32) ([]byte, error) { return branch(ModBeq, gpr1, gpr2, address) }
func Bne(gpr1, gpr2 uint8, address int32) ([]byte, error) { return branch(ModBne, gpr1, gpr2, address) }
func Bgt(gpr1, gpr2 uint8, address int32) ([]byte, error) { return branch(ModBgt, gpr1, gpr2, address) }

func Xchg(gprS, gprD uint8) ([]byte, error) {
	w, err := makeWord(OpXchg, 0, 0, gprS, gprD, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func arith(mod uint8, gprS, gprD uint8) ([]byte, error) {
	w, err := makeWord(OpArith, mod, gprD, gprD, gprS, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func Add(gprS, gprD uint8) ([]byte, error) { return arith(0x0, gprS, gprD) }
func Sub(gprS, gprD uint8) ([]byte, error) { return arith(0x1, gprS, gprD) }
func Mul(gprS, gprD uint8) ([]byte, error) { return arith(0x2, gprS, gprD) }
func Div(gprS, gprD uint8) ([]byte, error) { return arith(0x3, gprS, gprD) }

func Not(gpr uint8) ([]byte, error) {
	w, err := makeWord(OpLogic, 0x0, gpr, gpr, 0, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func logic(mod uint8, gprS, gprD uint8) ([]byte, error) {
	w, err := makeWord(OpLogic, mod, gprD, gprD, gprS, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func And(gprS, gprD uint8) ([]byte, error) { return logic(0x1, gprS, gprD) }
func Or(gprS, gprD uint8) ([]byte, error)  { return logic(0x2, gprS, gprD) }
func Xor(gprS, gprD uint8) ([]byte, error) { return logic(0x3, gprS, gprD) }

func shift(mod uint8, gprS, gprD uint8) ([]byte, error) {
	w, err := makeWord(OpShift, mod, gprD, gprD, gprS, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func Shl(gprS, gprD uint8) ([]byte, error) { return shift(0x0, gprS, gprD) }
func Shr(gprS, gprD uint8) ([]byte, error) { return shift(0x1, gprS, gprD) }

// PatchOffsetLdImmediate/LdMemory are the patch offsets for the two literal-embedding load forms.
const PatchOffsetLdImmediate = 4
const PatchOffsetLdMemory = 4

func LdImmediate(gpr uint8, imm int32) ([]byte, error) {
	i1, err := makeWord(OpLoad, 0x3, gpr, PC, 0, 4)
	if err != nil {
		return nil, err
	}
	return cat(i1.Bytes(), littleEndian32(imm)), nil
}

func LdMemory(gpr uint8, address int32) ([]byte, error) {
	i1, err := makeWord(OpLoad, 0x3, gpr, PC, 0, 4)
	if err != nil {
		return nil, err
	}
	i2, err := makeWord(OpLoad, 0x2, gpr, gpr, 0, 0)
	if err != nil {
		return nil, err
	}
	return cat(i1.Bytes(), littleEndian32(address), i2.Bytes()), nil
}

func LdRegister(gpr, reg uint8) ([]byte, error) {
	w, err := makeWord(OpLoad, 0x1, gpr, reg, 0, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func LdRegisterIndirect(gpr, reg uint8) ([]byte, error) {
	w, err := makeWord(OpLoad, 0x2, gpr, reg, 0, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// PatchOffsetLdDisp/StDisp are the DISP patch offsets (nibble of byte2 + byte3) within a
// single instruction word, used by the assembler to register a DISP ForwardRef/Relocation.
const PatchOffsetLdDisp = 2
const PatchOffsetStDisp = 2

func LdRegisterIndirectDisp(gpr, reg uint8, disp int32) ([]byte, error) {
	w, err := makeWord(OpLoad, 0x2, gpr, reg, 0, disp)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// PatchOffsetStDirect is the patch offset for the direct-store literal address.
const PatchOffsetStDirect = 8

func StDirect(gpr uint8, address int32) ([]byte, error) {
	i1, err := makeWord(OpStore, 0x2, PC, 0, gpr, 4)
	if err != nil {
		return nil, err
	}
	i2, err := makeWord(OpJump, 0x0, PC, 0, 0, 4)
	if err != nil {
		return nil, err
	}
	return cat(i1.Bytes(), i2.Bytes(), littleEndian32(address)), nil
}

func StRegisterIndirect(gpr, reg uint8) ([]byte, error) {
	w, err := makeWord(OpStore, 0x0, reg, 0, gpr, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func StRegisterIndirectDisp(gpr, reg uint8, disp int32) ([]byte, error) {
	w, err := makeWord(OpStore, 0x0, reg, 0, gpr, disp)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func Csrrd(csr, gpr uint8) ([]byte, error) {
	w, err := makeWord(OpLoad, 0x0, gpr, csr, 0, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func Csrwr(gpr, csr uint8) ([]byte, error) {
	w, err := makeWord(OpLoad, 0x4, csr, gpr, 0, 0)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
