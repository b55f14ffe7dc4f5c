package assembler

import (
	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/encoder"
	"github.com/petrouvik/shelfctl/pkg/object"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

// ProcessInstruction implements `process_instruction`: it emits the bytes for one
// mnemonic into the current section and, for every operand that names a symbol rather
// than carrying its value inline, registers that use through symbolUsageHandler at the
// exact byte offset the corresponding pkg/encoder PatchOffset* constant names.
//
// Mnemonics follow the encoder's literal/symbolic split: where an addressing mode can
// take either an immediate constant or a symbol, the caller picks the "lit" or "sym"
// variant (ldlit vs ldsym, stlit vs stsymabs, and so on) — ProcessInstruction never
// inspects operand kinds to choose between opcodes, only to decide whether a patch must
// be deferred through symbolUsageHandler. For text input, Feed's resolveMnemonic makes
// that choice from the parsed operand kinds.
func (a *Assembler) ProcessInstruction(mnemonic string, ops []Operand) error {
	secIdx, err := a.requireCurrentSection()
	if err != nil {
		return err
	}

	switch mnemonic {
	case "halt":
		return a.emitFixed(secIdx, encoder.Halt)
	case "int":
		return a.emitFixed(secIdx, encoder.Int)
	case "iret":
		return a.emitFixed(secIdx, encoder.Iret)
	case "ret":
		return a.emitFixed(secIdx, encoder.Ret)

	case "calllit":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Call(ops[0].Literal) })
	case "callsym":
		return a.emitSymbolic(secIdx, func() ([]byte, error) { return encoder.Call(0) },
			encoder.PatchOffsetCall, ops[0].Symbol, object.RelDirect)

	case "jmplit":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Jmp(ops[0].Literal) })
	case "jmpsym":
		return a.emitSymbolic(secIdx, func() ([]byte, error) { return encoder.Jmp(0) },
			encoder.PatchOffsetJmp, ops[0].Symbol, object.RelDirect)

	case "beqlit", "bnelit", "bgtlit":
		branch := branchEmitter(mnemonic)
		return a.emitFixed(secIdx, func() ([]byte, error) {
			return branch(ops[0].Register, ops[1].Register, ops[2].Literal)
		})
	case "beqsym", "bnesym", "bgtsym":
		branch := branchEmitter(mnemonic)
		return a.emitSymbolic(secIdx, func() ([]byte, error) { return branch(ops[0].Register, ops[1].Register, 0) },
			encoder.PatchOffsetBranch, ops[2].Symbol, object.RelDirect)

	case "push":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Push(ops[0].Register) })
	case "pop":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Pop(ops[0].Register) })

	case "xchg":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Xchg(ops[0].Register, ops[1].Register) })
	case "add":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Add(ops[0].Register, ops[1].Register) })
	case "sub":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Sub(ops[0].Register, ops[1].Register) })
	case "mul":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Mul(ops[0].Register, ops[1].Register) })
	case "div":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Div(ops[0].Register, ops[1].Register) })
	case "not":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Not(ops[0].Register) })
	case "and":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.And(ops[0].Register, ops[1].Register) })
	case "or":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Or(ops[0].Register, ops[1].Register) })
	case "xor":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Xor(ops[0].Register, ops[1].Register) })
	case "shl":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Shl(ops[0].Register, ops[1].Register) })
	case "shr":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Shr(ops[0].Register, ops[1].Register) })

	case "ldlit":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.LdImmediate(ops[0].Register, ops[1].Literal) })
	case "ldsym", "ldsymabs":
		return a.emitSymbolic(secIdx, func() ([]byte, error) { return encoder.LdImmediate(ops[0].Register, 0) },
			encoder.PatchOffsetLdImmediate, ops[1].Symbol, object.RelDirect)

	case "ldmemlit":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.LdMemory(ops[0].Register, ops[1].Literal) })
	case "ldmemsym":
		return a.emitSymbolic(secIdx, func() ([]byte, error) { return encoder.LdMemory(ops[0].Register, 0) },
			encoder.PatchOffsetLdMemory, ops[1].Symbol, object.RelDirect)

	case "ldreg":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.LdRegister(ops[0].Register, ops[1].Register) })
	case "ldind":
		return a.emitFixed(secIdx, func() ([]byte, error) {
			return encoder.LdRegisterIndirect(ops[0].Register, ops[1].Register)
		})
	case "ldindlit":
		return a.emitFixed(secIdx, func() ([]byte, error) {
			return encoder.LdRegisterIndirectDisp(ops[0].Register, ops[1].Register, ops[2].Literal)
		})
	case "ldindsym":
		return a.emitSymbolic(secIdx, func() ([]byte, error) {
			return encoder.LdRegisterIndirectDisp(ops[0].Register, ops[1].Register, 0)
		}, encoder.PatchOffsetLdDisp, ops[2].Symbol, object.RelDisp)

	case "stlit":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.StDirect(ops[0].Register, ops[1].Literal) })
	case "stsymabs":
		return a.emitSymbolic(secIdx, func() ([]byte, error) { return encoder.StDirect(ops[0].Register, 0) },
			encoder.PatchOffsetStDirect, ops[1].Symbol, object.RelDirect)

	case "stind":
		return a.emitFixed(secIdx, func() ([]byte, error) {
			return encoder.StRegisterIndirect(ops[0].Register, ops[1].Register)
		})
	case "stindlit":
		return a.emitFixed(secIdx, func() ([]byte, error) {
			return encoder.StRegisterIndirectDisp(ops[0].Register, ops[1].Register, ops[2].Literal)
		})
	case "stindsym":
		return a.emitSymbolic(secIdx, func() ([]byte, error) {
			return encoder.StRegisterIndirectDisp(ops[0].Register, ops[1].Register, 0)
		}, encoder.PatchOffsetStDisp, ops[2].Symbol, object.RelDisp)

	case "csrrd":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Csrrd(ops[0].Register, ops[1].Register) })
	case "csrwr":
		return a.emitFixed(secIdx, func() ([]byte, error) { return encoder.Csrwr(ops[0].Register, ops[1].Register) })
	}

	return utils.MakeError(asmerr.ErrSyntax, "unknown mnemonic %q", mnemonic)
}

func branchEmitter(mnemonic string) func(gpr1, gpr2 uint8, address int32) ([]byte, error) {
	switch mnemonic {
	case "beqlit", "beqsym":
		return encoder.Beq
	case "bnelit", "bnesym":
		return encoder.Bne
	default:
		return encoder.Bgt
	}
}

func (a *Assembler) emitFixed(secIdx int, emit func() ([]byte, error)) error {
	bytes, err := emit()
	if err != nil {
		return err
	}
	a.model.EmitBytes(secIdx, bytes)
	return nil
}

func (a *Assembler) emitSymbolic(secIdx int, emit func() ([]byte, error), patchOffset int, symbol string, reltype object.RelType) error {
	bytes, err := emit()
	if err != nil {
		return err
	}
	start := a.model.EmitBytes(secIdx, bytes)
	if symbol == "" {
		return utils.MakeError(asmerr.ErrSyntax, "missing symbol operand")
	}
	return a.symbolUsageHandler(symbol, secIdx, start+patchOffset, reltype)
}
