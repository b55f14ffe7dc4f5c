package assembler

// OperandKind distinguishes the three shapes an operand in the pre-tokenised instruction
// stream can take (see SPEC_FULL.md §6: the assembler never parses expressions itself).
type OperandKind int

const (
	OperandRegister OperandKind = iota
	OperandLiteral
	OperandSymbol
)

// Operand is a single already-classified instruction operand, as handed to
// ProcessInstruction by the external lexer/grammar layer (or, for tests and the CLI, by
// the thin Feed front-end in frontend.go).
type Operand struct {
	Kind     OperandKind
	Register uint8
	Literal  int32
	Symbol   string
}

func Reg(r uint8) Operand     { return Operand{Kind: OperandRegister, Register: r} }
func Lit(v int32) Operand     { return Operand{Kind: OperandLiteral, Literal: v} }
func Sym(name string) Operand { return Operand{Kind: OperandSymbol, Symbol: name} }
