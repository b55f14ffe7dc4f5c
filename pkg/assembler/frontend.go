package assembler

import (
	"strconv"
	"strings"

	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/expr"
	"github.com/petrouvik/shelfctl/pkg/object"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

// Feed is the ambient thin front-end described in SPEC_FULL.md §4.3: it strips the
// comment from one source line, tokenises the rest and drives DefineLabel/ProcessDirective/
// ProcessInstruction/ProcessEqu accordingly. It is not a general assembly grammar — no
// macros, no local labels, no expression operator precedence beyond left-to-right +/- —
// just enough to exercise the pipeline above end to end from plain text.
func (a *Assembler) Feed(line string) error {
	line = stripComment(line)
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if label, rest, ok := splitLabel(line); ok {
		if err := a.DefineLabel(label); err != nil {
			return err
		}
		line = strings.TrimSpace(rest)
		if line == "" {
			return nil
		}
	}

	fields := strings.Fields(line)
	head := fields[0]

	if strings.HasPrefix(head, ".") {
		return a.feedDirective(head, joinArgs(fields[1:]))
	}

	return a.feedInstruction(head, joinArgs(fields[1:]))
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		return line[:i]
	}
	return line
}

// splitLabel recognises a leading "name:" token.
func splitLabel(line string) (label, rest string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return "", line, false
	}
	candidate := strings.TrimSpace(line[:i])
	if candidate == "" || strings.ContainsAny(candidate, " \t") {
		return "", line, false
	}
	return candidate, line[i+1:], true
}

func joinArgs(fields []string) string {
	return strings.TrimSpace(strings.Join(fields, " "))
}

func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func (a *Assembler) feedDirective(name, argStr string) error {
	args := splitArgs(argStr)
	switch name {
	case ".global", ".extern":
		for _, arg := range args {
			idx, exists := a.model.LookupSymbol(arg)
			if !exists {
				idx = a.model.CreateSymbol(arg)
			}
			sym := a.model.Symbol(idx)
			if name == ".global" {
				sym.Binding = object.BindGlobal
			} else {
				sym.External = true
			}
		}
		return nil

	case ".section":
		if len(args) != 1 {
			return utils.MakeError(asmerr.ErrSyntax, ".section takes exactly one name")
		}
		secIdx := a.sectionByName(args[0])
		a.currentSection = secIdx
		a.model.EnsureSectionSymbol(secIdx)
		return nil

	case ".word":
		secIdx, err := a.requireCurrentSection()
		if err != nil {
			return err
		}
		for _, arg := range args {
			if lit, ok := parseLiteral(arg); ok {
				a.model.EmitBytes(secIdx, wordLE(lit))
				continue
			}
			start := a.model.EmitBytes(secIdx, make([]byte, 4))
			if err := a.symbolUsageHandler(arg, secIdx, start, object.RelDirect); err != nil {
				return err
			}
		}
		return nil

	case ".skip":
		secIdx, err := a.requireCurrentSection()
		if err != nil {
			return err
		}
		if len(args) != 1 {
			return utils.MakeError(asmerr.ErrSyntax, ".skip takes exactly one count")
		}
		n, ok := parseLiteral(args[0])
		if !ok || n < 0 {
			return utils.MakeError(asmerr.ErrSyntax, "invalid .skip count %q", args[0])
		}
		a.model.EmitBytes(secIdx, make([]byte, n))
		return nil

	case ".ascii":
		secIdx, err := a.requireCurrentSection()
		if err != nil {
			return err
		}
		text, err := unquote(argStr)
		if err != nil {
			return err
		}
		a.model.EmitBytes(secIdx, []byte(text))
		return nil

	case ".equ":
		if len(args) != 2 {
			return utils.MakeError(asmerr.ErrSyntax, ".equ takes name, expression")
		}
		node, err := a.parseExpr(args[1])
		if err != nil {
			return err
		}
		return a.ProcessEqu(args[0], node)

	case ".end":
		return nil
	}

	return utils.MakeError(asmerr.ErrSyntax, "unknown directive %q", name)
}

func (a *Assembler) sectionByName(name string) int {
	for i := range a.model.Sections {
		if a.model.Sections[i].Name == name {
			return i
		}
	}
	return a.model.CreateSection(name)
}

func (a *Assembler) feedInstruction(mnemonic, argStr string) error {
	args := splitArgs(argStr)
	ops := make([]Operand, 0, len(args))
	for _, arg := range args {
		ops = append(ops, a.parseOperand(arg))
	}

	resolved, err := resolveMnemonic(mnemonic, ops)
	if err != nil {
		return err
	}
	return a.ProcessInstruction(resolved, ops)
}

// resolveMnemonic expands a base mnemonic (jmp, call, beq/bne/bgt, ld, ldmem, ldind, st,
// stind) into the literal/symbol-specific form ProcessInstruction actually dispatches on,
// by inspecting the operand that carries the addressing mode (the last operand for
// jmp/call/branches, the value operand for ld/ldmem/st). Mnemonics already spelled out in
// their specific form (ldindsym, stsymabs, and so on) pass through untouched.
func resolveMnemonic(mnemonic string, ops []Operand) (string, error) {
	last := func() (Operand, error) {
		if len(ops) == 0 {
			return Operand{}, utils.MakeError(asmerr.ErrSyntax, "%s requires an operand", mnemonic)
		}
		return ops[len(ops)-1], nil
	}

	switch mnemonic {
	case "jmp":
		op, err := last()
		if err != nil {
			return "", err
		}
		return suffixLitSym(mnemonic, op, "jmplit", "jmpsym")
	case "call":
		op, err := last()
		if err != nil {
			return "", err
		}
		return suffixLitSym(mnemonic, op, "calllit", "callsym")
	case "beq", "bne", "bgt":
		op, err := last()
		if err != nil {
			return "", err
		}
		return suffixLitSym(mnemonic, op, mnemonic+"lit", mnemonic+"sym")
	case "ld":
		if len(ops) != 2 {
			return "", utils.MakeError(asmerr.ErrSyntax, "ld takes exactly two operands")
		}
		return suffixLitSym(mnemonic, ops[1], "ldlit", "ldsym")
	case "ldmem":
		if len(ops) != 2 {
			return "", utils.MakeError(asmerr.ErrSyntax, "ldmem takes exactly two operands")
		}
		return suffixLitSym(mnemonic, ops[1], "ldmemlit", "ldmemsym")
	case "ldind":
		switch len(ops) {
		case 2:
			return "ldind", nil
		case 3:
			return suffixLitSym(mnemonic, ops[2], "ldindlit", "ldindsym")
		default:
			return "", utils.MakeError(asmerr.ErrSyntax, "ldind takes two or three operands")
		}
	case "st":
		if len(ops) != 2 {
			return "", utils.MakeError(asmerr.ErrSyntax, "st takes exactly two operands")
		}
		return suffixLitSym(mnemonic, ops[1], "stlit", "stsymabs")
	case "stind":
		switch len(ops) {
		case 2:
			return "stind", nil
		case 3:
			return suffixLitSym(mnemonic, ops[2], "stindlit", "stindsym")
		default:
			return "", utils.MakeError(asmerr.ErrSyntax, "stind takes two or three operands")
		}
	default:
		return mnemonic, nil
	}
}

func suffixLitSym(mnemonic string, op Operand, litForm, symForm string) (string, error) {
	switch op.Kind {
	case OperandLiteral:
		return litForm, nil
	case OperandSymbol:
		return symForm, nil
	default:
		return "", utils.MakeError(asmerr.ErrSyntax, "%s requires a literal or symbol operand", mnemonic)
	}
}

func (a *Assembler) parseOperand(arg string) Operand {
	if reg, ok := parseRegister(arg); ok {
		return Reg(reg)
	}
	if lit, ok := parseLiteral(arg); ok {
		return Lit(lit)
	}
	return Sym(arg)
}

func parseRegister(arg string) (uint8, bool) {
	if len(arg) < 2 || (arg[0] != 'r' && arg[0] != 'R') {
		switch strings.ToLower(arg) {
		case "sp":
			return 14, true
		case "pc":
			return 15, true
		}
		return 0, false
	}
	n, err := strconv.Atoi(arg[1:])
	if err != nil || n < 0 || n > 15 {
		return 0, false
	}
	return uint8(n), true
}

func parseLiteral(arg string) (int32, bool) {
	base := 10
	s := arg
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	n, err := strconv.ParseInt(s, base, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// unquote strips the surrounding quotes and expands the fixed escape set \n \t \r \0 \\
// \" \'; an unrecognised \x emits x verbatim.
func unquote(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", utils.MakeError(asmerr.ErrSyntax, "expected quoted string, got %q", s)
	}
	body := s[1 : len(s)-1]

	var out strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			out.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			out.WriteByte('\n')
		case 't':
			out.WriteByte('\t')
		case 'r':
			out.WriteByte('\r')
		case '0':
			out.WriteByte(0)
		default:
			out.WriteByte(body[i])
		}
	}
	return out.String(), nil
}

// parseExpr parses a left-to-right sequence of number/symbol tokens joined by + or -,
// the only shape EQU expressions need per SPEC_FULL.md §3's ExprTree grammar (Number,
// Symbol, Unary negate, Binary add/sub).
func (a *Assembler) parseExpr(s string) (*expr.Node, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, utils.MakeError(asmerr.ErrSyntax, "empty expression")
	}

	tokens := tokenizeExpr(s)
	if len(tokens) == 0 {
		return nil, utils.MakeError(asmerr.ErrSyntax, "empty expression")
	}

	node, err := a.parseExprTerm(tokens[0])
	if err != nil {
		return nil, err
	}
	i := 1
	for i < len(tokens) {
		op := tokens[i]
		if i+1 >= len(tokens) {
			return nil, utils.MakeError(asmerr.ErrSyntax, "dangling operator in expression %q", s)
		}
		rhs, err := a.parseExprTerm(tokens[i+1])
		if err != nil {
			return nil, err
		}
		switch op {
		case "+":
			node = expr.NewBinary(expr.OpAdd, node, rhs)
		case "-":
			node = expr.NewBinary(expr.OpSub, node, rhs)
		default:
			return nil, utils.MakeError(asmerr.ErrSyntax, "unexpected token %q in expression %q", op, s)
		}
		i += 2
	}
	return node, nil
}

func (a *Assembler) parseExprTerm(tok string) (*expr.Node, error) {
	if lit, ok := parseLiteral(tok); ok {
		return expr.NewNumber(lit), nil
	}
	a.SymbolUsageEquHandler(tok)
	return expr.NewSymbol(tok), nil
}

// tokenizeExpr splits "a + b - 3" into ["a","+","b","-","3"]: +/- must be surrounded by
// whitespace to count as operators, so symbol names may contain neither character.
func tokenizeExpr(s string) []string {
	return strings.Fields(s)
}

func wordLE(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}
