// Package expr implements the small two's-complement expression language used by the
// assembler's EQU directive: numbers, symbol references, unary negation and binary +/-.
//
// A Node is a tagged sum rather than a class hierarchy: one struct, one Kind field, and a
// single recursive evaluator per operation (Value and Contributions below), per the
// "expression variants" design note this package is built from.
package expr

import (
	"errors"

	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

// Kind discriminates the variant a Node holds.
type Kind int

const (
	Number Kind = iota
	Symbol
	Unary
	Binary
)

// Op distinguishes + from - for Unary and Binary nodes. Unary only ever uses OpSub (negation).
type Op int

const (
	OpAdd Op = iota
	OpSub
)

// Node is a single expression tree node. Only the fields relevant to Kind are meaningful:
//   - Number: Value
//   - Symbol: Name
//   - Unary:  Op (always OpSub), Child
//   - Binary: Op, Left, Right
type Node struct {
	Kind  Kind
	Value int32
	Name  string
	Op    Op
	Child *Node
	Left  *Node
	Right *Node
}

func NewNumber(value int32) *Node {
	return &Node{Kind: Number, Value: value}
}

func NewSymbol(name string) *Node {
	return &Node{Kind: Symbol, Name: name}
}

func NewNegate(child *Node) *Node {
	return &Node{Kind: Unary, Op: OpSub, Child: child}
}

func NewBinary(op Op, left, right *Node) *Node {
	return &Node{Kind: Binary, Op: op, Left: left, Right: right}
}

// SymbolInfo is everything Value/Contributions need to know about a referenced symbol,
// supplied by the assembler's symbol table so this package stays independent of the
// object-model package (avoiding an import cycle: object depends on nothing here).
type SymbolInfo struct {
	Defined    bool
	Value      int32
	SectionKey int  // stable key of the owning section; meaningless if Absolute
	Absolute   bool // true if the symbol lives in the absolute pseudo-section
}

// Resolver maps a symbol name to its current SymbolInfo. It is queried fresh on every
// evaluation attempt, so a symbol defined between two attempts is picked up automatically.
type Resolver func(name string) (SymbolInfo, bool)

// Value evaluates the expression to a 32-bit two's-complement integer. It returns
// asmerr.ErrUndefinedSymbol (wrapped with the offending name) the moment it encounters a
// symbol the resolver does not know about or that is not yet Defined — this is the
// sentinel the EQU fix-point loop uses to reschedule the expression, not a hard failure.
func Value(n *Node, resolve Resolver) (int32, error) {
	switch n.Kind {
	case Number:
		return n.Value, nil
	case Symbol:
		info, ok := resolve(n.Name)
		if !ok || !info.Defined {
			return 0, utils.MakeError(asmerr.ErrUndefinedSymbol, "%s", n.Name)
		}
		return info.Value, nil
	case Unary:
		v, err := Value(n.Child, resolve)
		if err != nil {
			return 0, err
		}
		return -v, nil
	case Binary:
		l, err := Value(n.Left, resolve)
		if err != nil {
			return 0, err
		}
		r, err := Value(n.Right, resolve)
		if err != nil {
			return 0, err
		}
		if n.Op == OpAdd {
			return l + r, nil
		}
		return l - r, nil
	default:
		return 0, utils.MakeError(asmerr.ErrInternalInvariant, "unknown expression kind %d", n.Kind)
	}
}

// Contributions computes the per-section signed contribution count: how many times each
// non-absolute section appears in the expression, net of sign. A section with zero net
// contribution cancels out of the expression entirely (e.g. `labelInText - otherInText`).
func Contributions(n *Node, resolve Resolver) (map[int]int, error) {
	switch n.Kind {
	case Number:
		return map[int]int{}, nil
	case Symbol:
		info, ok := resolve(n.Name)
		if !ok || !info.Defined {
			return nil, utils.MakeError(asmerr.ErrUndefinedSymbol, "%s", n.Name)
		}
		if info.Absolute {
			return map[int]int{}, nil
		}
		return map[int]int{info.SectionKey: 1}, nil
	case Unary:
		c, err := Contributions(n.Child, resolve)
		if err != nil {
			return nil, err
		}
		return negate(c), nil
	case Binary:
		l, err := Contributions(n.Left, resolve)
		if err != nil {
			return nil, err
		}
		r, err := Contributions(n.Right, resolve)
		if err != nil {
			return nil, err
		}
		if n.Op == OpSub {
			r = negate(r)
		}
		return merge(l, r), nil
	default:
		return nil, utils.MakeError(asmerr.ErrInternalInvariant, "unknown expression kind %d", n.Kind)
	}
}

func negate(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = -v
	}
	return out
}

func merge(a, b map[int]int) map[int]int {
	out := make(map[int]int, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}

// AbsolutelyEvaluable reports whether every non-absolute section nets to zero contribution
// and every referenced symbol is defined, i.e. whether Value can be trusted as a constant.
// A Pending result (ok=false, err=nil) distinguishes "still waiting on a symbol" from a
// hard error: the caller (the EQU fix-point resolver) treats Pending as "try again later".
func AbsolutelyEvaluable(n *Node, resolve Resolver) (ok bool, err error) {
	contrib, err := Contributions(n, resolve)
	if err != nil {
		if isUndefined(err) {
			return false, nil
		}
		return false, err
	}
	for _, count := range contrib {
		if count != 0 {
			return false, nil
		}
	}
	return true, nil
}

func isUndefined(err error) bool {
	return errors.Is(err, asmerr.ErrUndefinedSymbol)
}
