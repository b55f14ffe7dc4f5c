// Package assembler implements the symbol-table-and-relocation pipeline described in
// SPEC_FULL.md §4.3: label definition, directive processing, instruction emission via
// pkg/encoder, intra-section back-patching, and the absolute-EQU fix-point resolver.
// Lexing/parsing is an external collaborator; this package is driven by already-split
// mnemonics/directives/operands (plus the thin Feed front-end in frontend.go).
package assembler

import (
	"log/slog"

	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/expr"
	"github.com/petrouvik/shelfctl/pkg/object"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

// noCurrentSection is the sentinel for "no .section directive seen yet", distinct from
// both object.SectionUndefIndex (0, the null section) and object.SectionAbsoluteIndex (-1).
const noCurrentSection = -2

type pendingEqu struct {
	symbol int
	node   *expr.Node
}

// Assembler owns a single in-progress object.Model and drives it through exactly the
// operations SPEC_FULL.md §4.3/§6 name. One Assembler assembles exactly one input file;
// create a new one per file.
type Assembler struct {
	model          *object.Model
	currentSection int
	pending        []pendingEqu
	logger         *slog.Logger
}

// New creates an Assembler with its null section/symbol already in place (via
// object.NewModel) and no current section selected.
func New(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		model:          object.NewModel(),
		currentSection: noCurrentSection,
		logger:         logger,
	}
}

// Model exposes the underlying object model, e.g. for the SHELF writer once Cleanup has
// run. It is still mutable before Cleanup is called.
func (a *Assembler) Model() *object.Model {
	return a.model
}

func (a *Assembler) requireCurrentSection() (int, error) {
	if a.currentSection == noCurrentSection {
		return 0, utils.MakeError(asmerr.ErrSyntax, "no current section (missing .section directive)")
	}
	return a.currentSection, nil
}

// resolver adapts the object.Model's symbol table to expr.Resolver.
func (a *Assembler) resolver(name string) (expr.SymbolInfo, bool) {
	idx, ok := a.model.LookupSymbol(name)
	if !ok {
		return expr.SymbolInfo{}, false
	}
	sym := a.model.Symbol(idx)
	return expr.SymbolInfo{
		Defined:    sym.Defined,
		Value:      sym.Value,
		SectionKey: sym.Section,
		Absolute:   sym.Section == object.SectionAbsoluteIndex,
	}, true
}

// DefineLabel implements `define_label`: requires a current section, and fails
// asmerr.ErrRedefined if the symbol already carries a definition.
func (a *Assembler) DefineLabel(name string) error {
	secIdx, err := a.requireCurrentSection()
	if err != nil {
		return err
	}

	idx, exists := a.model.LookupSymbol(name)
	if !exists {
		idx = a.model.CreateSymbol(name)
	}
	sym := a.model.Symbol(idx)
	if sym.Defined {
		return utils.MakeError(asmerr.ErrRedefined, "%s", name)
	}
	sym.Value = int32(a.model.Section(secIdx).LocationCounter())
	sym.Section = secIdx
	sym.Defined = true
	return nil
}

// SymbolUsageEquHandler implements `symbol_usage_equ_handler`: pre-creates a symbol
// referenced only inside an EQU expression, so it has a stable table entry even before
// any directive or label definition names it explicitly.
func (a *Assembler) SymbolUsageEquHandler(name string) {
	if _, exists := a.model.LookupSymbol(name); !exists {
		a.model.CreateSymbol(name)
	}
}

// ProcessEqu implements `process_equ`: creates the symbol if new, attempts immediate
// absolute resolution, and otherwise enqueues it for the fix-point resolver.
func (a *Assembler) ProcessEqu(name string, node *expr.Node) error {
	idx, exists := a.model.LookupSymbol(name)
	if !exists {
		idx = a.model.CreateSymbol(name)
	}

	resolved, err := a.tryResolveAbsolute(idx, node)
	if err != nil {
		return err
	}
	if !resolved {
		a.pending = append(a.pending, pendingEqu{symbol: idx, node: node})
	}
	return nil
}

// tryResolveAbsolute attempts to resolve node now; on success it defines the symbol as
// an absolute constant and returns true. A Pending result (false, nil) means "not yet" —
// distinct from a hard evaluation error.
func (a *Assembler) tryResolveAbsolute(symIdx int, node *expr.Node) (bool, error) {
	ok, err := expr.AbsolutelyEvaluable(node, a.resolver)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	value, err := expr.Value(node, a.resolver)
	if err != nil {
		return false, err
	}
	sym := a.model.Symbol(symIdx)
	sym.Value = value
	sym.Section = object.SectionAbsoluteIndex
	sym.Defined = true
	return true, nil
}

// symbolUsageHandler implements `symbol_usage_handler`.
func (a *Assembler) symbolUsageHandler(name string, sectionIdx, offset int, reltype object.RelType) error {
	idx, exists := a.model.LookupSymbol(name)
	if !exists {
		idx = a.model.CreateSymbol(name)
		sym := a.model.Symbol(idx)
		sym.ForwardRefs = append(sym.ForwardRefs, object.ForwardRef{Offset: offset, Type: reltype, Section: sectionIdx})
		return nil
	}

	sym := a.model.Symbol(idx)
	if !sym.Defined {
		sym.ForwardRefs = append(sym.ForwardRefs, object.ForwardRef{Offset: offset, Type: reltype, Section: sectionIdx})
		return nil
	}

	if reltype == object.RelDisp {
		if sym.Section != object.SectionAbsoluteIndex {
			return utils.MakeError(asmerr.ErrDispRequiresAbsolute, "%s", name)
		}
		return a.patchDisp(sectionIdx, offset, sym.Value)
	}

	if sym.Section == object.SectionAbsoluteIndex {
		a.patchDirect(sectionIdx, offset, sym.Value)
		return nil
	}

	a.model.Section(sectionIdx).Relocations = append(a.model.Section(sectionIdx).Relocations,
		object.Relocation{Offset: offset, Symbol: idx, Type: reltype, Addend: 0})
	return nil
}

func (a *Assembler) patchDirect(sectionIdx, offset int, value int32) {
	contents := a.model.Section(sectionIdx).Contents
	u := uint32(value)
	contents[offset] = byte(u)
	contents[offset+1] = byte(u >> 8)
	contents[offset+2] = byte(u >> 16)
	contents[offset+3] = byte(u >> 24)
}

func (a *Assembler) patchDisp(sectionIdx, offset int, disp int32) error {
	if disp < -2048 || disp > 2047 {
		return utils.MakeError(asmerr.ErrOutOfRangeDisp, "disp %d outside [-2048,2047]", disp)
	}
	contents := a.model.Section(sectionIdx).Contents
	u := uint16(int16(disp))
	contents[offset] = (contents[offset] & 0xF0) | byte((u>>8)&0x0F)
	contents[offset+1] = byte(u & 0xFF)
	return nil
}

// Cleanup runs the three load-bearing finalisation passes in order: resolveAbsolutes,
// backPatch, correctRelocations. It must be called exactly once, after the last
// directive/instruction/equ has been processed, and before the model is handed to the
// SHELF writer.
func (a *Assembler) Cleanup() error {
	if err := a.resolveAbsolutes(); err != nil {
		return err
	}
	if err := a.backPatch(); err != nil {
		return err
	}
	a.correctRelocations()
	return nil
}

func (a *Assembler) resolveAbsolutes() error {
	for {
		progress := false
		remaining := a.pending[:0]
		for _, pe := range a.pending {
			resolved, err := a.tryResolveAbsolute(pe.symbol, pe.node)
			if err != nil {
				return err
			}
			if resolved {
				progress = true
				continue
			}
			remaining = append(remaining, pe)
		}
		a.pending = remaining
		if len(a.pending) == 0 {
			return nil
		}
		if !progress {
			names := make([]string, 0, len(a.pending))
			for _, pe := range a.pending {
				names = append(names, a.model.Symbol(pe.symbol).Name)
			}
			return utils.MakeError(asmerr.ErrUnresolvedEqu, "%s", utils.FormatSlice(names, ", "))
		}
	}
}

func (a *Assembler) backPatch() error {
	for idx := 1; idx < len(a.model.Symbols); idx++ {
		sym := a.model.Symbol(idx)
		if len(sym.ForwardRefs) == 0 {
			continue
		}

		if !sym.Defined {
			if sym.Binding == object.BindLocal {
				if sym.External {
					sym.Binding = object.BindGlobal
				} else if sym.Name != "" {
					return utils.MakeError(asmerr.ErrUndefinedSymbol, "%s", sym.Name)
				}
			}
		}

		refs := sym.ForwardRefs
		sym.ForwardRefs = nil

		for _, fr := range refs {
			if fr.Type == object.RelDisp {
				if sym.Section != object.SectionAbsoluteIndex {
					return utils.MakeError(asmerr.ErrDispRequiresAbsolute, "%s", sym.Name)
				}
				if err := a.patchDisp(fr.Section, fr.Offset, sym.Value); err != nil {
					return err
				}
				continue
			}

			if !sym.Defined {
				a.model.Section(fr.Section).Relocations = append(a.model.Section(fr.Section).Relocations,
					object.Relocation{Offset: fr.Offset, Symbol: idx, Type: fr.Type, Addend: 0})
				continue
			}
			if sym.Section == object.SectionAbsoluteIndex {
				a.patchDirect(fr.Section, fr.Offset, sym.Value)
				continue
			}
			a.model.Section(fr.Section).Relocations = append(a.model.Section(fr.Section).Relocations,
				object.Relocation{Offset: fr.Offset, Symbol: idx, Type: fr.Type, Addend: 0})
		}
	}
	return nil
}

func (a *Assembler) correctRelocations() {
	for secIdx := range a.model.Sections {
		sec := a.model.Section(secIdx)
		for i := range sec.Relocations {
			reloc := &sec.Relocations[i]
			sym := a.model.Symbol(reloc.Symbol)
			if sym.Binding != object.BindLocal {
				continue
			}
			sectionSymIdx := a.model.EnsureSectionSymbol(sym.Section)
			reloc.Addend = sym.Value
			reloc.Symbol = sectionSymIdx
		}
	}
}
