package assembler

import (
	"github.com/petrouvik/shelfctl/pkg/object"
	"github.com/petrouvik/shelfctl/pkg/shelf"
)

// Export converts the finished Model into a *shelf.Writer ready to serialize, after
// Cleanup has run. Model section 0 and symbol 0 are always the implicit null entries
// (object.NewModel's invariant); every other model section becomes one WriterSection in
// order (so a model section index maps to writer index sectionIdx-1), and every model
// symbol becomes one shelf.Symbol at the same slice position, so relocation SymIndex
// values need no remapping at all.
func (a *Assembler) Export() (*shelf.Writer, error) {
	m := a.model

	sections := make([]shelf.WriterSection, 0, len(m.Sections)-1)
	for i := 1; i < len(m.Sections); i++ {
		sec := m.Sections[i]
		sections = append(sections, shelf.WriterSection{
			Name:        sec.Name,
			Contents:    append([]byte(nil), sec.Contents...),
			Relocations: convertRelocations(sec.Relocations),
		})
	}

	symbols := make([]shelf.Symbol, 0, len(m.Symbols))
	for _, sym := range m.Symbols {
		symbols = append(symbols, convertSymbol(sym))
	}

	return &shelf.Writer{ProgramSections: sections, Symbols: symbols}, nil
}

func convertRelocations(rels []object.Relocation) []shelf.Relocation {
	out := make([]shelf.Relocation, 0, len(rels))
	for _, r := range rels {
		out = append(out, shelf.Relocation{
			Offset:   uint32(r.Offset),
			SymIndex: uint32(r.Symbol),
			Type:     convertRelType(r.Type),
			Addend:   r.Addend,
		})
	}
	return out
}

func convertRelType(t object.RelType) shelf.RelocType {
	switch t {
	case object.RelDirect:
		return shelf.RDirect
	case object.RelPCRel:
		return shelf.RPCRel
	default:
		return shelf.RNone
	}
}

func convertSymbol(sym object.Symbol) shelf.Symbol {
	if sym.Index == 0 {
		return shelf.Symbol{Name: ""}
	}

	out := shelf.Symbol{
		Name:  sym.Name,
		Value: uint32(sym.Value),
		Size:  sym.Size,
	}

	switch sym.Type {
	case object.SymSection:
		out.Type = shelf.StSection
	default:
		out.Type = shelf.StNotype
	}

	switch sym.Binding {
	case object.BindGlobal:
		out.Bind = shelf.StbGlobal
	default:
		out.Bind = shelf.StbLocal
	}

	switch {
	case sym.Section == object.SectionAbsoluteIndex:
		out.Shndx = shelf.ShnAbs
	case !sym.Defined:
		out.Shndx = shelf.ShnUndef
	default:
		out.Shndx = uint16(sym.Section - 1)
	}

	return out
}
