// Package linker implements the two link modes described in SPEC_FULL.md §4.5: a
// relocatable merge (many SHELF inputs -> one SHELF output, sections concatenated by
// name) and a hex/placement mode (many SHELF inputs -> one fully-resolved flat memory
// image as (address, byte) pairs). Both modes share the same intake pass over
// github.com/petrouvik/shelfctl/pkg/shelf.File values.
package linker

import (
	"sort"

	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/shelf"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

// Linker accumulates the section headers, contents, symbols and relocations of every
// input file read through ReadFile into single linker-global vectors with running index
// offsets, exactly the way a traditional ar-less static linker folds multiple .o files
// into one address space before resolving anything.
type Linker struct {
	sectionHeaders  []shelf.SectionHeader
	sectionContents [][]byte // index-aligned with sectionHeaders; nil for non-PROGBITS
	symbols         []shelf.Symbol
	relocations     map[int][]shelf.Relocation // keyed by global section index

	placements     map[string]uint32
	placementOrder []string

	mergedSizes map[string]uint32
	mergedAddr  map[string]uint32
}

// New creates an empty Linker ready to accept ReadFile calls.
func New() *Linker {
	return &Linker{
		relocations: make(map[int][]shelf.Relocation),
		placements:  make(map[string]uint32),
		mergedSizes: make(map[string]uint32),
		mergedAddr:  make(map[string]uint32),
	}
}

func isDefined(sym shelf.Symbol) bool {
	return sym.Shndx != shelf.ShnUndef
}

// ReadFile folds one decoded SHELF file into the linker's global vectors, shifting every
// section and symbol index it carries by the running offsets accumulated so far.
func (l *Linker) ReadFile(f *shelf.File) error {
	secOffset := len(l.sectionHeaders)
	symOffset := len(l.symbols)

	for i, sh := range f.Sections {
		l.sectionHeaders = append(l.sectionHeaders, sh)
		if sh.Type == shelf.ShelfProgbits {
			l.sectionContents = append(l.sectionContents, append([]byte(nil), f.Contents[i]...))
		} else {
			l.sectionContents = append(l.sectionContents, nil)
		}
	}

	for _, sym := range f.Symbols {
		if sym.Shndx != shelf.ShnAbs && sym.Shndx != shelf.ShnUndef {
			sym.Shndx = uint16(int(sym.Shndx) + secOffset)
		}
		l.symbols = append(l.symbols, sym)
	}

	for target, rels := range f.Relocations {
		relocs := append([]shelf.Relocation(nil), rels...)
		for j := range relocs {
			relocs[j].SymIndex += uint32(symOffset)
		}
		l.relocations[target+secOffset] = relocs
	}

	return nil
}

// AddPlacement records a `-place=name@address` override; the same section may only be
// placed once across the whole link.
func (l *Linker) AddPlacement(name string, address uint32) error {
	if _, exists := l.placements[name]; exists {
		return utils.MakeError(asmerr.ErrSyntax, "starting address for section %q already specified", name)
	}
	l.placements[name] = address
	l.placementOrder = append(l.placementOrder, name)
	return nil
}

// resolveUndefinedSymbols implements the two-pass global-symbol resolution: first
// collect every defined GLOBAL symbol's name, failing on duplicates; then splice each
// undefined GLOBAL symbol's record in-place from the one that defines it, failing if none
// does. A LOCAL symbol that is still undefined is always an error (it has nowhere else to
// come from).
func (l *Linker) resolveUndefinedSymbols() error {
	definedGlobals := make(map[string]int)

	for i, sym := range l.symbols {
		if sym.Name == "" {
			continue
		}
		if !isDefined(sym) {
			if sym.Bind != shelf.StbGlobal {
				return utils.MakeError(asmerr.ErrUndefinedSymbol, "local symbol %q is undefined", sym.Name)
			}
			continue
		}
		if sym.Bind == shelf.StbGlobal {
			if _, dup := definedGlobals[sym.Name]; dup {
				return utils.MakeError(asmerr.ErrDuplicateGlobal, "%s", sym.Name)
			}
			definedGlobals[sym.Name] = i
		}
	}

	for i, sym := range l.symbols {
		if sym.Name == "" || isDefined(sym) || sym.Bind != shelf.StbGlobal {
			continue
		}
		defIdx, ok := definedGlobals[sym.Name]
		if !ok {
			return utils.MakeError(asmerr.ErrUndefinedSymbol, "%s", sym.Name)
		}
		l.symbols[i] = l.symbols[defIdx]
	}
	return nil
}

// computeMergedSectionSizes assigns each PROGBITS header's Address field to the byte
// offset it will occupy within its *merged* section (temporary bookkeeping, overwritten
// with the true final address by assignFinalSectionAddresses), and accumulates the total
// merged size of each section name.
func (l *Linker) computeMergedSectionSizes() {
	for i := range l.sectionHeaders {
		sh := &l.sectionHeaders[i]
		if sh.Type != shelf.ShelfProgbits {
			continue
		}
		if _, ok := l.mergedSizes[sh.Name]; !ok {
			sh.Address = 0
			l.mergedSizes[sh.Name] = sh.Size
		} else {
			sh.Address = l.mergedSizes[sh.Name]
			l.mergedSizes[sh.Name] += sh.Size
		}
	}
}

type addrRange struct{ start, end uint32 }

func overlaps(a, b addrRange) bool {
	return !(a.end <= b.start || a.start >= b.end)
}

// computeSectionAddresses places every `-place`d section first (failing on overlap
// between two fixed placements), then lays out the remaining merged sections starting at
// 0, sliding right past any fixed range it would otherwise collide with.
func (l *Linker) computeSectionAddresses() error {
	var used []addrRange

	placed := append([]string(nil), l.placementOrder...)
	sort.Strings(placed)
	for _, name := range placed {
		addr := l.placements[name]
		size, ok := l.mergedSizes[name]
		if !ok {
			return utils.MakeError(asmerr.ErrUnknownSection, "placed unknown section %q", name)
		}
		r := addrRange{addr, addr + size}
		for _, u := range used {
			if overlaps(r, u) {
				return utils.MakeError(asmerr.ErrAddressOverlap, "section %q overlaps another placement", name)
			}
		}
		used = append(used, r)
		l.mergedAddr[name] = addr
	}

	var remaining []string
	for name := range l.mergedSizes {
		if _, placed := l.mergedAddr[name]; !placed {
			remaining = append(remaining, name)
		}
	}
	sort.Strings(remaining)

	current := uint32(0)
	for _, name := range remaining {
		size := l.mergedSizes[name]
		r := addrRange{current, current + size}
		for {
			adjusted := false
			for _, u := range used {
				if overlaps(r, u) {
					r = addrRange{u.end, u.end + size}
					adjusted = true
				}
			}
			if !adjusted {
				break
			}
		}
		l.mergedAddr[name] = r.start
		used = append(used, r)
		current = r.end
	}
	return nil
}

func (l *Linker) assignFinalSectionAddresses() error {
	for i := range l.sectionHeaders {
		sh := &l.sectionHeaders[i]
		if sh.Type != shelf.ShelfProgbits {
			continue
		}
		addr, ok := l.mergedAddr[sh.Name]
		if !ok {
			return utils.MakeError(asmerr.ErrUnknownSection, "no starting address computed for section %q", sh.Name)
		}
		sh.Address += addr
	}
	return nil
}

// applyRelocations patches every DIRECT/PC_REL relocation's 4-byte little-endian field
// in place, now that every section has its final address and every symbol resolves to a
// concrete value.
func (l *Linker) applyRelocations() error {
	for sectionIdx, relocs := range l.relocations {
		content := l.sectionContents[sectionIdx]
		for _, rel := range relocs {
			sym := l.symbols[rel.SymIndex]
			var symbolValue uint32
			if sym.Shndx == shelf.ShnAbs {
				symbolValue = sym.Value
			} else {
				symbolValue = sym.Value + l.sectionHeaders[sym.Shndx].Address
			}

			var finalValue uint32
			switch rel.Type {
			case shelf.RDirect:
				finalValue = symbolValue + uint32(rel.Addend)
			case shelf.RPCRel:
				finalValue = symbolValue - (l.sectionHeaders[sectionIdx].Address + rel.Offset) + uint32(rel.Addend)
			default:
				return utils.MakeError(asmerr.ErrInvalidObject, "unsupported relocation type %v", rel.Type)
			}

			if int(rel.Offset)+4 > len(content) {
				return utils.MakeError(asmerr.ErrRelocationOutOfBounds, "offset %d in section %d", rel.Offset, sectionIdx)
			}
			content[rel.Offset+0] = byte(finalValue)
			content[rel.Offset+1] = byte(finalValue >> 8)
			content[rel.Offset+2] = byte(finalValue >> 16)
			content[rel.Offset+3] = byte(finalValue >> 24)
		}
	}
	return nil
}
