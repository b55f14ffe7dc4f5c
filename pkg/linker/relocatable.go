package linker

import (
	"io"

	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/shelf"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

type mergedSection struct {
	name        string
	contents    []byte
	relocations []shelf.Relocation
}

// LinkRelocatable runs relocatable-mode linking: sections with the same name across
// every input are concatenated (in file-read order), SECTION-typed symbols sharing a
// name are merged into one, every relocation's offset/addend is rebased onto the merged
// layout, and the result is written out as a fresh SHELF file via pkg/shelf.Writer.
func (l *Linker) LinkRelocatable(w io.Writer) error {
	if err := l.checkDuplicateGlobals(); err != nil {
		return err
	}

	sections, sectionOffset, globalToWriterIdx := l.generateWriterSections()
	symbols, globalSymToWriterIdx, sctnOffsetBySymIndex := l.generateWriterSymbols(sectionOffset, globalToWriterIdx)
	l.generateWriterRelocations(sections, sectionOffset, globalToWriterIdx, globalSymToWriterIdx, sctnOffsetBySymIndex)

	writerSections := make([]shelf.WriterSection, len(sections))
	for i, s := range sections {
		writerSections[i] = shelf.WriterSection{Name: s.name, Contents: s.contents, Relocations: s.relocations}
	}

	writer := &shelf.Writer{ProgramSections: writerSections, Symbols: symbols}
	return writer.Write(w)
}

func (l *Linker) checkDuplicateGlobals() error {
	seen := make(map[string]bool)
	for _, sym := range l.symbols {
		if sym.Bind != shelf.StbGlobal || sym.Name == "" || !isDefined(sym) {
			continue
		}
		if seen[sym.Name] {
			return utils.MakeError(asmerr.ErrDuplicateGlobal, "%s", sym.Name)
		}
		seen[sym.Name] = true
	}
	return nil
}

// generateWriterSections concatenates same-named PROGBITS sections in first-seen order,
// returning: the merged sections themselves, each global section index's byte offset
// within its merged section, and each global section index's position in the returned
// slice.
func (l *Linker) generateWriterSections() ([]mergedSection, map[int]int, map[int]int) {
	var sections []mergedSection
	nameToIdx := make(map[string]int)
	offsetWithin := make(map[int]int)
	globalToIdx := make(map[int]int)

	for i, sh := range l.sectionHeaders {
		if sh.Type != shelf.ShelfProgbits {
			continue
		}
		content := l.sectionContents[i]
		idx, exists := nameToIdx[sh.Name]
		if exists {
			offsetWithin[i] = len(sections[idx].contents)
			sections[idx].contents = append(sections[idx].contents, content...)
		} else {
			idx = len(sections)
			sections = append(sections, mergedSection{name: sh.Name, contents: append([]byte(nil), content...)})
			nameToIdx[sh.Name] = idx
			offsetWithin[i] = 0
		}
		globalToIdx[i] = idx
	}

	return sections, offsetWithin, globalToIdx
}

// generateWriterSymbols builds the merged writer symbol table: the implicit empty symbol
// at index 0, one shared entry per distinct SECTION-symbol name, and one rebased entry
// for every other named symbol (values shifted by the section's merge offset; ABS/UNDEF
// symbols pass through unchanged).
func (l *Linker) generateWriterSymbols(sectionOffset, globalToWriterIdx map[int]int) ([]shelf.Symbol, map[int]int, map[int]int) {
	symbols := []shelf.Symbol{{Name: ""}}
	globalToWriterSym := map[int]int{}
	sctnOffsetBySymIndex := map[int]int{}
	sctnSymByName := map[string]int{}

	for i, sym := range l.symbols {
		if sym.Name == "" {
			globalToWriterSym[i] = 0
			continue
		}

		if sym.Type == shelf.StSection {
			if existing, ok := sctnSymByName[sym.Name]; ok {
				globalToWriterSym[i] = existing
				sctnOffsetBySymIndex[i] = sectionOffset[int(sym.Shndx)]
				continue
			}
			newIdx := len(symbols)
			symbols = append(symbols, shelf.Symbol{
				Name:  sym.Name,
				Value: sym.Value,
				Size:  sym.Size,
				Type:  shelf.StSection,
				Bind:  sym.Bind,
				Shndx: uint16(globalToWriterIdx[int(sym.Shndx)]),
			})
			globalToWriterSym[i] = newIdx
			sctnSymByName[sym.Name] = newIdx
			sctnOffsetBySymIndex[i] = sectionOffset[int(sym.Shndx)]
			continue
		}

		value := sym.Value
		var shndx uint16
		switch sym.Shndx {
		case shelf.ShnAbs:
			shndx = shelf.ShnAbs
		case shelf.ShnUndef:
			shndx = shelf.ShnUndef
		default:
			value += uint32(sectionOffset[int(sym.Shndx)])
			shndx = uint16(globalToWriterIdx[int(sym.Shndx)])
		}

		newIdx := len(symbols)
		symbols = append(symbols, shelf.Symbol{
			Name: sym.Name, Value: value, Size: sym.Size, Type: sym.Type, Bind: sym.Bind, Shndx: shndx,
		})
		globalToWriterSym[i] = newIdx
	}

	return symbols, globalToWriterSym, sctnOffsetBySymIndex
}

// generateWriterRelocations rebases each relocation's offset by its section's merge
// offset, and (for a relocation targeting a SECTION symbol) folds that same merge offset
// into the addend too, exactly mirroring Assembler.correctRelocations's contract on the
// other side of the link.
func (l *Linker) generateWriterRelocations(sections []mergedSection, sectionOffset, globalToWriterIdx, globalToWriterSym, sctnOffsetBySymIndex map[int]int) {
	for sectionIdx, relocs := range l.relocations {
		widx, ok := globalToWriterIdx[sectionIdx]
		if !ok {
			continue
		}
		offsetAdj := sectionOffset[sectionIdx]

		for _, rr := range relocs {
			newOffset := int(rr.Offset) + offsetAdj
			newAddend := rr.Addend
			if l.symbols[rr.SymIndex].Type == shelf.StSection {
				if off, ok := sctnOffsetBySymIndex[int(rr.SymIndex)]; ok {
					newAddend += int32(off)
				}
			}
			sections[widx].relocations = append(sections[widx].relocations, shelf.Relocation{
				Offset:   uint32(newOffset),
				SymIndex: uint32(globalToWriterSym[int(rr.SymIndex)]),
				Type:     rr.Type,
				Addend:   newAddend,
			})
		}
	}
}
