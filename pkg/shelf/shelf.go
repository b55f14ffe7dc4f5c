// Package shelf implements the SHELF binary object-file container: a bespoke,
// ELF-shaped-but-not-ELF format. Because it is not real ELF, debug/elf cannot parse it;
// this codec follows the teacher's own debug/elf + encoding/binary idiom for fixed-width
// binary container parsing (encoding/binary.LittleEndian throughout) while hand-rolling
// the struct layouts themselves, exactly as spelled out in DESIGN.md.
package shelf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

// SectionType distinguishes the seven section kinds a SHELF file can hold.
type SectionType uint32

const (
	ShelfNull      SectionType = 0
	ShelfProgbits  SectionType = 1
	ShelfNobits    SectionType = 2
	ShelfSymtab    SectionType = 3
	ShelfStrtab    SectionType = 4
	ShelfSymstrtab SectionType = 5
	ShelfReloc     SectionType = 6
)

// SymType mirrors object.SymType plus the two entries the container format reserves
// (ABS, FUNC, OBJECT) that this toolchain never emits but the reader must still accept
// from files written by other tools targeting the same container.
type SymType uint8

const (
	StNotype SymType = 0
	StAbs    SymType = 1
	StSection SymType = 2
	StFunc   SymType = 3
	StObject SymType = 4
)

type SymBind uint8

const (
	StbLocal  SymBind = 0
	StbGlobal SymBind = 1
)

// ShnUndef and ShnAbs are reserved Shndx sentinels. Unlike real ELF, this container's
// section-header table carries no implicit null entry at index 0 (§4.4: every header here
// is a live PROGBITS/SYMTAB/STRTAB/RELOC section), so ShnUndef cannot be 0 without
// colliding with a legitimate first section; both sentinels instead live at the top of the
// uint16 range, comfortably above any section count this toolchain will ever produce.
const (
	ShnUndef = uint16(0xFFFE)
	ShnAbs   = uint16(0xFFFF)
)

type RelocType uint8

const (
	RNone   RelocType = 0
	RDirect RelocType = 1
	RPCRel  RelocType = 2
)

const magic = "SHELF"

// fileHeader is the fixed 5+4+2+2 = 13 byte file header.
type fileHeader struct {
	Magic    [5]byte
	Shoff    uint32
	Shnum    uint16
	Shstrndx uint16
}

// SectionHeader is the fixed 24-byte per-section header entry.
type SectionHeader struct {
	NameOffset uint32
	Type       SectionType
	Offset     uint32
	Size       uint32
	Info       uint32
	Address    uint32

	// Name is populated by the Reader after resolving NameOffset through .shstrtab; it
	// is not part of the on-disk layout and the Writer derives NameOffset from it.
	Name string
}

// Symbol is the fixed 4+4+4+1+1+2 = 16 byte symbol-table entry.
type Symbol struct {
	NameOffset uint32
	Value      uint32
	Size       uint32
	Type       SymType
	Bind       SymBind
	Shndx      uint16

	Name string
}

// Relocation is the fixed 4+4+1+4 = 13 byte relocation entry.
type Relocation struct {
	Offset   uint32
	SymIndex uint32
	Type     RelocType
	Addend   int32

	SymName string
}

// File is the fully decoded, in-memory view a Reader produces and a Writer consumes.
// Sections appear in writer order: PROGBITS sections (each optionally followed by its
// RELOC section), then SYMTAB, then STRTAB (.shstrtab), then SYMSTRTAB (.symstrtab).
type File struct {
	Sections   []SectionHeader
	Contents   [][]byte // Contents[i] is section i's raw bytes (empty for NOBITS/zero-size)
	Symbols    []Symbol
	// Relocations maps a target section index to that section's relocation entries.
	Relocations map[int][]Relocation
}

func binWrite(buf *bytes.Buffer, v any) {
	_ = binary.Write(buf, binary.LittleEndian, v)
}

// --- Writer -----------------------------------------------------------------------

// Writer builds a SHELF file from already-finalized section contents, a symbol table,
// and per-section relocation lists, following the exact writer ordering required for the
// Reader's round-trip contract: program sections (each followed by its non-empty reloc
// section), then .symtab, then .shstrtab, then .symstrtab.
type Writer struct {
	// ProgramSections lists every PROGBITS section to emit, in model order. The null
	// section (index 0, name "") must NOT be included here; it is implicit.
	ProgramSections []WriterSection
	Symbols         []Symbol
}

// WriterSection is one PROGBITS section plus its outgoing relocations, as handed to the
// Writer by either the Assembler (one file) or the Linker's relocatable mode (merged).
type WriterSection struct {
	Name        string
	Contents    []byte
	Relocations []Relocation // SymIndex already refers to the Writer's own Symbols slice
}

// Write serializes the model to w.
func (wr *Writer) Write(w io.Writer) error {
	shstrtab := newStringTable()
	symstrtab := newStringTable()

	for _, sec := range wr.ProgramSections {
		shstrtab.intern(sec.Name)
	}
	shstrtab.intern(".symtab")
	shstrtab.intern(".shstrtab")
	shstrtab.intern(".symstrtab")
	for _, sym := range wr.Symbols {
		symstrtab.intern(sym.Name)
	}

	var headers []SectionHeader
	var contents [][]byte
	fileOffset := uint32(13) // sizeof(fileHeader): 5 + 4 + 2 + 2

	for _, sec := range wr.ProgramSections {
		sh := SectionHeader{
			NameOffset: shstrtab.offset(sec.Name),
			Type:       ShelfProgbits,
			Size:       uint32(len(sec.Contents)),
			Name:       sec.Name,
		}
		if len(sec.Contents) > 0 {
			sh.Offset = fileOffset
			contents = append(contents, sec.Contents)
			fileOffset += sh.Size
		} else {
			contents = append(contents, nil)
		}
		headers = append(headers, sh)

		if len(sec.Relocations) > 0 {
			relocName := ".rela" + sec.Name
			shstrtab.intern(relocName)
			relocBytes := encodeRelocations(sec.Relocations)
			rsh := SectionHeader{
				NameOffset: shstrtab.offset(relocName),
				Type:       ShelfReloc,
				Offset:     fileOffset,
				Size:       uint32(len(relocBytes)),
				Info:       uint32(len(headers) - 1),
				Name:       relocName,
			}
			headers = append(headers, rsh)
			contents = append(contents, relocBytes)
			fileOffset += rsh.Size
		}
	}

	symBytes := encodeSymbols(wr.Symbols, symstrtab)
	symtabHeader := SectionHeader{
		NameOffset: shstrtab.offset(".symtab"),
		Type:       ShelfSymtab,
		Offset:     fileOffset,
		Size:       uint32(len(symBytes)),
		Name:       ".symtab",
	}
	headers = append(headers, symtabHeader)
	contents = append(contents, symBytes)
	fileOffset += symtabHeader.Size

	shstrBytes := shstrtab.bytes()
	shstrHeader := SectionHeader{
		NameOffset: shstrtab.offset(".shstrtab"),
		Type:       ShelfStrtab,
		Offset:     fileOffset,
		Size:       uint32(len(shstrBytes)),
		Name:       ".shstrtab",
	}
	headers = append(headers, shstrHeader)
	contents = append(contents, shstrBytes)
	fileOffset += shstrHeader.Size

	symstrBytes := symstrtab.bytes()
	symstrHeader := SectionHeader{
		NameOffset: shstrtab.offset(".symstrtab"),
		Type:       ShelfSymstrtab,
		Offset:     fileOffset,
		Size:       uint32(len(symstrBytes)),
		Name:       ".symstrtab",
	}
	headers = append(headers, symstrHeader)
	contents = append(contents, symstrBytes)
	fileOffset += symstrHeader.Size

	hdr := fileHeader{
		Shoff:    fileOffset,
		Shnum:    uint16(len(headers)),
		Shstrndx: uint16(len(headers) - 2),
	}
	copy(hdr.Magic[:], magic)

	var buf bytes.Buffer
	binWrite(&buf, hdr.Magic)
	binWrite(&buf, hdr.Shoff)
	binWrite(&buf, hdr.Shnum)
	binWrite(&buf, hdr.Shstrndx)

	for _, c := range contents {
		buf.Write(c)
	}
	for _, sh := range headers {
		binWrite(&buf, sh.NameOffset)
		binWrite(&buf, uint32(sh.Type))
		binWrite(&buf, sh.Offset)
		binWrite(&buf, sh.Size)
		binWrite(&buf, sh.Info)
		binWrite(&buf, sh.Address)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func encodeSymbols(symbols []Symbol, strtab *stringTable) []byte {
	var buf bytes.Buffer
	for _, s := range symbols {
		binWrite(&buf, strtab.offset(s.Name))
		binWrite(&buf, s.Value)
		binWrite(&buf, s.Size)
		binWrite(&buf, uint8(s.Type))
		binWrite(&buf, uint8(s.Bind))
		binWrite(&buf, s.Shndx)
	}
	return buf.Bytes()
}

func encodeRelocations(relocs []Relocation) []byte {
	var buf bytes.Buffer
	for _, r := range relocs {
		binWrite(&buf, r.Offset)
		binWrite(&buf, r.SymIndex)
		binWrite(&buf, uint8(r.Type))
		binWrite(&buf, r.Addend)
	}
	return buf.Bytes()
}

// stringTable accumulates a NUL-terminated string pool and remembers each string's
// offset, so repeated interning of the same name reuses the earlier offset.
type stringTable struct {
	buf     bytes.Buffer
	offsets map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{offsets: make(map[string]uint32)}
}

func (t *stringTable) intern(s string) uint32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := uint32(t.buf.Len())
	t.offsets[s] = off
	t.buf.WriteString(s)
	t.buf.WriteByte(0)
	return off
}

func (t *stringTable) offset(s string) uint32 {
	return t.intern(s)
}

func (t *stringTable) bytes() []byte {
	return t.buf.Bytes()
}

// --- Reader -----------------------------------------------------------------------

// Read parses a SHELF file from r, validating magic and every bounds-dependent field;
// any violation is reported as asmerr.ErrInvalidObject.
func Read(r io.Reader) (*File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, utils.MakeError(asmerr.ErrInvalidObject, "reading file: %v", err)
	}
	if len(raw) < 13 {
		return nil, utils.MakeError(asmerr.ErrInvalidObject, "file too short for header")
	}

	var hdr fileHeader
	copy(hdr.Magic[:], raw[0:5])
	hdr.Shoff = binary.LittleEndian.Uint32(raw[5:9])
	hdr.Shnum = binary.LittleEndian.Uint16(raw[9:11])
	hdr.Shstrndx = binary.LittleEndian.Uint16(raw[11:13])

	if string(hdr.Magic[:]) != magic {
		return nil, utils.MakeError(asmerr.ErrInvalidObject, "bad magic %q", hdr.Magic)
	}

	const shEntrySize = 24
	headers := make([]SectionHeader, hdr.Shnum)
	off := int(hdr.Shoff)
	for i := 0; i < int(hdr.Shnum); i++ {
		end := off + shEntrySize
		if end > len(raw) {
			return nil, utils.MakeError(asmerr.ErrInvalidObject, "section header %d out of bounds", i)
		}
		entry := raw[off:end]
		headers[i] = SectionHeader{
			NameOffset: binary.LittleEndian.Uint32(entry[0:4]),
			Type:       SectionType(binary.LittleEndian.Uint32(entry[4:8])),
			Offset:     binary.LittleEndian.Uint32(entry[8:12]),
			Size:       binary.LittleEndian.Uint32(entry[12:16]),
			Info:       binary.LittleEndian.Uint32(entry[16:20]),
			Address:    binary.LittleEndian.Uint32(entry[20:24]),
		}
		off = end
	}

	contents := make([][]byte, hdr.Shnum)
	for i, sh := range headers {
		if sh.Size == 0 {
			continue
		}
		start, end := int(sh.Offset), int(sh.Offset)+int(sh.Size)
		if end > len(raw) || start > end {
			return nil, utils.MakeError(asmerr.ErrInvalidObject, "section %d contents out of bounds", i)
		}
		contents[i] = raw[start:end]
	}

	if int(hdr.Shstrndx) >= len(headers) {
		return nil, utils.MakeError(asmerr.ErrInvalidObject, "shstrndx %d out of bounds", hdr.Shstrndx)
	}
	shstrtab := contents[hdr.Shstrndx]

	for i := range headers {
		name, err := lookupString(shstrtab, headers[i].NameOffset)
		if err != nil {
			return nil, utils.MakeError(asmerr.ErrInvalidObject, "section %d name: %v", i, err)
		}
		headers[i].Name = name
	}

	symtabIdx, symstrtabIdx := -1, -1
	for i, sh := range headers {
		switch sh.Type {
		case ShelfSymtab:
			symtabIdx = i
		case ShelfSymstrtab:
			symstrtabIdx = i
		}
	}
	if symtabIdx < 0 || symstrtabIdx < 0 {
		return nil, utils.MakeError(asmerr.ErrInvalidObject, "missing symbol table or symbol string table")
	}

	const symEntrySize = 16
	symtabBytes := contents[symtabIdx]
	symstrtabBytes := contents[symstrtabIdx]
	numSymbols := len(symtabBytes) / symEntrySize
	symbols := make([]Symbol, numSymbols)
	for i := 0; i < numSymbols; i++ {
		e := symtabBytes[i*symEntrySize : (i+1)*symEntrySize]
		sym := Symbol{
			NameOffset: binary.LittleEndian.Uint32(e[0:4]),
			Value:      binary.LittleEndian.Uint32(e[4:8]),
			Size:       binary.LittleEndian.Uint32(e[8:12]),
			Type:       SymType(e[12]),
			Bind:       SymBind(e[13]),
			Shndx:      binary.LittleEndian.Uint16(e[14:16]),
		}
		name, err := lookupString(symstrtabBytes, sym.NameOffset)
		if err != nil {
			return nil, utils.MakeError(asmerr.ErrInvalidObject, "symbol %d name: %v", i, err)
		}
		sym.Name = name
		symbols[i] = sym
	}

	const relocEntrySize = 13
	relocations := make(map[int][]Relocation)
	for i, sh := range headers {
		if sh.Type != ShelfReloc {
			continue
		}
		data := contents[i]
		count := len(data) / relocEntrySize
		relocs := make([]Relocation, count)
		for j := 0; j < count; j++ {
			e := data[j*relocEntrySize : (j+1)*relocEntrySize]
			r := Relocation{
				Offset:   binary.LittleEndian.Uint32(e[0:4]),
				SymIndex: binary.LittleEndian.Uint32(e[4:8]),
				Type:     RelocType(e[8]),
				Addend:   int32(binary.LittleEndian.Uint32(e[9:13])),
			}
			if int(r.SymIndex) < len(symbols) {
				r.SymName = symbols[r.SymIndex].Name
			} else {
				r.SymName = "<invalid>"
			}
			relocs[j] = r
		}
		relocations[int(sh.Info)] = relocs
	}

	return &File{
		Sections:    headers,
		Contents:    contents,
		Symbols:     symbols,
		Relocations: relocations,
	}, nil
}

func lookupString(table []byte, offset uint32) (string, error) {
	if int(offset) >= len(table) {
		return "", fmt.Errorf("offset %d out of bounds (table size %d)", offset, len(table))
	}
	end := bytes.IndexByte(table[offset:], 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at offset %d", offset)
	}
	return string(table[offset : int(offset)+end]), nil
}

// --- Dump -----------------------------------------------------------------------

// Dump writes a deterministic, human-readable listing of f: section headers, symbol
// table, and per-section relocations, sorted for reproducibility. It is an internal
// debugging aid, not a pretty-printer that reconstructs source-level assembly; the
// `shelfctl dump` command disassembles section contents and does not call it.
func Dump(w io.Writer, f *File) error {
	fmt.Fprintln(w, "Section headers:")
	for i, sh := range f.Sections {
		fmt.Fprintf(w, "  [%2d] %-16s type=%d size=%-6d offset=%-6d info=%-4d address=0x%08x\n",
			i, sh.Name, sh.Type, sh.Size, sh.Offset, sh.Info, sh.Address)
	}

	fmt.Fprintln(w, "Symbols:")
	for i, sym := range f.Symbols {
		fmt.Fprintf(w, "  [%3d] %-16s value=0x%08x size=%-4d type=%d bind=%d shndx=%d\n",
			i, sym.Name, sym.Value, sym.Size, sym.Type, sym.Bind, sym.Shndx)
	}

	sectionIdxs := make([]int, 0, len(f.Relocations))
	for idx := range f.Relocations {
		sectionIdxs = append(sectionIdxs, idx)
	}
	sort.Ints(sectionIdxs)

	fmt.Fprintln(w, "Relocations:")
	for _, idx := range sectionIdxs {
		fmt.Fprintf(w, "  section %d (%s):\n", idx, f.Sections[idx].Name)
		for _, r := range f.Relocations[idx] {
			fmt.Fprintf(w, "    offset=0x%04x sym=%s type=%d addend=%d\n", r.Offset, r.SymName, r.Type, r.Addend)
		}
	}
	return nil
}
