// Package object holds the assembler's in-memory object model: sections, symbols,
// forward references and relocations. The linker works on shelf.File values and does
// not use this package. Everything that would
// be a pointer graph in the source is an arena (slice) plus an int index here, per the
// pointer-graph-to-arena-and-index design note: Section and Symbol never hold pointers
// to each other, only stable indices into their owning Model's slices.
package object

// RelType distinguishes the four relocation/forward-reference kinds. DISP only ever
// exists transiently during assembly: by the time a file reaches the linker every DISP
// use has already been patched in place or rejected.
type RelType int

const (
	RelNone RelType = iota
	RelDirect
	RelDisp
	RelPCRel
)

func (t RelType) String() string {
	switch t {
	case RelDirect:
		return "DIRECT"
	case RelDisp:
		return "DISP"
	case RelPCRel:
		return "PC_REL"
	default:
		return "NONE"
	}
}

// SymType distinguishes an ordinary symbol from the one synthesized per section.
type SymType int

const (
	SymNotype SymType = iota
	SymSection
)

// SymBind distinguishes file-local symbols from ones visible to other object files.
type SymBind int

const (
	BindLocal SymBind = iota
	BindGlobal
)

// SectionUndefIndex and SectionAbsoluteIndex are the two sentinel section indices: the
// pseudo "undefined" section (where not-yet-placed symbols live) and the pseudo
// "absolute" section (where constant-valued symbols live). Neither is ever written to a
// SHELF section-header table; both exist purely so Symbol.Section is never "no value".
const (
	SectionUndefIndex    = 0
	SectionAbsoluteIndex = -1
)

// Section is a contiguous byte stream with its own location counter and outgoing
// relocations. Index 0 is always the null/undefined section (empty name, no contents).
type Section struct {
	Index        int
	Name         string
	Contents     []byte
	Relocations  []Relocation
	SymbolIndex  int // index, in Model.Symbols, of this section's own SECTION-typed symbol; -1 until created
	hasSymbol    bool
}

// LocationCounter is the next byte offset this section will emit content at; it is kept
// equal to len(Contents) by construction (every append goes through Section methods).
func (s *Section) LocationCounter() int {
	return len(s.Contents)
}

func (s *Section) emit(b []byte) int {
	offset := len(s.Contents)
	s.Contents = append(s.Contents, b...)
	return offset
}

// ForwardRef is a pending patch site recorded against an undefined symbol: the offset
// (within Section.Contents) that must be rewritten once the symbol becomes known.
type ForwardRef struct {
	Offset  int
	Type    RelType
	Addend  int32
	Section int // index into Model.Sections
}

// Relocation is the same shape as ForwardRef but already resolved to reference a symbol;
// it belongs to its home section and survives into the SHELF file the assembler writes.
type Relocation struct {
	Offset  int
	Symbol  int // index into Model.Symbols
	Type    RelType
	Addend  int32
}

// Symbol is a named value: either a label's address, a SECTION marker, or an EQU
// constant. ForwardRefs attached to a still-undefined symbol are drained (and thereby
// emptied) the moment the symbol becomes defined, never consulted again afterwards.
type Symbol struct {
	Index       int
	Name        string
	Value       int32
	Size        uint32
	Type        SymType
	Binding     SymBind
	Section     int // index into Model.Sections; SectionUndefIndex or SectionAbsoluteIndex are valid
	External    bool
	Defined     bool
	ForwardRefs []ForwardRef
}

// Model is the arena owning every Section and Symbol created while assembling a single
// file. Index 0 of both arenas is always the
// null section / null symbol (name ""), matching the SHELF null entries.
type Model struct {
	Sections []Section
	Symbols  []Symbol
	byName   map[string]int // symbol name -> Symbols index
}

// NewModel creates a Model with its null section and null symbol already in place.
func NewModel() *Model {
	m := &Model{byName: make(map[string]int)}
	m.Sections = append(m.Sections, Section{Index: 0, Name: "", SymbolIndex: -1})
	m.Symbols = append(m.Symbols, Symbol{Index: 0, Name: "", Section: SectionUndefIndex, Defined: true})
	m.byName[""] = 0
	return m
}

// Section returns a pointer to the section at idx. Pointers returned by this method are
// only valid until the next mutation of m.Sections (append may reallocate); callers must
// re-fetch after any call that can grow the slice, exactly as with raw slice indexing.
func (m *Model) Section(idx int) *Section {
	return &m.Sections[idx]
}

func (m *Model) Symbol(idx int) *Symbol {
	return &m.Symbols[idx]
}

// LookupSymbol returns the index of the symbol named name, if any exists yet.
func (m *Model) LookupSymbol(name string) (int, bool) {
	idx, ok := m.byName[name]
	return idx, ok
}

// CreateSection creates a new, empty section named name and returns its index. The
// caller is responsible for also creating its SECTION symbol (the assembler always
// does).
func (m *Model) CreateSection(name string) int {
	idx := len(m.Sections)
	m.Sections = append(m.Sections, Section{Index: idx, Name: name, SymbolIndex: -1})
	return idx
}

// CreateSymbol creates an undefined, LOCAL, non-external symbol named name, owned by the
// undefined section, and returns its index. It is the caller's job to subsequently define
// it, mark it external/global, or attach it to a section.
func (m *Model) CreateSymbol(name string) int {
	idx := len(m.Symbols)
	m.Symbols = append(m.Symbols, Symbol{
		Index:   idx,
		Name:    name,
		Section: SectionUndefIndex,
	})
	m.byName[name] = idx
	return idx
}

// EnsureSectionSymbol returns the index of section sectionIdx's SECTION-typed symbol,
// creating it (defined, LOCAL, value 0, name equal to the section's name) if it does not
// exist yet. At most one SECTION symbol per section is ever created (invariant (b)).
func (m *Model) EnsureSectionSymbol(sectionIdx int) int {
	sec := &m.Sections[sectionIdx]
	if sec.hasSymbol {
		return sec.SymbolIndex
	}
	symIdx := m.CreateSymbol(sec.Name)
	sym := &m.Symbols[symIdx]
	sym.Type = SymSection
	sym.Binding = BindLocal
	sym.Defined = true
	sym.Section = sectionIdx
	sym.Value = 0
	sec.SymbolIndex = symIdx
	sec.hasSymbol = true
	return symIdx
}

// EmitBytes appends b to sectionIdx's contents and returns the offset it was written at.
func (m *Model) EmitBytes(sectionIdx int, b []byte) int {
	return m.Sections[sectionIdx].emit(b)
}
