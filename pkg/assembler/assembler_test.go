package assembler

import (
	"testing"

	"github.com/petrouvik/shelfctl/pkg/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedLines(t *testing.T, a *Assembler, lines ...string) {
	t.Helper()
	for _, l := range lines {
		require.NoError(t, a.Feed(l))
	}
}

func TestAbsoluteOnlyEqu(t *testing.T) {
	a := New(nil)
	feedLines(t, a,
		".equ A, 3 + 5",
		".section .text",
		".word A",
	)
	require.NoError(t, a.Cleanup())

	textIdx := a.sectionByName(".text")
	text := a.Model().Section(textIdx)
	assert.Equal(t, []byte{0x08, 0x00, 0x00, 0x00}, text.Contents)
	assert.Empty(t, text.Relocations)

	symIdx, ok := a.Model().LookupSymbol("A")
	require.True(t, ok)
	sym := a.Model().Symbol(symIdx)
	assert.Equal(t, object.SectionAbsoluteIndex, sym.Section)
	assert.Equal(t, int32(8), sym.Value)
	assert.True(t, sym.Defined)
}

func TestForwardReferenceSameSection(t *testing.T) {
	a := New(nil)
	feedLines(t, a,
		".section .text",
		"jmp L",
		"halt",
		"L: halt",
	)
	require.NoError(t, a.Cleanup())

	textIdx := a.sectionByName(".text")
	text := a.Model().Section(textIdx)

	require.Len(t, text.Relocations, 1)
	reloc := text.Relocations[0]
	assert.Equal(t, object.RelDirect, reloc.Type)
	assert.Equal(t, int32(12), reloc.Addend) // jmp(8 bytes) + halt(4 bytes) = L at offset 12
	assert.Equal(t, 4, reloc.Offset)

	sectionSym := a.Model().Symbol(reloc.Symbol)
	assert.Equal(t, object.SymSection, sectionSym.Type)
	assert.Equal(t, ".text", sectionSym.Name)
}

func TestUndefinedExternal(t *testing.T) {
	a := New(nil)
	feedLines(t, a,
		".extern foo",
		".section .text",
		"call foo",
	)
	require.NoError(t, a.Cleanup())

	symIdx, ok := a.Model().LookupSymbol("foo")
	require.True(t, ok)
	sym := a.Model().Symbol(symIdx)
	assert.Equal(t, object.BindGlobal, sym.Binding)
	assert.False(t, sym.Defined)

	textIdx := a.sectionByName(".text")
	text := a.Model().Section(textIdx)
	require.Len(t, text.Relocations, 1)
	reloc := text.Relocations[0]
	assert.Equal(t, object.RelDirect, reloc.Type)
	assert.Equal(t, int32(0), reloc.Addend)
	assert.Equal(t, 8, reloc.Offset)
	assert.Equal(t, symIdx, reloc.Symbol)
}

func TestRedefinedLabel(t *testing.T) {
	a := New(nil)
	feedLines(t, a, ".section .text", "L: halt")
	err := a.Feed("L: halt")
	require.Error(t, err)
}

func TestDispRequiresAbsoluteSymbol(t *testing.T) {
	a := New(nil)
	feedLines(t, a,
		".section .text",
		"ldindsym r1, r2, target",
		".section .data",
		"target: halt",
	)
	err := a.Cleanup()
	require.Error(t, err)
}

func TestEquDependsOnLaterEqu(t *testing.T) {
	a := New(nil)
	feedLines(t, a,
		".equ B, A + 1",
		".equ A, 10",
	)
	require.NoError(t, a.Cleanup())

	idxB, _ := a.Model().LookupSymbol("B")
	symB := a.Model().Symbol(idxB)
	assert.True(t, symB.Defined)
	assert.Equal(t, int32(11), symB.Value)
}

func TestUnresolvedEquCycle(t *testing.T) {
	a := New(nil)
	feedLines(t, a,
		".equ A, B + 1",
		".equ B, A + 1",
	)
	err := a.Cleanup()
	require.Error(t, err)
}
