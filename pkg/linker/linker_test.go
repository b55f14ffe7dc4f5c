package linker

import (
	"bytes"
	"testing"

	"github.com/petrouvik/shelfctl/pkg/shelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textFile(mainDefined bool, callOffset int) *shelf.File {
	content := make([]byte, 16)
	var symShndx uint16
	if mainDefined {
		symShndx = 0
	} else {
		symShndx = shelf.ShnUndef
	}

	f := &shelf.File{
		Sections: []shelf.SectionHeader{{Name: ".text", Type: shelf.ShelfProgbits, Size: 16}},
		Contents: [][]byte{content},
		Symbols: []shelf.Symbol{
			{Name: ""},
			{Name: "main", Value: 4, Bind: shelf.StbGlobal, Shndx: symShndx},
		},
		Relocations: map[int][]shelf.Relocation{
			0: {{Offset: uint32(callOffset), SymIndex: 1, Type: shelf.RDirect, Addend: 0}},
		},
	}
	return f
}

func TestHexModeMergeAndPlace(t *testing.T) {
	l := New()
	require.NoError(t, l.ReadFile(textFile(true, 8)))
	require.NoError(t, l.ReadFile(textFile(false, 8)))
	require.NoError(t, l.AddPlacement(".text", 0x1000))

	var buf bytes.Buffer
	require.NoError(t, l.LinkHex(&buf))

	assert.Equal(t, uint32(0x1000), l.mergedAddr[".text"])
	assert.Equal(t, uint32(32), l.mergedSizes[".text"])

	// both relocation sites should now read 0x1004 (main's final address) little-endian.
	raw := buf.Bytes()
	got := make(map[uint32]byte, len(raw)/5)
	for i := 0; i+5 <= len(raw); i += 5 {
		addr := uint32(raw[i]) | uint32(raw[i+1])<<8 | uint32(raw[i+2])<<16 | uint32(raw[i+3])<<24
		got[addr] = raw[i+4]
	}
	assert.Equal(t, byte(0x04), got[0x1008])
	assert.Equal(t, byte(0x10), got[0x1009])
	assert.Equal(t, byte(0x00), got[0x100A])
	assert.Equal(t, byte(0x00), got[0x100B])
	// second file's .text starts at 0x1000+16=0x1010, its call site is at 0x1018
	assert.Equal(t, byte(0x04), got[0x1018])
	assert.Equal(t, byte(0x10), got[0x1019])
}

func TestPlacementOverlapFails(t *testing.T) {
	l := New()
	require.NoError(t, l.ReadFile(&shelf.File{
		Sections:    []shelf.SectionHeader{{Name: ".text", Type: shelf.ShelfProgbits, Size: 0x20}},
		Contents:    [][]byte{make([]byte, 0x20)},
		Symbols:     []shelf.Symbol{{Name: ""}},
		Relocations: map[int][]shelf.Relocation{},
	}))
	require.NoError(t, l.ReadFile(&shelf.File{
		Sections:    []shelf.SectionHeader{{Name: ".data", Type: shelf.ShelfProgbits, Size: 0x10}},
		Contents:    [][]byte{make([]byte, 0x10)},
		Symbols:     []shelf.Symbol{{Name: ""}},
		Relocations: map[int][]shelf.Relocation{},
	}))
	require.NoError(t, l.AddPlacement(".text", 0x100))
	require.NoError(t, l.AddPlacement(".data", 0x110))

	var buf bytes.Buffer
	err := l.LinkHex(&buf)
	require.Error(t, err)
}

func TestRelocatableMergeRoundTrip(t *testing.T) {
	l := New()
	require.NoError(t, l.ReadFile(textFile(true, 8)))
	require.NoError(t, l.ReadFile(textFile(false, 8)))

	var buf bytes.Buffer
	require.NoError(t, l.LinkRelocatable(&buf))

	out, err := shelf.Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	var text *shelf.SectionHeader
	for i := range out.Sections {
		if out.Sections[i].Name == ".text" {
			text = &out.Sections[i]
		}
	}
	require.NotNil(t, text)
	assert.EqualValues(t, 32, text.Size)
}
