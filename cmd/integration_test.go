package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrouvik/shelfctl/pkg/assembler"
	"github.com/petrouvik/shelfctl/pkg/emulator"
	"github.com/petrouvik/shelfctl/pkg/linker"
	"github.com/petrouvik/shelfctl/pkg/shelf"
)

// TestAsmLinkEmulatePipeline drives the same three stages `shelfctl asm`, `shelfctl
// link` and `shelfctl emulate` run, but in-process, exercising Export and ReadHexImage
// end to end: assemble one tiny source, link it with a fixed .text placement, then run
// the resulting hex image and check the register it leaves behind.
func TestAsmLinkEmulatePipeline(t *testing.T) {
	a := assembler.New(nil)
	source := []string{
		".section .text",
		"ld r1, 42",
		"halt",
	}
	for _, line := range source {
		require.NoError(t, a.Feed(line))
	}
	require.NoError(t, a.Cleanup())

	writer, err := a.Export()
	require.NoError(t, err)

	var objBuf bytes.Buffer
	require.NoError(t, writer.Write(&objBuf))

	file, err := shelf.Read(&objBuf)
	require.NoError(t, err)

	l := linker.New()
	require.NoError(t, l.ReadFile(file))
	require.NoError(t, l.AddPlacement(".text", emulator.StartAddress))

	var hexBuf bytes.Buffer
	require.NoError(t, l.LinkHex(&hexBuf))

	image, err := emulator.ReadHexImage(&hexBuf)
	require.NoError(t, err)

	m := emulator.New(nil, nil)
	m.LoadImage(image)
	require.NoError(t, m.Run(context.Background()))

	halted, haltErr := m.Halted()
	require.True(t, halted)
	require.NoError(t, haltErr)
	require.Equal(t, uint32(42), m.Registers()[1])
}
