package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/petrouvik/shelfctl/pkg/emulator"
	"github.com/petrouvik/shelfctl/pkg/encoder"
	"github.com/petrouvik/shelfctl/pkg/shelf"
)

var (
	opcodeColor = color.New(color.FgCyan, color.Bold)
	regColor    = color.New(color.FgYellow)
	immColor    = color.New(color.FgGreen)
)

var dumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Disassemble a linked hex image or a SHELF object's sections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		if file, err := shelf.Read(f); err == nil {
			return dumpShelf(file)
		}
		if _, err := f.Seek(0, 0); err != nil {
			return err
		}
		image, err := emulator.ReadHexImage(f)
		if err != nil {
			return fmt.Errorf("%s: not a SHELF object or a hex image: %w", args[0], err)
		}
		return dumpHex(image)
	},
}

func dumpHex(image map[uint32]byte) error {
	addrs := make([]uint32, 0, len(image))
	for addr := range image {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for i := 0; i+3 < len(addrs); i += 4 {
		if addrs[i+1] != addrs[i]+1 || addrs[i+2] != addrs[i]+2 || addrs[i+3] != addrs[i]+3 {
			continue
		}
		var w encoder.Word
		for j := 0; j < 4; j++ {
			w[j] = image[addrs[i+j]]
		}
		printInstruction(addrs[i], w)
	}
	return nil
}

func dumpShelf(file *shelf.File) error {
	for i, sh := range file.Sections {
		if sh.Type != shelf.ShelfProgbits {
			continue
		}
		fmt.Printf("%s:\n", sh.Name)
		contents := file.Contents[i]
		for off := 0; off+3 < len(contents); off += 4 {
			var w encoder.Word
			copy(w[:], contents[off:off+4])
			printInstruction(sh.Address+uint32(off), w)
		}
	}
	return nil
}

func printInstruction(addr uint32, w encoder.Word) {
	d := encoder.Decode(w)
	fmt.Printf("0x%08X: ", addr)
	opcodeColor.Printf("op=%X mod=%X ", d.Opcode, d.Mod)
	regColor.Printf("a=%d b=%d c=%d ", d.A, d.B, d.C)
	immColor.Printf("disp=%d\n", d.Disp)
}

func init() {
	RootCmd.AddCommand(dumpCmd)
}
