package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petrouvik/shelfctl/pkg/asmerr"
	"github.com/petrouvik/shelfctl/pkg/linker"
	"github.com/petrouvik/shelfctl/pkg/shelf"
	"github.com/petrouvik/shelfctl/pkg/utils"
)

var (
	linkOutput      string
	linkPlacements  []string
	linkRelocatable bool
)

var linkCmd = &cobra.Command{
	Use:   "link OBJECT...",
	Short: "Link one or more SHELF objects",
	Long: `link merges the given SHELF objects. By default it resolves every placement and
symbol and writes a flat (address, byte) hex image ready for "shelfctl emulate"; with
--relocatable it instead writes one larger, still-relocatable SHELF object (sections
concatenated by name, symbols renumbered) suitable for a further link.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l := linker.New()

		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			file, err := shelf.Read(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := l.ReadFile(file); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}

		for _, p := range linkPlacements {
			name, addr, err := parsePlacement(p)
			if err != nil {
				return err
			}
			if err := l.AddPlacement(name, addr); err != nil {
				return err
			}
		}

		out, err := os.Create(linkOutput)
		if err != nil {
			return err
		}
		defer out.Close()

		if linkRelocatable {
			return l.LinkRelocatable(out)
		}
		return l.LinkHex(out)
	},
}

// parsePlacement parses the "--place NAME@ADDRESS" flag form; ADDRESS may be decimal,
// 0x-prefixed hex, or 0-prefixed octal.
func parsePlacement(s string) (string, uint32, error) {
	name, addrStr, ok := strings.Cut(s, "@")
	if !ok || name == "" || addrStr == "" {
		return "", 0, utils.MakeError(asmerr.ErrSyntax, "invalid --place value %q, want NAME@ADDRESS", s)
	}
	addr, err := strconv.ParseUint(addrStr, 0, 32)
	if err != nil {
		return "", 0, utils.MakeError(asmerr.ErrSyntax, "invalid address in --place value %q: %v", s, err)
	}
	return name, uint32(addr), nil
}

func init() {
	linkCmd.Flags().StringVarP(&linkOutput, "output", "o", "a.out", "output path")
	linkCmd.Flags().StringArrayVar(&linkPlacements, "place", nil, "NAME@ADDRESS section placement, repeatable")
	linkCmd.Flags().BoolVar(&linkRelocatable, "relocatable", false, "write a merged relocatable SHELF object instead of a hex image")
	RootCmd.AddCommand(linkCmd)
}
