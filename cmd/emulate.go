package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petrouvik/shelfctl/pkg/emulator"
)

var emulateNoTerminal bool

var emulateCmd = &cobra.Command{
	Use:   "emulate IMAGE.hex",
	Short: "Run a linked hex image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closeLogger, err := newLogger()
		if err != nil {
			return err
		}
		defer closeLogger()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		image, err := emulator.ReadHexImage(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		var term emulator.Terminal
		if !emulateNoTerminal {
			rt, restore, err := newRawTerminal()
			if err != nil {
				return err
			}
			defer restore()
			term = rt
		}

		m := emulator.New(term, logger)
		m.LoadImage(image)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := m.Run(ctx); err != nil {
			fmt.Fprintln(os.Stderr, m.DumpRegisters())
			return fmt.Errorf("emulation stopped: %w", err)
		}
		return nil
	},
}

func init() {
	emulateCmd.Flags().BoolVar(&emulateNoTerminal, "no-terminal", false, "don't touch stdin/stdout terminal mode (for non-interactive programs)")
	RootCmd.AddCommand(emulateCmd)
}
