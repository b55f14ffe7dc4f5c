package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petrouvik/shelfctl/pkg/debugger"
	"github.com/petrouvik/shelfctl/pkg/emulator"
)

var debugCmd = &cobra.Command{
	Use:   "debug IMAGE.hex",
	Short: "Load a hex image and step through it in the interactive debugger",
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

		m := emulator.New(nil, logger)
		m.LoadImage(image)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		stop := m.StartActors(ctx)
		defer stop()
		m.Start()

		d := debugger.New(m, m)
		return d.Run(ctx)
	},
}

func init() {
	RootCmd.AddCommand(debugCmd)
}
