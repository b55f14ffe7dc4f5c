package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petrouvik/shelfctl/pkg/assembler"
)

var asmOutput string

var asmCmd = &cobra.Command{
	Use:   "asm SOURCE",
	Short: "Assemble one source file into a relocatable SHELF object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closeLogger, err := newLogger()
		if err != nil {
			return err
		}
		defer closeLogger()

		in, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer in.Close()

		a := assembler.New(logger)
		scanner := bufio.NewScanner(in)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if err := a.Feed(scanner.Text()); err != nil {
				return fmt.Errorf("%s:%d: %w", args[0], lineNo, err)
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}

		if err := a.Cleanup(); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		writer, err := a.Export()
		if err != nil {
			return err
		}

		out, err := os.Create(asmOutput)
		if err != nil {
			return err
		}
		defer out.Close()

		if err := writer.Write(out); err != nil {
			return err
		}

		logger.Info("assembled", "source", args[0], "output", asmOutput)
		return nil
	},
}

func init() {
	asmCmd.Flags().StringVarP(&asmOutput, "output", "o", "a.o", "output SHELF object path")
	RootCmd.AddCommand(asmCmd)
}
