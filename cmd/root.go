// Package cmd is the shelfctl CLI: the assembler, linker, emulator and debugger wired up
// as cobra subcommands, following the teacher's root-command-plus-viper-config shape.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	logFile string
)

// RootCmd is the base shelfctl command; every subcommand in this package registers
// itself against it from its own init().
var RootCmd = &cobra.Command{
	Use:   "shelfctl",
	Short: "Assembler, linker and emulator for a 32-bit fixed-width instruction set",
	Long: `shelfctl is a small toolchain around the SHELF object format: an assembler that
turns text source into relocatable SHELF objects, a linker that merges SHELF objects
either into a runnable hex image or into one larger relocatable SHELF object, and an
emulator (with an optional interactive debugger) that runs a linked hex image.`,
}

// Execute runs the root command; it is the only thing main calls.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.shelfctl.yaml)")
	RootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write structured logs to this file")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".shelfctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process-wide slog.Logger. With no --log-file it is a single
// stderr text handler; with --log-file it fans the same records out to both stderr and
// the file via slog-multi, so a failing build and its CI log capture never disagree.
func newLogger() (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	stderrHandler := slog.NewTextHandler(os.Stderr, opts)
	if logFile == "" {
		return slog.New(stderrHandler), func() {}, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	fileHandler := slog.NewJSONHandler(f, opts)
	handler := slogmulti.Fanout(stderrHandler, fileHandler)
	return slog.New(handler), func() { _ = f.Close() }, nil
}
