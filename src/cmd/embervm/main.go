/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Command embervm is the CLI launcher: resolve the classpath, parse
// the runtime flags, and hand the entry class name plus its own
// argument vector to internal/vm.Run. Grounded in saferwall-pe's
// cmd/pedumper.go cobra layout (a root command plus a version
// subcommand, persistent flags bound to package-level vars).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"embervm/globals"
	"embervm/internal/classloader"
	"embervm/internal/interp"
	"embervm/internal/vm"
	"embervm/log"
	"embervm/shutdown"
)

var (
	classpath    string
	trace        bool
	logLevel     int
	disableJIT   bool
	jitThreshold uint64
	gcByteLimit  int64
	stackSize    string // -Xss, accepted for command-line compatibility; this VM sizes frames from each method's own max_locals/max_stack instead of a fixed thread stack
)

func run(cmd *cobra.Command, args []string) {
	if err := log.SetLogLevel(logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	className := args[0]
	mainArgs := args[1:]

	if classpath == "" {
		classpath = os.Getenv("CLASSPATH")
	}

	v := vm.New(vm.Config{
		Classpath:    classpath,
		Trace:        trace,
		DisableJIT:   disableJIT,
		JITThreshold: jitThreshold,
		GCByteLimit:  gcByteLimit,
	})

	if err := v.Run(context.Background(), className, mainArgs); err != nil {
		shutdown.Exit(exitCodeFor(err))
	}
}

// exitCodeFor classifies a failed Run's error into the shutdown
// package's process exit codes: an escaped Java exception, a
// class-resolution failure, or an otherwise-unexpected VM error.
func exitCodeFor(err error) int {
	switch err.(type) {
	case *interp.ThrownException:
		return shutdown.APP_EXCEPTION
	case *classloader.ErrClassNotFound, *classloader.ErrNoClassDefFound, *vm.ErrNoMain:
		return shutdown.JVM_EXCEPTION
	default:
		return shutdown.UNKNOWN_ERROR
	}
}

func main() {
	globals.InitGlobals("embervm")

	rootCmd := &cobra.Command{
		Use:   "embervm <class> [args...]",
		Short: "EmberVM, a Java virtual machine",
		Long:  "EmberVM loads and runs a class's main(String[]) method against a configurable classpath.",
		Args:  cobra.MinimumNArgs(1),
		Run:   run,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(globals.GetGlobalRef().Version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&classpath, "classpath", "", "class search path of directories and zip/jar archives")
	rootCmd.PersistentFlags().StringVar(&classpath, "cp", "", "alias for --classpath")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "log every executed instruction")
	rootCmd.PersistentFlags().IntVar(&logLevel, "loglevel", log.WARNING, "verbosity: 0=SEVERE .. 5=FINEST")
	rootCmd.PersistentFlags().BoolVar(&disableJIT, "no-jit", false, "run every method interpreted, never JIT-compiled")
	rootCmd.PersistentFlags().Uint64Var(&jitThreshold, "jit-threshold", 0, "invocation count before a method is JIT-compiled (0 keeps the default)")
	rootCmd.PersistentFlags().Int64Var(&gcByteLimit, "gc-threshold", 0, "live-byte estimate that triggers a collection (0 keeps the default)")
	rootCmd.PersistentFlags().StringVar(&stackSize, "Xss", "", "thread stack size (accepted for compatibility, unused)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
