// File: cmd/sinkscan/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/sinkscan/cmd"
	"github.com/xkilldash9x/sinkscan/internal/observability"
)

const panicLogFile = "sinkscan-panic.log"

// Function variables allow tests to replace process-level side effects.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	tempDir     = os.TempDir
)

// main is the entry point of the application.
func main() {
	defer handlePanic()

	// Cancel the scan on SIGINT or SIGTERM; the report still covers the units that finished.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if code := cmd.ExitCode(cmd.Execute(ctx)); code != 0 {
		stop()
		osExit(code)
	}
}

// handlePanic records an unrecovered panic with its stack trace and exits with status 1.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	path := filepath.Join(tempDir(), panicLogFile)
	if err := osWriteFile(path, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(1)
		return
	}

	fmt.Fprintf(os.Stderr, "sinkscan crashed: %v\nDetails logged to %s\n", r, path)
	osExit(1)
}
