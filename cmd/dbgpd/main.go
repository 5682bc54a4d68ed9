// Command dbgpd is a headless DBGP debugger front end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/dbgp/internal/app"
	"github.com/dshills/dbgp/internal/dbgpd/commands"
)

// Set with -ldflags at release time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, commands.BuildInfo{Version: version, Commit: commit, Date: date}, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "dbgpd:", err)
	}
	os.Exit(app.ExitCode(err))
}
