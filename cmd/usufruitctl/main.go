// usufruitctl is the operator CLI for usufruitd.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/eflynch/usufruit/cmd/usufruitctl/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
