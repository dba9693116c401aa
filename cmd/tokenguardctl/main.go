// Command tokenguardctl runs maintenance and diagnostics against a tokenguard
// deployment: index reconciliation, bulk revocation, blacklist housekeeping
// and a load generator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := &runtime{}
	defer rt.close()

	root := newRootCommand(rt)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tokenguardctl: %v\n", err)
		return 1
	}
	return 0
}
