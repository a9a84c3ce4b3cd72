// Command reversion is the thin CLI binding for the version-history
// storage engine: a cobra subcommand tree that parses flags and calls
// straight into the core workdir/history/cleanup packages. It carries
// no logic of its own; see internal/workdir for the actual semantics.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"versionstore/cmd/reversion/cli"
	"versionstore/internal/logging"
	"versionstore/internal/repository"
	"versionstore/internal/reverr"
)

var version = repository.Sentinel

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelWarn)
	logger := slog.New(filterHandler)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	root := cli.NewRootCommand(logger)
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an engine error to the CLI's exit-code contract: 0
// success (never reached here), 1 user error, 2 I/O or repository
// error. Errors this CLI layer raises itself (bad flags, cobra's own
// argument validation) are treated as user error too.
func exitCodeFor(err error) int {
	kind, ok := reverr.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case reverr.KindInvalidInput, reverr.KindNotAWorkDirectory, reverr.KindDuplicateRecord:
		return 1
	default:
		return 2
	}
}
