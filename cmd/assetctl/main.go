package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/assetforge/assetforge/internal/logging"
	"github.com/assetforge/assetforge/internal/pipeline"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cc := &commandContext{logLevel: logging.LevelInfo, log: logging.NewLoggerOrDefault(nil)}
	cmd := newRootCommand(cc)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if merr := cc.writeMetrics(); merr != nil {
		fmt.Fprintf(stderr, "failed to write metrics: %v\n", merr)
	}

	var berr *pipeline.BuildError
	var cerr *configError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &cerr):
		fmt.Fprintf(stderr, "configuration error: %v\n", cerr.err)
		return exitConfigError
	case errors.As(err, &berr):
		if berr.Kind == pipeline.KindConfiguration {
			fmt.Fprintf(stderr, "configuration error: %v\n", berr.Err)
			return exitConfigError
		}
		fmt.Fprintf(stderr, "build failed: %v\n", berr)
		return exitFailure
	case errors.Is(err, context.Canceled):
		return exitFailure
	}

	fmt.Fprintln(stderr, err)
	return exitFailure
}

// configError marks errors caused by the configuration rather than by the
// build inputs.
type configError struct {
	err error
}

func (e *configError) Error() string {
	return e.err.Error()
}

func (e *configError) Unwrap() error {
	return e.err
}
