// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package main is the blackice command line tool.
//
// Each subcommand runs one pipeline stage over JSONL files, and `run` chains
// them all:
//
//	blackice run --input events.jsonl --outdir out --audit-mode strict
//	blackice detect --input events.jsonl --output alerts.jsonl --rules stuffing,travel
//	blackice decide --input alerts.jsonl --output decisions.jsonl
//	blackice normalize --input decisions.jsonl --audit-mode strict
//	blackice trust --input decisions.jsonl --output trust.jsonl
//	blackice enforce --decisions decisions.jsonl --ledger trust.jsonl
//
// A JSON run summary is printed to stdout; logs go to stderr.
//
// # Exit Codes
//
//	0  success
//	1  fatal error (missing input, I/O)
//	2  invalid usage, unknown command or invalid flag value
//	3  strict-mode audit violation
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/blackice/internal/detection"
	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/normalize"
)

var version = "dev"

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitViolation = 3
)

// usageError marks errors caused by how the tool was invoked.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// exitCode maps an error returned by the app onto the process exit code.
func exitCode(err error) int {
	var uerr *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, normalize.ErrAuditNormalizationViolation):
		return exitViolation
	case errors.As(err, &uerr),
		errors.Is(err, normalize.ErrInvalidAuditMode),
		errors.Is(err, detection.ErrUnknownRule):
		return exitUsage
	default:
		return exitFailure
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	err := app.RunContext(ctx, args)
	if err != nil {
		logging.Error().Err(err).Int("exit_code", exitCode(err)).Msg("Command failed")
		fmt.Fprintf(stderr, "blackice: %v\n", err)
	}
	return exitCode(err)
}
