// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package main

import (
	"github.com/urfave/cli/v2"

	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/pipeline"
)

func (a *cliApp) detect(c *cli.Context) error {
	if err := requireFlags(c, "input", "output"); err != nil {
		return err
	}
	opts, err := a.options(c)
	if err != nil {
		return err
	}
	ctx := logging.ContextWithNewRunID(c.Context)
	sum := pipeline.NewSummary(ctx, "detect")
	sum.Paths = &pipeline.Paths{Events: c.String("input"), Alerts: c.String("output")}

	sum.Detect, err = pipeline.New(opts).Detect(ctx, c.String("input"), c.String("output"))
	return a.emit(sum, err)
}

func (a *cliApp) decide(c *cli.Context) error {
	if err := requireFlags(c, "input", "output"); err != nil {
		return err
	}
	opts, err := a.options(c)
	if err != nil {
		return err
	}
	ctx := logging.ContextWithNewRunID(c.Context)
	sum := pipeline.NewSummary(ctx, "decide")
	paths := pipeline.Paths{
		Events:    c.String("events"),
		Alerts:    c.String("input"),
		Decisions: c.String("output"),
		Reports:   reportsDirFor(c.String("output")),
	}
	sum.Paths = &paths

	p := pipeline.New(opts)
	if sum.Score, err = p.Score(ctx, paths.Alerts, paths.Decisions, paths.Events); err != nil {
		return a.emit(sum, err)
	}
	sum.Audit, err = p.Normalize(ctx, paths.Decisions, paths.Reports)
	return a.emit(sum, err)
}

func (a *cliApp) normalize(c *cli.Context) error {
	if err := requireFlags(c, "input"); err != nil {
		return err
	}
	opts, err := a.options(c)
	if err != nil {
		return err
	}
	reports := c.String("reports")
	if reports == "" {
		reports = reportsDirFor(c.String("input"))
	}
	ctx := logging.ContextWithNewRunID(c.Context)
	sum := pipeline.NewSummary(ctx, "normalize")
	sum.Paths = &pipeline.Paths{Decisions: c.String("input"), Reports: reports}

	sum.Audit, err = pipeline.New(opts).Normalize(ctx, c.String("input"), reports)
	return a.emit(sum, err)
}

func (a *cliApp) trust(c *cli.Context) error {
	if err := requireFlags(c, "input", "output"); err != nil {
		return err
	}
	opts, err := a.options(c)
	if err != nil {
		return err
	}
	ctx := logging.ContextWithNewRunID(c.Context)
	sum := pipeline.NewSummary(ctx, "trust")
	sum.Paths = &pipeline.Paths{Decisions: c.String("input"), Trust: c.String("output")}

	sum.Trust, err = pipeline.New(opts).Trust(ctx, c.String("input"), c.String("output"))
	return a.emit(sum, err)
}

func (a *cliApp) enforce(c *cli.Context) error {
	if err := requireFlags(c, "decisions", "ledger"); err != nil {
		return err
	}
	opts, err := a.options(c)
	if err != nil {
		return err
	}
	ctx := logging.ContextWithNewRunID(c.Context)
	sum := pipeline.NewSummary(ctx, "enforce")
	sum.Paths = &pipeline.Paths{Decisions: c.String("decisions"), Trust: c.String("ledger")}

	sum.Enforce, err = pipeline.New(opts).Enforce(ctx, c.String("decisions"), c.String("ledger"))
	return a.emit(sum, err)
}

func (a *cliApp) run(c *cli.Context) error {
	if err := requireFlags(c, "input", "outdir"); err != nil {
		return err
	}
	opts, err := a.options(c)
	if err != nil {
		return err
	}
	ctx := logging.ContextWithNewRunID(c.Context)
	sum, err := pipeline.New(opts).Run(ctx, c.String("input"), c.String("outdir"))
	return a.emit(sum, err)
}
