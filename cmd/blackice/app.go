// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package main

import (
	"io"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/tomtom215/blackice/internal/config"
	"github.com/tomtom215/blackice/internal/detection"
	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/metrics"
	"github.com/tomtom215/blackice/internal/normalize"
	"github.com/tomtom215/blackice/internal/pipeline"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "YAML config file",
		EnvVars: []string{config.ConfigPathEnvVar},
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "log level (trace, debug, info, warn, error)",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "log format (json, console)",
	}
	metricsTextfileFlag = &cli.StringFlag{
		Name:  "metrics-textfile",
		Usage: "write Prometheus metrics to this file after the command",
	}
	auditModeFlag = &cli.StringFlag{
		Name:  "audit-mode",
		Usage: "decision normalization audit mode (" + normalize.ModeList() + ")",
	}
	rulesFlag = &cli.StringFlag{
		Name:  "rules",
		Usage: "comma separated rules to run (all, stuffing, stuffing_user, stuffing_ip, token_reuse, travel)",
	}
)

// cliApp holds state shared by the commands of one invocation.
type cliApp struct {
	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config
}

func newApp(stdout, stderr io.Writer) *cli.App {
	a := &cliApp{stdout: stdout, stderr: stderr}

	app := cli.NewApp()
	app.Name = "blackice"
	app.Usage = "behavioral access risk pipeline"
	app.Version = version
	app.Writer = stderr
	app.ErrWriter = stderr
	app.Flags = []cli.Flag{configFileFlag, logLevelFlag, logFormatFlag, metricsTextfileFlag}
	app.Before = a.before
	app.After = a.after
	app.OnUsageError = onUsageError
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Action = func(c *cli.Context) error {
		if c.Args().Present() {
			return usageErrorf("unknown command %q", c.Args().First())
		}
		_ = cli.ShowAppHelp(c)
		return usageErrorf("no command given")
	}
	app.Commands = []*cli.Command{
		{
			Name:         "detect",
			Usage:        "run detectors over events and write alerts",
			Flags:        []cli.Flag{inputFlag("events JSONL"), outputFlag("alerts JSONL"), rulesFlag},
			OnUsageError: onUsageError,
			Action:       a.detect,
		},
		{
			Name:         "decide",
			Aliases:      []string{"score"},
			Usage:        "score alerts into decisions and normalize them under the audit gate",
			Flags:        []cli.Flag{inputFlag("alerts JSONL"), outputFlag("decisions JSONL"), eventsFlag(), auditModeFlag},
			OnUsageError: onUsageError,
			Action:       a.decide,
		},
		{
			Name:  "normalize",
			Usage: "normalize a decisions file in place under the audit gate",
			Flags: []cli.Flag{
				inputFlag("decisions JSONL"),
				&cli.StringFlag{Name: "reports", Usage: "report directory (default: reports next to the input)"},
				auditModeFlag,
			},
			OnUsageError: onUsageError,
			Action:       a.normalize,
		},
		{
			Name:         "trust",
			Usage:        "append trust ledger rows for decisions",
			Flags:        []cli.Flag{inputFlag("decisions JSONL"), outputFlag("trust ledger JSONL")},
			OnUsageError: onUsageError,
			Action:       a.trust,
		},
		{
			Name:  "enforce",
			Usage: "write the ledger's enforced actions onto decisions",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "decisions", Usage: "decisions JSONL"},
				&cli.StringFlag{Name: "ledger", Usage: "trust ledger JSONL"},
			},
			OnUsageError: onUsageError,
			Action:       a.enforce,
		},
		{
			Name:  "run",
			Usage: "run every stage: detect, decide, normalize, trust, enforce",
			Flags: []cli.Flag{
				inputFlag("events JSONL"),
				&cli.StringFlag{Name: "outdir", Usage: "output directory"},
				auditModeFlag,
				rulesFlag,
			},
			OnUsageError: onUsageError,
			Action:       a.run,
		},
	}
	return app
}

func inputFlag(usage string) cli.Flag {
	return &cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: usage}
}

func outputFlag(usage string) cli.Flag {
	return &cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: usage}
}

func eventsFlag() cli.Flag {
	return &cli.StringFlag{Name: "events", Usage: "events JSONL, enables ring and model signals"}
}

func onUsageError(_ *cli.Context, err error, _ bool) error {
	return &usageError{err: err}
}

// before loads configuration and sets up logging.
func (a *cliApp) before(c *cli.Context) error {
	cfg, err := config.Load(c.String(configFileFlag.Name))
	if err != nil {
		return err
	}
	if lvl := c.String(logLevelFlag.Name); lvl != "" {
		switch lvl {
		case "trace", "debug", "info", "warn", "error":
		default:
			return usageErrorf("invalid --log-level %q (valid: trace, debug, info, warn, error)", lvl)
		}
		cfg.Logging.Level = lvl
	}
	if f := c.String(logFormatFlag.Name); f != "" {
		if f != "json" && f != "console" {
			return usageErrorf("invalid --log-format %q (valid: json, console)", f)
		}
		cfg.Logging.Format = f
	}
	if p := c.String(metricsTextfileFlag.Name); p != "" {
		cfg.Metrics.Textfile = p
	}
	a.cfg = cfg

	lc := cfg.LoggingSettings()
	lc.Output = a.stderr
	logging.Init(lc)
	logging.Debug().
		Str("audit_mode", cfg.Audit.Mode).
		Strs("rules", cfg.Detection.Rules).
		Str("policy", cfg.Scoring.Policy.Kind).
		Msg("Configuration loaded")
	return nil
}

// after exports metrics when a textfile is configured.
func (a *cliApp) after(_ *cli.Context) error {
	if a.cfg == nil || a.cfg.Metrics.Textfile == "" {
		return nil
	}
	return metrics.WriteTextfile(a.cfg.Metrics.Textfile)
}

// options builds pipeline options from config plus command flags.
func (a *cliApp) options(c *cli.Context) (pipeline.Options, error) {
	opts, err := a.cfg.PipelineOptions()
	if err != nil {
		return opts, err
	}
	if c.IsSet(auditModeFlag.Name) {
		mode, err := normalize.ParseMode(c.String(auditModeFlag.Name))
		if err != nil {
			return opts, err
		}
		opts.AuditMode = mode
	}
	if c.IsSet(rulesFlag.Name) {
		sel, err := detection.ParseRules([]string{c.String(rulesFlag.Name)})
		if err != nil {
			return opts, err
		}
		opts.Rules = sel
	}
	return opts, nil
}

func requireFlags(c *cli.Context, names ...string) error {
	for _, n := range names {
		if c.String(n) == "" {
			return usageErrorf("%s: --%s is required", c.Command.Name, n)
		}
	}
	return nil
}

// emit finalizes and prints the summary, then returns err.
func (a *cliApp) emit(sum *pipeline.Summary, err error) error {
	err = sum.Finish(err)
	out, merr := json.MarshalIndent(sum, "", "  ")
	if merr != nil {
		logging.Error().Err(merr).Msg("Failed to encode run summary")
		return err
	}
	out = append(out, '\n')
	if _, werr := a.stdout.Write(out); werr != nil {
		logging.Error().Err(werr).Msg("Failed to write run summary")
	}
	return err
}

func reportsDirFor(decisionsPath string) string {
	return filepath.Join(filepath.Dir(decisionsPath), pipeline.ReportsDir)
}
