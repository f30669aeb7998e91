// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// backrun is the standalone backrun searcher: it watches a node's
// mempool and head, prices cyclic arbitrage against the post-tx state
// and pushes signed bundles at the configured relays.
package main

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"os"

	"github.com/luxfi/geth/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/luxfi/backrun/config"
)

const clientIdentifier = "backrun"

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to the TOML/YAML configuration file",
		Value: "backrun.toml",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Log level (trace|debug|info|warn|error)",
		Value: "info",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a rotated file instead of stderr",
	}
	metricsFlag = &cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "Prometheus listen address (empty disables)",
		Value: "",
	}
	keyPassphraseFlag = &cli.StringFlag{
		Name:    "key.passphrase",
		Usage:   "Passphrase for encrypted signer keys",
		EnvVars: []string{"BACKRUN_KEY_PASSPHRASE"},
	}

	app = &cli.App{
		Name:    clientIdentifier,
		Usage:   "Lux backrun MEV searcher",
		Version: "0.9.0",
		Flags: []cli.Flag{
			configFlag, verbosityFlag, logFileFlag, metricsFlag, keyPassphraseFlag,
		},
	}
)

func init() {
	app.Action = run
	app.Before = func(ctx *cli.Context) error {
		return setupLogging(ctx)
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	level, err := log.LvlFromString(ctx.String(verbosityFlag.Name))
	if err != nil {
		return err
	}
	output := os.Stderr
	if path := ctx.String(logFileFlag.Name); path != "" {
		rotated := &lumberjack.Logger{Filename: path, MaxSize: 256, MaxBackups: 8, Compress: true}
		log.SetDefault(log.NewLogger(log.JSONHandlerWithLevel(rotated, level)))
		return nil
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(output, level, true)))
	return nil
}

func run(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}

	var keys []*ecdsa.PrivateKey
	for i, signerCfg := range cfg.Signers {
		key, err := config.DecodeKey(signerCfg.PrivateKey, ctx.String(keyPassphraseFlag.Name))
		if err != nil {
			return fmt.Errorf("signer %d: %w", i, err)
		}
		keys = append(keys, key)
	}

	registry := prometheus.NewRegistry()
	if addr := ctx.String(metricsFlag.Name); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Metrics server failed", "err", err)
			}
		}()
		log.Info("Metrics enabled", "addr", addr)
	}

	node, err := newRuntime(cfg, keys, registry)
	if err != nil {
		return err
	}
	return node.Run(ctx.Context)
}
