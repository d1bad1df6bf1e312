// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/clipanim/internal/config"
	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/version"
)

type rootOptions struct {
	configPath string
	logLevel   string

	loader *config.Loader
	cfg    config.AppConfig
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "clipanim",
		Short:         "Convert short video clips to animated WebP or GIF",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(newConvertCmd(opts), newProbeCmd(opts))
	cmd.SetVersionTemplate("{{.Version}}\n")
	return cmd
}

// load reads configuration and configures the global logger.
func (o *rootOptions) load() error {
	xglog.Configure(xglog.Config{Level: "warn", Service: "clipanim"})

	o.loader = config.NewLoader(strings.TrimSpace(o.configPath), version.Version)
	cfg, err := o.loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	xglog.SetLevel(cfg.LogLevel)
	o.cfg = cfg

	logger := xglog.WithComponent("cli")
	logger.Debug().
		Str(xglog.FieldEvent, "config.loaded").
		Str(xglog.FieldPath, o.loader.Path()).
		Msg("configuration loaded")
	return nil
}
