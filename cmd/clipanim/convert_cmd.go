// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/convert"
	"github.com/ManuGH/clipanim/internal/diagnostics"
	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/progress"
)

type convertOptions struct {
	output       string
	format       string
	fps          float64
	maxFrames    int
	maxDimension int
	quality      int
	loop         int
	diagAddr     string
	quiet        bool
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert INPUT",
		Short: "Convert a video clip to an animated image",
		Long: "Convert a video clip to an animated WebP or GIF. The output defaults to the input\n" +
			"name with the format extension; \"-\" writes to stdout.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.Context(), root, opts, args[0], cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "output path, \"-\" for stdout")
	f.StringVarP(&opts.format, "format", "f", string(anim.FormatWebP), "output format: webp or gif")
	f.Float64Var(&opts.fps, "fps", 0, "target frame rate (default from config)")
	f.IntVar(&opts.maxFrames, "max-frames", 0, "maximum frame count (default from config)")
	f.IntVar(&opts.maxDimension, "max-dim", 0, "longest output edge in pixels (default from config)")
	f.IntVar(&opts.quality, "quality", 0, "WebP quality 1-100 (default from config)")
	f.IntVar(&opts.loop, "loop", -1, "play count, 0 loops forever (default from config)")
	f.StringVar(&opts.diagAddr, "diag-addr", "", "serve diagnostics on this address while converting")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress output")
	return cmd
}

func runConvert(ctx context.Context, root *rootOptions, opts *convertOptions, input string, stderr io.Writer) error {
	format, err := anim.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	output := opts.output
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + "." + string(format)
	}

	a, err := newApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.watchConfig(ctx)

	g, gctx := errgroup.WithContext(ctx)
	diagAddr := opts.diagAddr
	if diagAddr == "" {
		diagAddr = a.cfg.Diagnostics.Addr
	}
	if diagAddr != "" {
		srv := diagnostics.NewServer(diagnostics.Options{
			Probe:     a.probe,
			Factory:   a.factory,
			Registry:  a.registry,
			RateLimit: a.cfg.Diagnostics.RateLimit,
		})
		g.Go(func() error { return srv.Serve(gctx, diagAddr) })
	}

	loop := a.cfg.Conversion.Loop
	if opts.loop >= 0 {
		loop = opts.loop
	}
	req := convert.Request{
		InputPath:    input,
		Format:       format,
		TargetFPS:    opts.fps,
		MaxFrames:    opts.maxFrames,
		MaxDimension: opts.maxDimension,
		Quality:      opts.quality,
		Loop:         loop,
		Slot:         "cli",
	}
	showProgress := !opts.quiet && isTerminal(stderr)
	if showProgress {
		req.Progress = progressPrinter(stderr)
	}

	var res *convert.Result
	g.Go(func() error {
		defer cancel()
		var err error
		res, err = a.converter.Convert(gctx, req)
		return err
	})
	if err := g.Wait(); err != nil {
		if showProgress {
			fmt.Fprintln(stderr)
		}
		return err
	}
	if showProgress {
		fmt.Fprintln(stderr)
	}

	if err := writeOutput(output, res.Data); err != nil {
		return err
	}
	a.logger.Info().
		Str(xglog.FieldEvent, "cli.converted").
		Str(xglog.FieldPath, output).
		Str(xglog.FieldEncoder, res.Encoder).
		Str(xglog.FieldPipeline, string(res.Pipeline)).
		Int(xglog.FieldFrames, res.Frames).
		Msg("conversion written")
	if !opts.quiet && output != "-" {
		fmt.Fprintf(stderr, "%s: %dx%d, %d frames, %d bytes (%s via %s, %s)\n",
			output, res.Width, res.Height, res.Frames, len(res.Data), res.Encoder, res.Pipeline, res.Elapsed.Round(time.Millisecond))
		for _, w := range res.Warnings {
			fmt.Fprintf(stderr, "warning: %s\n", w)
		}
	}
	return nil
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// progressPrinter redraws a single status line.
func progressPrinter(w io.Writer) progress.Sink {
	return func(u progress.Update) {
		label := u.Stage
		if u.Message != "" {
			label = u.Message
		}
		fmt.Fprintf(w, "\r\033[K%-24s %5.1f%%", label, u.Percent)
	}
}
