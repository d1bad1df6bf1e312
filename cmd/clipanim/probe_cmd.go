// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/capability"
	"github.com/ManuGH/clipanim/internal/container"
	"github.com/ManuGH/clipanim/internal/decision"
	"github.com/ManuGH/clipanim/internal/demux"
	"github.com/ManuGH/clipanim/internal/diagnostics"
	"github.com/ManuGH/clipanim/internal/encode"
)

type probeReport struct {
	Capabilities capability.Capabilities    `json:"capabilities"`
	Encoders     diagnostics.EncoderDetails `json:"encoders"`
	Input        *inputReport               `json:"input,omitempty"`
}

type inputReport struct {
	Path      string            `json:"path"`
	Container container.Format  `json:"container"`
	Track     *demux.TrackInfo  `json:"track,omitempty"`
	Pipeline  decision.Pipeline `json:"pipeline,omitempty"`
	Reason    decision.Reason   `json:"reason,omitempty"`
	Plan      encode.Kind       `json:"plan,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func newProbeCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "probe [INPUT]",
		Short: "Show host capabilities and the pipeline an input would take",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			report := probeReport{Capabilities: a.caps}
			check := diagnostics.NewEncoderChecker(a.factory).Check(cmd.Context())
			if d, ok := check.Details.(diagnostics.EncoderDetails); ok {
				report.Encoders = d
			}
			if len(args) == 1 {
				f, err := anim.ParseFormat(format)
				if err != nil {
					return err
				}
				report.Input = describeInput(cmd, a.caps, args[0], f)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "webp", "output format used for the plan")
	return cmd
}

func describeInput(cmd *cobra.Command, caps capability.Capabilities, path string, format anim.Format) *inputReport {
	in := &inputReport{Path: path}
	cf, err := container.Detect(path)
	if err != nil {
		in.Error = err.Error()
		return in
	}
	in.Container = cf

	var track demux.TrackInfo
	if cf.Demuxable() {
		dm, err := demux.Open(cf, path, demux.Options{})
		if err != nil {
			in.Error = err.Error()
			return in
		}
		defer dm.Destroy()
		track, err = dm.Initialize(cmd.Context())
		if err != nil {
			in.Error = err.Error()
			return in
		}
		in.Track = &track
	}

	out, err := decision.SelectPipeline(decision.Input{Caps: caps, Codec: track.Codec, Container: cf})
	in.Reason = out.Reason
	if err != nil {
		in.Error = err.Error()
		return in
	}
	in.Pipeline = out.Pipeline
	in.Plan = encode.SelectPlan(format, track.Codec).Kind
	return in
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
