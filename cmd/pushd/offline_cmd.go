package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"pkt.systems/pushd"
	"pkt.systems/pushd/api"
	"pkt.systems/pushd/internal/lockscan"
	"pkt.systems/pushd/internal/pathutil"
	"pkt.systems/pushd/internal/resolve"
)

func newResolveCommand() *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "resolve URL...",
		Short: "Show how locations map onto a local base without a server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := localBase(base)
			if err != nil {
				return err
			}
			resolutions := resolve.Describe(abs, args)
			out := api.ResolveResponse{OK: true, Base: abs, Results: make([]api.Resolution, len(resolutions))}
			for i, r := range resolutions {
				out.Results[i] = api.Resolution{Input: r.Input, Rel: r.Rel, Abs: r.Abs, Exists: r.Exists}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&base, "base", pushd.DefaultLocalBase, "local document root")
	return cmd
}

func newLocksCommand() *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "locks URL...",
		Short: "Scan pages for lock markers without a server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := localBase(base)
			if err != nil {
				return err
			}
			scanner := lockscan.New(abs, lockscan.WithLogger(pslog.NoopLogger()))
			locks, inspected := scanner.Inspect(resolve.Paths(args))
			out := api.LockCheckResponse{
				OK:             true,
				Locked:         make([]api.LockInfo, len(locks)),
				InspectedCount: len(inspected),
				Inspected:      make([]api.Inspection, len(inspected)),
			}
			for i, l := range locks {
				out.Locked[i] = api.LockInfo{
					Rel:         l.Rel,
					Abs:         l.Abs,
					Source:      string(l.Source),
					Coder:       l.Coder,
					Task:        l.Task,
					Locked:      l.Locked,
					IncludePath: l.IncludePath,
					IncludeAbs:  l.IncludeAbs,
				}
			}
			for i, in := range inspected {
				out.Inspected[i] = api.Inspection{Rel: in.Rel, Source: string(in.Source), Coder: in.Coder, Task: in.Task, Locked: in.Locked}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&base, "base", pushd.DefaultLocalBase, "local document root")
	return cmd
}

func localBase(raw string) (string, error) {
	abs, err := pathutil.Absolute(raw)
	if err != nil {
		return "", fmt.Errorf("resolve --base: %w", err)
	}
	if abs == "" {
		return "", fmt.Errorf("--base is required")
	}
	return abs, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
