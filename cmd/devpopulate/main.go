// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/forkbombeu/devpopulate/internal/marionette"
	core "github.com/forkbombeu/devpopulate/internal/populate"
)

func main() {
	// A missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()
	env := core.Detect()

	shutdown, err := core.SetupTracing(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracing disabled:", err)
		shutdown = func(context.Context) error { return nil }
	}

	root := newRootCmd(&env, os.Stdout, os.Stderr)
	err = root.Execute()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = shutdown(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(env *core.Env, stdout, stderr io.Writer) *cobra.Command {
	counts := make(map[core.DataKind]*int, len(core.Kinds))
	var workload, workloadFile, logLevel string
	var noForward bool

	root := &cobra.Command{
		Use:   "devpopulate",
		Short: "Seed a device with reference calls, contacts, events, messages and media",
		Long: "Seed a device with reference datasets.\n\n" +
			"Calls, events and messages accept only their snapshot sizes (see `devpopulate presets`).\n" +
			"Contacts accept any count; counts between snapshots are topped up one record at a time.\n" +
			"Media kinds accept any count. Kinds without a flag are left untouched.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := core.NewLogger(stderr, logLevel)
			if err != nil {
				return err
			}
			env.Logger = logger
			env.Context = cmd.Context()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(cmd, counts, workload, workloadFile)
			if err == nil {
				_, _, err = core.SplitAddress(env.Address)
			}
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			progress := core.WithProgress(func(kind core.DataKind, done, total int) {
				if done == total {
					fmt.Fprintf(stdout, "%s: %d\n", kind.Plural(), total)
				}
			})
			factory := marionette.NewFactory(env.Address, marionette.DefaultScriptTimeout, env.StartTimeout)
			return core.Run(*env, req, factory, !noForward, progress)
		},
	}

	for _, k := range core.Kinds {
		counts[k] = new(int)
		root.Flags().IntVar(counts[k], k.Plural(), 0, countUsage(k))
	}
	root.Flags().StringVar(&workload, "workload", "", "named bundle of counts (see `devpopulate workloads`)")
	root.PersistentFlags().StringVar(&workloadFile, "workload-file", "", "YAML file with extra workloads")
	root.PersistentFlags().StringVar(&env.Address, "address", env.Address, "automation host:port")
	root.PersistentFlags().StringVar(&env.Serial, "device-serial", env.Serial, "adb device serial")
	root.PersistentFlags().DurationVar(&env.StartTimeout, "start-timeout", env.StartTimeout, "wait for the device process after restart")
	root.PersistentFlags().StringVar(&env.ResourcesDir, "resources", env.ResourcesDir, "directory with snapshot archives and media templates")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().BoolVar(&noForward, "no-forward", false, "do not forward the automation port over adb")

	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newPresetsCmd(env, stdout), newWorkloadsCmd(&workloadFile, stdout))
	return root
}

func countUsage(k core.DataKind) string {
	p, ok := core.PresetFor(k)
	switch {
	case !ok:
		return fmt.Sprintf("number of %s files", k.Plural())
	case p.Remainder:
		return fmt.Sprintf("number of %s (snapshots: %s)", k.Plural(), joinInts(p.Markers))
	default:
		return fmt.Sprintf("number of %s, one of: %s", k.Plural(), joinInts(p.Markers))
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

func loadWorkloads(path string) (core.Workloads, error) {
	if path == "" {
		return core.DefaultWorkloads(), nil
	}
	return core.LoadWorkloads(path)
}

// buildRequest turns the flags into a validated request. Only flags given
// on the command line count as requested.
func buildRequest(cmd *cobra.Command, counts map[core.DataKind]*int, workload, workloadFile string) (core.Request, error) {
	var req core.Request
	for _, k := range core.Kinds {
		if cmd.Flags().Changed(k.Plural()) {
			req.Set(k, *counts[k])
		}
	}
	if workload != "" {
		if !req.Empty() {
			return core.Request{}, core.ErrWorkloadConflict
		}
		ws, err := loadWorkloads(workloadFile)
		if err != nil {
			return core.Request{}, err
		}
		w, err := ws.Lookup(workload)
		if err != nil {
			return core.Request{}, err
		}
		req = w.Request()
	}
	if err := req.Validate(); err != nil {
		return core.Request{}, err
	}
	return req, nil
}

func newPresetsCmd(env *core.Env, stdout io.Writer) *cobra.Command {
	var inspect, asJSON bool
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List snapshot sizes per kind (--inspect opens each snapshot)",
		RunE: func(cmd *cobra.Command, args []string) error {
			type row struct {
				Kind      string              `json:"kind"`
				Markers   []int               `json:"markers"`
				Remainder bool                `json:"remainder"`
				Snapshots []core.SnapshotInfo `json:"snapshots,omitempty"`
			}
			var rows []row
			for _, k := range core.Kinds {
				p, ok := core.PresetFor(k)
				if !ok {
					continue
				}
				r := row{Kind: k.Plural(), Markers: p.Markers, Remainder: p.Remainder}
				if inspect {
					infos, err := core.InspectPresets(*env, k)
					if err != nil {
						return err
					}
					r.Snapshots = infos
				}
				rows = append(rows, r)
			}
			if asJSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			for _, r := range rows {
				mode := "fixed"
				if r.Remainder {
					mode = "any count"
				}
				fmt.Fprintf(stdout, "%-9s %-24s %s\n", r.Kind, joinInts(r.Markers), mode)
				for _, s := range r.Snapshots {
					fmt.Fprintf(stdout, "  %-22s records=%-5d %d bytes %s\n", s.Entry, s.Records, s.Size, s.Digest[:16])
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&inspect, "inspect", false, "extract every snapshot and count its records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func newWorkloadsCmd(workloadFile *string, stdout io.Writer) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "workloads",
		Short: "List workload bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkloads(*workloadFile)
			if err != nil {
				return err
			}
			if asJSON {
				out := map[string]map[string]int{}
				for _, name := range ws.Names() {
					w, _ := ws.Lookup(name)
					out[name] = map[string]int{}
					for k, n := range w {
						out[name][k.Plural()] = n
					}
				}
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			for _, name := range ws.Names() {
				w, _ := ws.Lookup(name)
				fmt.Fprintf(stdout, "%-8s %s\n", name, w.Request())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}
