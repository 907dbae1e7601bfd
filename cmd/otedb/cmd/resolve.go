package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/archive"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/index"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/ports"
)

var (
	resolvePorts  string
	resolveOut    string
	resolveStrict bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <design_dir>",
	Short: "Add port terminals to a copy of a design",
	Long: `Reads port definitions from a YAML or JSON file, applies them to a
copy of the design and packs the copy into a zip. The design directory itself
is never modified.

Port file:
  - port_name: P1
    pos: "(U1, CLK)"
    neg: "(U1, GND)"
    z0: 50`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVarP(&resolvePorts, "ports", "p", "", "port definition file")
	resolveCmd.Flags().StringVarP(&resolveOut, "out", "o", "", "output zip (default <design>.zip)")
	resolveCmd.Flags().BoolVar(&resolveStrict, "strict", false, "fail when a terminal is requested at two impedances")
	resolveCmd.MarkFlagRequired("ports")
}

func runResolve(cmd *cobra.Command, args []string) (err error) {
	src := filepath.Clean(args[0])
	f, err := os.Open(resolvePorts)
	if err != nil {
		return err
	}
	specs, err := ports.LoadSpecs(f)
	f.Close()
	if err != nil {
		return err
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}
	r, err := engine.OpenReadOnly(src)
	if err != nil {
		return err
	}
	snap, err := index.Extract(r)
	r.Close()
	if err != nil {
		return err
	}
	if err := ports.Validate(specs, snap); err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "otedb-run-")
	if err != nil {
		return err
	}
	work := filepath.Join(tmp, filepath.Base(src))
	defer func() {
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "work copy kept at %s\n", work)
			return
		}
		os.RemoveAll(tmp)
	}()
	if err := archive.CopyTree(src, work); err != nil {
		return err
	}

	ed, err := engine.Open(work)
	if err != nil {
		return err
	}
	strict := resolveStrict || cfg.Resolver.StrictImpedance
	resolver := ports.NewResolver(ed,
		ports.WithDefaultImpedance(cfg.Resolver.DefaultImpedance),
		ports.WithStrictImpedance(strict),
		ports.WithLogger(logger))
	resolved, err := resolver.ResolveAll(specs)
	if err == nil {
		err = ed.Save()
	}
	if cerr := ed.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return err
	}

	out := resolveOut
	if out == "" {
		out = filepath.Base(src) + ".zip"
	}
	if err := archive.Pack(work, out); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-12s %-28s %-28s %8s\n", "Port", "Signal", "Reference", "Z0")
	fmt.Fprintln(w, "──────────────────────────────────────────────────────────────────────────────")
	for _, p := range resolved {
		fmt.Fprintf(w, "%-12s %-28s %-28s %8.1f\n", p.Name, p.Signal.Key, p.Reference.Key, p.Signal.Impedance)
	}
	fmt.Fprintf(w, "\n%d port(s), %d terminal(s) written to %s\n", len(resolved), len(resolver.Terminals()), out)
	return nil
}
