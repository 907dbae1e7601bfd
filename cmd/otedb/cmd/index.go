package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/archive"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/index"
)

var (
	indexJSON  bool
	indexKiCad bool
)

var indexCmd = &cobra.Command{
	Use:   "index <archive.zip|design_dir|index.json>",
	Short: "Index a design and print a summary",
	Long: `Extracts the component, pin and net index of a design.

Without flags a summary is printed. --json prints the index in its stored
form; --kicad prints a KiCad netlist.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexJSON, "json", false, "print the index as JSON")
	indexCmd.Flags().BoolVar(&indexKiCad, "kicad", false, "print a KiCad netlist")
	indexCmd.MarkFlagsMutuallyExclusive("json", "kicad")
}

// loadSnapshot indexes a design directory or zip, or decodes a stored index.
func loadSnapshot(path string) (*index.Snapshot, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}
	engine, err := newEngine()
	if err != nil {
		return nil, "", err
	}

	dir := path
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case info.IsDir():
	case ext == ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", err
		}
		snap, err := index.Unmarshal(data)
		return snap, strings.TrimSuffix(filepath.Base(path), ext), err
	case ext == ".zip":
		tmp, err := os.MkdirTemp("", "otedb-index-")
		if err != nil {
			return nil, "", err
		}
		defer os.RemoveAll(tmp)
		if err := archive.Extract(path, tmp, archive.Limits{}); err != nil {
			return nil, "", err
		}
		if dir, err = archive.FindDir(tmp, engine.IsDesign); err != nil {
			return nil, "", err
		}
	default:
		return nil, "", fmt.Errorf("%s: expected a design directory, a .zip or an index .json", path)
	}

	r, err := engine.OpenReadOnly(dir)
	if err != nil {
		return nil, "", err
	}
	defer r.Close()
	snap, err := index.Extract(r)
	return snap, filepath.Base(dir), err
}

func runIndex(cmd *cobra.Command, args []string) error {
	snap, name, err := loadSnapshot(args[0])
	if err != nil {
		return fmt.Errorf("error indexing design: %w", err)
	}
	out := cmd.OutOrStdout()

	switch {
	case indexJSON:
		return index.Encode(out, snap)
	case indexKiCad:
		return snap.WriteKiCadNetlist(out, name)
	}
	printSummary(out, name, snap)
	return nil
}

func printSummary(w io.Writer, name string, snap *index.Snapshot) {
	st := snap.Stats()
	fmt.Fprintf(w, "Design: %s\n", name)
	fmt.Fprintf(w, "  Components: %d\n", st.Components)
	fmt.Fprintf(w, "  Pins: %d (%d unconnected)\n", st.Pins, st.Unconnected)
	fmt.Fprintf(w, "  Nets: %d (%d power, %d signal)\n\n", st.Nets, st.PowerNets, st.SignalNets)

	fmt.Fprintf(w, "%-12s %s\n", "Type", "Components")
	fmt.Fprintln(w, "─────────────────────────────────────────")
	for _, typ := range sortedTypes(snap) {
		fmt.Fprintf(w, "%-12s %s\n", typ, strings.Join(snap.TypeComp[typ], " "))
	}
	if verbose {
		fmt.Fprintf(w, "\n%-20s %6s %s\n", "Net", "Pins", "Class")
		for _, n := range snap.Nets() {
			class, _ := snap.ClassOf(n)
			fmt.Fprintf(w, "%-20s %6d %s\n", n, len(snap.NetPins[n]), class)
		}
	}
}

func sortedTypes(snap *index.Snapshot) []string {
	types := make([]string, 0, len(snap.TypeComp))
	for t := range snap.TypeComp {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
