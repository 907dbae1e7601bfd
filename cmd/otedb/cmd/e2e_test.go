package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const demoDir = "../../../pkg/design/kicad/testdata/demo"

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "none.yaml")))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags clears flag values and Changed marks left by a previous run.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestIndexE2E(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantContain []string
	}{
		{
			name:        "summary",
			args:        []string{"index", demoDir},
			wantContain: []string{"Design: demo", "Components: 3", "Nets: 3 (2 power, 1 signal)", "IC", "U1 U2"},
		},
		{
			name:        "json",
			args:        []string{"index", demoDir, "--json"},
			wantContain: []string{`"type_comp"`, `"net_pins"`, `"power"`},
		},
		{
			name:        "kicad netlist",
			args:        []string{"index", demoDir, "--kicad"},
			wantContain: []string{"(export", "(ref R1)", "(name CLK)"},
		},
		{
			name:    "missing design",
			args:    []string{"index", "does-not-exist"},
			wantErr: true,
		},
		{
			name:    "both formats",
			args:    []string{"index", demoDir, "--json", "--kicad"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got output:\n%s", out)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q\n%s", want, out)
				}
			}
		})
	}
}

func TestQueryE2E(t *testing.T) {
	out, err := run(t, "query", demoDir, "GND", "CLK")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "U1" {
		t.Errorf("output = %q, want U1", out)
	}

	out, err = run(t, "query", demoDir, "GND", "NOPE")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "(none)" {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, "query", demoDir); err == nil {
		t.Error("query without nets should fail")
	}
}

func TestResolveE2E(t *testing.T) {
	dir := t.TempDir()
	portsFile := filepath.Join(dir, "ports.yaml")
	os.WriteFile(portsFile, []byte(`
- port_name: P1
  pos: "(U1, CLK)"
  neg: "(U1, GND)"
- port_name: P2
  pos: "(R1, CLK)"
  neg: "(U1, GND)"
  z0: 50
`), 0o644)
	outZip := filepath.Join(dir, "out.zip")

	out, err := run(t, "resolve", demoDir, "--ports", portsFile, "--out", outZip)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, want := range []string{"P1", "(U1, CLK)", "2 port(s), 3 terminal(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}

	zr, err := zip.OpenReader(outZip)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	if len(zr.File) != 2 {
		t.Errorf("archive has %d entries, want board and ports file", len(zr.File))
	}
	if _, err := os.Stat(filepath.Join(demoDir, "ports.sexp")); !os.IsNotExist(err) {
		t.Error("resolve wrote into the source design")
	}

	os.WriteFile(portsFile, []byte(`[{"port_name": "P1", "pos": "(U1,CLK)", "neg": "(U1,CLK)"}]`), 0o644)
	if _, err := run(t, "resolve", demoDir, "--ports", portsFile, "--out", outZip); err == nil {
		t.Error("identical sides should fail")
	}
}
