package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/index"
)

var queryCmd = &cobra.Command{
	Use:   "query <archive.zip|design_dir|index.json> <net> [net...]",
	Short: "List components connected to every given net",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	snap, _, err := loadSnapshot(args[0])
	if err != nil {
		return fmt.Errorf("error indexing design: %w", err)
	}
	comps, err := index.CommonComponents(snap, args[1:])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(comps) == 0 {
		fmt.Fprintln(out, "(none)")
		return nil
	}
	for _, c := range comps {
		fmt.Fprintln(out, c)
	}
	return nil
}
