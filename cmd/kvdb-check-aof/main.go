// Command kvdb-check-aof validates an append-only command log outside of
// a running server, mirroring upstream Redis's standalone
// redis-check-aof tool (REDESIGN FLAG 3).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kvdb/internal/aoflog"
)

func main() {
	root := &cobra.Command{
		Use:   "kvdb-check-aof <path>",
		Short: "Validate an append-only command log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			records := 0
			err := aoflog.Load(path, func(dbIndex int, cmdArgs []string) error {
				records++
				return nil
			}, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK, %d commands\n", path, records)
			return nil
		},
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
