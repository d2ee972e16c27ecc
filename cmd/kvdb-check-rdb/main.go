// Command kvdb-check-rdb validates an RDB snapshot file outside of a
// running server, mirroring upstream Redis's standalone redis-check-rdb
// tool (REDESIGN FLAG 3).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kvdb/internal/rdbcodec"
)

func main() {
	root := &cobra.Command{
		Use:   "kvdb-check-rdb <path>",
		Short: "Validate an RDB snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			reader := rdbcodec.NewReader(path)
			dbs, err := reader.Load(time.Now().UnixMilli())
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			total := 0
			for _, db := range dbs {
				total += len(db.Keys)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK, %d databases, %d keys\n", path, len(dbs), total)
			return nil
		},
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
