package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run one consolidation sweep",
		Long:  "Migrate queued working-memory evictions into the episodic log, extract semantic facts from unprocessed events, and prune both durable layers.",
		Run:   runConsolidate,
	}

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	sys, st, err := openSystem()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	sum, err := sys.Consolidate(cmd.Context())
	if err != nil {
		exitErr("consolidate", err)
	}

	b, _ := json.MarshalIndent(sum, "", "  ")
	fmt.Println(string(b))
}
