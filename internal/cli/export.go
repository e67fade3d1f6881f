package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export episodic events and facts as JSON",
		Run:   runExport,
	}

	cmd.Flags().String("since", "", "Only events at or after this time (RFC3339)")
	cmd.Flags().IntP("limit", "l", 1000, "Max events to export")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	since, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")

	sys, st, err := openSystem()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	ctx := cmd.Context()

	var events []model.MemoryItem
	if since != "" {
		start, err := time.Parse(time.RFC3339, since)
		if err != nil {
			exitErr("parse --since", err)
		}
		events, err = sys.Episodic().QueryByTimeRange(ctx, start, time.Now())
		if err != nil {
			exitErr("export events", err)
		}
	} else {
		events, err = sys.Episodic().Recent(ctx, limit)
		if err != nil {
			exitErr("export events", err)
		}
	}

	facts, err := sys.Semantic().Matching(ctx, nil, limit)
	if err != nil {
		exitErr("export facts", err)
	}

	out := map[string]interface{}{
		"exported_at": time.Now().UTC(),
		"events":      events,
		"facts":       facts,
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
