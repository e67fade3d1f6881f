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
		Use:   "recall [terms...]",
		Short: "Query memories across all layers",
		Long:  "Query across working, episodic, semantic and emotional layers. Results are ranked by a weighted blend of recency, term overlap and confidence/priority.",
		Run:   runRecall,
	}

	cmd.Flags().StringP("participants", "P", "", "Comma-separated participant ids")
	cmd.Flags().String("since", "", "Start of time range (RFC3339)")
	cmd.Flags().String("until", "", "End of time range (RFC3339)")
	cmd.Flags().IntP("limit", "l", 0, "Max results (default 50)")
	cmd.Flags().Float64("threshold", 0, "Minimum relevance score in [0,1]")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	participantsStr, _ := cmd.Flags().GetString("participants")
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	limit, _ := cmd.Flags().GetInt("limit")
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	req := model.QueryRequest{
		Terms:              args,
		Participants:       splitCSV(participantsStr),
		MaxResults:         limit,
		RelevanceThreshold: threshold,
	}

	if since != "" || until != "" {
		tr := model.TimeRange{Start: time.Time{}, End: time.Now()}
		if since != "" {
			t, err := time.Parse(time.RFC3339, since)
			if err != nil {
				exitErr("parse --since", err)
			}
			tr.Start = t
		}
		if until != "" {
			t, err := time.Parse(time.RFC3339, until)
			if err != nil {
				exitErr("parse --until", err)
			}
			tr.End = t
		}
		req.TimeRange = &tr
	}

	sys, st, err := openSystem()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	result, err := sys.Query(cmd.Context(), req)
	if err != nil {
		exitErr("recall", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}
