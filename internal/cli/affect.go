package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Jackela/Novel-Engine-sub016/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "affect <subject-id>",
		Short: "Read or update a subject's emotional state",
		Long:  "Without deltas, prints the subject's current decayed state. With --valence/--intensity, applies the deltas first.",
		Args:  cobra.ExactArgs(1),
		Run:   runAffect,
	}

	cmd.Flags().Float64("valence", 0, "Valence delta in [-2, 2]")
	cmd.Flags().Float64("intensity", 0, "Intensity delta in [-1, 1]")

	RootCmd.AddCommand(cmd)
}

func runAffect(cmd *cobra.Command, args []string) {
	subjectID := args[0]
	valence, _ := cmd.Flags().GetFloat64("valence")
	intensity, _ := cmd.Flags().GetFloat64("intensity")

	sys, st, err := openSystem()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	if cmd.Flags().Changed("valence") || cmd.Flags().Changed("intensity") {
		_, err := sys.Store(cmd.Context(), memory.StoreRequest{
			Kind:           memory.StoreAffectDelta,
			SubjectID:      subjectID,
			ValenceDelta:   valence,
			IntensityDelta: intensity,
		})
		if err != nil {
			exitErr("affect", err)
		}
	}

	state, err := sys.Emotional().GetState(cmd.Context(), subjectID)
	if err != nil {
		exitErr("affect", err)
	}

	b, _ := json.Marshal(state)
	fmt.Println(string(b))
}
