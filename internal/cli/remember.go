package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Jackela/Novel-Engine-sub016/internal/memory"
	"github.com/Jackela/Novel-Engine-sub016/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store an event or fact hint",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin. Events land in working memory (critical events also go straight to the episodic log); fact hints run fact extraction into the knowledge graph.",
		Run:   runRemember,
	}

	cmd.Flags().String("kind", "event", "Kind: event or fact")
	cmd.Flags().StringP("participants", "P", "", "Comma-separated participant ids")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().StringP("priority", "p", "normal", "Priority: low, normal, high, critical")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	participantsStr, _ := cmd.Flags().GetString("participants")
	tagsStr, _ := cmd.Flags().GetString("tags")
	priority, _ := cmd.Flags().GetString("priority")

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		exitErr("remember", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	participants := splitCSV(participantsStr)

	var req memory.StoreRequest
	switch kind {
	case "event":
		req = memory.StoreRequest{
			Kind: memory.StoreEvent,
			Item: &model.MemoryItem{
				Content:      content,
				Participants: participants,
				Tags:         splitCSV(tagsStr),
				Priority:     model.Priority(priority),
			},
		}
	case "fact":
		req = memory.StoreRequest{
			Kind:         memory.StoreFactHint,
			Text:         content,
			Participants: participants,
		}
	default:
		exitErr("remember", fmt.Errorf("unknown kind %q (valid: event, fact)", kind))
	}

	sys, st, err := openSystem()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	ids, err := sys.Store(cmd.Context(), req)
	if err != nil {
		exitErr("remember", err)
	}

	b, _ := json.Marshal(map[string]interface{}{"ids": ids})
	fmt.Println(string(b))
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
