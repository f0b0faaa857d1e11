package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/avelkov/cardiobot/internal/logging"
	"github.com/avelkov/cardiobot/internal/pipeline"
	"github.com/avelkov/cardiobot/internal/provider"
)

// NewAskCmd constructs the `cardiobot ask` command, which answers a single
// question from the indexed handbook and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var noStream bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the cardiology handbook a question",
		Long: `Answer a natural language question using the indexed cardiology handbook.

The answer is grounded in the handbook sections most similar to the
question; sources with page numbers are printed after the answer.

Examples:
  cardiobot ask "what is atrial fibrillation?"
  cardiobot ask --no-stream "explain the symptoms of heart failure"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			rc, err := buildPipeline(ctx, log, chatModel)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rc.close()

			question := args[0]

			if noStream {
				result, err := rc.pipeline.Answer(ctx, question, nil)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				fmt.Println(result.Answer)
				printSources(result.Sources, result.Retrieved)
				return nil
			}

			result, err := rc.pipeline.AnswerStream(ctx, question, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer result.Stream.Close()

			for {
				frag, err := result.Stream.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				fmt.Print(frag)
			}
			fmt.Println()
			printSources(result.Sources, result.Retrieved)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Print the full answer at once instead of streaming")

	return cmd
}

// printSources writes the citation list to stderr so piped stdout stays a
// clean answer.
func printSources(sources []pipeline.Source, retrieved int) {
	if retrieved == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\nRetrieved from %d relevant sections:\n", retrieved)
	for i, s := range sources {
		page := "unknown"
		if s.Page > 0 {
			page = fmt.Sprintf("%d", s.Page)
		}
		fmt.Fprintf(os.Stderr, "  [%d] %s, page %s (relevance %.2f)\n", i+1, s.Document, page, s.Score)
	}
}
