package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docindex/internal/usecase"
)

var (
	searchText    string
	searchLimit   int
	searchFilters []string
	searchJSON    bool
	searchPreview bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search indexed documents",
	Long: `Search the index with hybrid lexical and semantic retrieval.

Examples:
  docindex search -q "refund policy"
  docindex search -q "quarterly revenue" --filter folder=reports --limit 5
  docindex search -q "termination clause" --preview --json`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchText, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "k", 0, "number of results (default from config)")
	searchCmd.Flags().StringArrayVarP(&searchFilters, "filter", "f", nil, "attribute filter key=value, repeatable")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.Flags().BoolVar(&searchPreview, "preview", false, "show per-signal scores and bypass the result cache")
	_ = searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	filters, err := parseFilters(searchFilters)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("limit") && searchLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	a, err := openApp(cfg, rootDir, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.checkSchema(ctx, false); err != nil {
		return err
	}
	if err := a.warm(ctx); err != nil {
		return err
	}

	req := usecase.SearchRequest{Query: searchText, Filters: filters, Limit: searchLimit}
	run := a.search.Search
	if searchPreview {
		run = a.search.Preview
	}
	results, err := run(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), searchText)
	for _, r := range results {
		fmt.Printf("--- [%d] %s @%d-%d (score: %.4f) ---\n", r.Rank, r.DocumentID, r.Chunk.Start, r.Chunk.End, r.Score)
		if searchPreview {
			fmt.Printf("    lexical: %.4f  semantic: %.4f\n", r.Lexical, r.Semantic)
		}
		if section := r.Chunk.Attributes["section"]; section != "" {
			fmt.Printf("    section: %s\n", section)
		}
		text := r.Chunk.Text
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		fmt.Println(text)
		fmt.Println()
	}
	return nil
}

func parseFilters(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(raw))
	for _, f := range raw {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", f)
		}
		filters[key] = value
	}
	return filters, nil
}
