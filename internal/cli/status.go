package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"docindex/internal/domain"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics and failed documents",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, rootDir, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.warm(ctx); err != nil {
		return err
	}
	report, err := a.ingest.Status()
	if err != nil {
		return err
	}

	if statusJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Index: %s\n", a.dbPath)
	fmt.Printf("  Documents:       %d\n", report.Stats.TotalDocs)
	fmt.Printf("  Chunks:          %d\n", report.Stats.TotalChunks)
	fmt.Printf("  Avg chunk terms: %.1f\n", report.Stats.AvgChunkLen)
	fmt.Printf("  Generation:      %d\n", report.Generation)
	for _, s := range []domain.ParseStatus{domain.StatusParsed, domain.StatusUnparsed, domain.StatusFailed} {
		fmt.Printf("  %-16s %d\n", string(s)+":", report.ByStatus[s])
	}

	if migration, err := a.store.CheckMigration(a.cfg); err == nil && migration.NeedsRebuild {
		fmt.Printf("\nRe-ingestion required: %s\n", migration.Reason)
	}

	if len(report.Failed) > 0 {
		fmt.Printf("\nFailed documents:\n")
		for _, doc := range report.Failed {
			fmt.Printf("  - %s: %s\n", doc.ID, doc.Error)
		}
	}
	if len(report.Degraded) > 0 {
		fmt.Printf("\nDegraded documents (previous version still served):\n")
		for _, doc := range report.Degraded {
			fmt.Printf("  - %s: %s\n", doc.ID, doc.Error)
		}
	}
	return nil
}
