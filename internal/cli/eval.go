package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"docindex/internal/usecase"
)

var (
	evalFile string
	evalJSON bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Measure search quality against labelled queries",
	Long: `Run a set of labelled queries and report precision, recall, MRR and nDCG
over the distinct documents each query returns. The queries file is YAML:

  - query: "refund policy"
    relevant: [policies/refunds.md]
  - query: "quarterly revenue"
    filters: {folder: reports}
    limit: 5
    relevant: [reports/q3.pdf, reports/q4.pdf]

Examples:
  docindex eval --queries eval.yaml
  docindex eval --queries eval.yaml --json`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVar(&evalFile, "queries", "", "YAML file of labelled queries (required)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output as JSON")
	_ = evalCmd.MarkFlagRequired("queries")
}

func loadEvalCases(path string) ([]usecase.EvalCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cases []usecase.EvalCase
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%s contains no queries", path)
	}
	return cases, nil
}

func runEval(cmd *cobra.Command, args []string) error {
	cases, err := loadEvalCases(evalFile)
	if err != nil {
		return err
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

	report, err := a.search.Evaluate(ctx, cases)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if evalJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println("SEARCH QUALITY")
	fmt.Println(strings.Repeat("=", 70))
	for i, c := range report.Cases {
		if c.Error != "" {
			fmt.Printf("%d. %q\n   error: %s\n\n", i+1, c.Query, c.Error)
			continue
		}
		fmt.Printf("%d. %q\n", i+1, c.Query)
		fmt.Printf("   P=%.3f  R=%.3f  RR=%.3f  nDCG=%.3f\n", c.Precision, c.Recall, c.ReciprocalRank, c.NDCG)
		fmt.Printf("   retrieved: %s\n\n", strings.Join(c.Retrieved, ", "))
	}
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("  Mean precision: %.3f\n", report.MeanPrecision)
	fmt.Printf("  Mean recall:    %.3f\n", report.MeanRecall)
	fmt.Printf("  MRR:            %.3f\n", report.MRR)
	fmt.Printf("  Mean nDCG:      %.3f\n", report.MeanNDCG)
	return nil
}
