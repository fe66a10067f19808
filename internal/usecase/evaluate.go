package usecase

import (
	"context"

	"docindex/internal/adapter/retriever"
)

// EvalCase is a query labelled with the documents that should answer it.
type EvalCase struct {
	Query    string            `yaml:"query" json:"query"`
	Filters  map[string]string `yaml:"filters,omitempty" json:"filters,omitempty"`
	Limit    int               `yaml:"limit,omitempty" json:"limit,omitempty"`
	Relevant []string          `yaml:"relevant" json:"relevant"`
}

// EvalCaseResult scores one case. Retrieved lists distinct document ids in
// rank order.
type EvalCaseResult struct {
	Query          string   `json:"query"`
	Retrieved      []string `json:"retrieved"`
	Precision      float64  `json:"precision"`
	Recall         float64  `json:"recall"`
	ReciprocalRank float64  `json:"reciprocal_rank"`
	NDCG           float64  `json:"ndcg"`
	Error          string   `json:"error,omitempty"`
}

// EvalReport averages the metrics over the cases that ran.
type EvalReport struct {
	Cases         []EvalCaseResult `json:"cases"`
	MeanPrecision float64          `json:"mean_precision"`
	MeanRecall    float64          `json:"mean_recall"`
	MRR           float64          `json:"mrr"`
	MeanNDCG      float64          `json:"mean_ndcg"`
}

// Evaluate runs every case through Preview and scores the ranked documents.
// Invalid cases are reported and left out of the means.
func (u *SearchUseCase) Evaluate(ctx context.Context, cases []EvalCase) (*EvalReport, error) {
	report := &EvalReport{Cases: make([]EvalCaseResult, 0, len(cases))}
	scored := 0
	for _, c := range cases {
		res := EvalCaseResult{Query: c.Query}
		results, err := u.Preview(ctx, SearchRequest{Query: c.Query, Filters: c.Filters, Limit: c.Limit})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Error = err.Error()
			report.Cases = append(report.Cases, res)
			continue
		}

		seen := make(map[string]struct{}, len(results))
		for _, r := range results {
			if _, ok := seen[r.DocumentID]; ok {
				continue
			}
			seen[r.DocumentID] = struct{}{}
			res.Retrieved = append(res.Retrieved, r.DocumentID)
		}
		res.Precision = retriever.PrecisionAtK(res.Retrieved, c.Relevant)
		res.Recall = retriever.RecallAtK(res.Retrieved, c.Relevant)
		res.ReciprocalRank = retriever.ReciprocalRank(res.Retrieved, c.Relevant)
		res.NDCG = retriever.BinaryNDCG(res.Retrieved, c.Relevant)
		report.Cases = append(report.Cases, res)

		report.MeanPrecision += res.Precision
		report.MeanRecall += res.Recall
		report.MRR += res.ReciprocalRank
		report.MeanNDCG += res.NDCG
		scored++
	}

	if scored > 0 {
		n := float64(scored)
		report.MeanPrecision /= n
		report.MeanRecall /= n
		report.MRR /= n
		report.MeanNDCG /= n
	}
	return report, nil
}
