package retriever

import "math"

// PrecisionAtK is the share of retrieved ids that are relevant.
func PrecisionAtK(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	return float64(countRelevant(retrieved, relevant)) / float64(len(retrieved))
}

// RecallAtK is the share of relevant ids that were retrieved.
func RecallAtK(retrieved, relevant []string) float64 {
	if len(relevant) == 0 {
		return 0
	}
	return float64(countRelevant(retrieved, relevant)) / float64(len(relevant))
}

// ReciprocalRank is 1/rank of the first relevant id, or 0 when none was
// retrieved.
func ReciprocalRank(retrieved, relevant []string) float64 {
	set := toSet(relevant)
	for i, r := range retrieved {
		if _, ok := set[r]; ok {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// BinaryNDCG scores retrieved with gain 1 for relevant ids against the
// ideal ordering that puts every relevant id first.
func BinaryNDCG(retrieved, relevant []string) float64 {
	set := toSet(relevant)
	gains := make([]float64, len(retrieved))
	for i, r := range retrieved {
		if _, ok := set[r]; ok {
			gains[i] = 1
		}
	}
	ideal := make([]float64, min(len(relevant), len(retrieved)))
	for i := range ideal {
		ideal[i] = 1
	}
	return NDCG(gains, ideal)
}

// NDCG normalizes the discounted cumulative gain of scores by that of ideal.
func NDCG(scores, ideal []float64) float64 {
	idcg := calculateDCG(ideal)
	if idcg == 0 {
		return 0
	}
	return calculateDCG(scores) / idcg
}

func calculateDCG(scores []float64) float64 {
	dcg := 0.0
	for i, score := range scores {
		dcg += score / math.Log2(float64(i+2))
	}
	return dcg
}

func countRelevant(retrieved, relevant []string) int {
	set := toSet(relevant)
	hits := 0
	for _, r := range retrieved {
		if _, ok := set[r]; ok {
			hits++
		}
	}
	return hits
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
