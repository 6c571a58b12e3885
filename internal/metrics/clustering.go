package metrics

import "math"

// Resolution quality metrics
//
// The resolver emits a partition of entity records into resolved
// entities; the roster's entity_id column induces a reference
// partition over the same records. Three standard external clustering
// measures quantify their agreement:
//
//   - Adjusted Rand Index: pair-counting agreement corrected for
//     chance; 1.0 identical, ~0 random, negative worse than random.
//     Instantly exposes cluster collapse after a matcher change.
//   - Variation of Information: information distance between the
//     partitions; 0 identical, larger is further apart
//   - BCubed precision/recall/F1: per-record purity and completeness,
//     the usual decomposition for entity resolution quality
//
// Every function takes two equal-length label slices aligned by
// element; labels are opaque cluster identifiers.
//
// References:
//   - Hubert & Arabie, "Comparing Partitions" (1985)
//   - Meila, "Comparing clusterings by variation of information" (2003)
//   - Amigo et al., "A comparison of extrinsic clustering evaluation
//     metrics based on formal constraints" (2009)

// AdjustedRandIndex computes the ARI between two partitions.
//
// ARI = (RI - Expected_RI) / (Max_RI - Expected_RI), evaluated over
// the pair-count contingency table.
func AdjustedRandIndex(predicted, reference []string) float64 {
	ct := buildContingency(predicted, reference)
	if ct == nil || ct.n < 2 {
		return 0.0
	}

	sumCellsC2 := 0.0
	for i := range ct.counts {
		for j := range ct.counts[i] {
			sumCellsC2 += comb2(ct.counts[i][j])
		}
	}
	sumRowsC2 := 0.0
	for _, a := range ct.rowSums {
		sumRowsC2 += comb2(a)
	}
	sumColsC2 := 0.0
	for _, b := range ct.colSums {
		sumColsC2 += comb2(b)
	}

	nC2 := comb2(ct.n)
	if nC2 == 0 {
		return 0.0
	}

	expectedIndex := (sumRowsC2 * sumColsC2) / nC2
	maxIndex := 0.5 * (sumRowsC2 + sumColsC2)

	denominator := maxIndex - expectedIndex
	if math.Abs(denominator) < 1e-12 {
		return 1.0 // both partitions place every pair identically
	}
	return (sumCellsC2 - expectedIndex) / denominator
}

// VariationOfInformation computes the VI distance between two
// partitions: VI = H(A|B) + H(B|A). Lower is better, 0 identical.
func VariationOfInformation(predicted, reference []string) float64 {
	ct := buildContingency(predicted, reference)
	if ct == nil || ct.n < 2 {
		return 0.0
	}
	nf := float64(ct.n)

	hPredGivenRef := 0.0
	hRefGivenPred := 0.0
	for i := range ct.counts {
		for j := range ct.counts[i] {
			nij := ct.counts[i][j]
			if nij == 0 {
				continue
			}
			pij := float64(nij) / nf
			hPredGivenRef -= pij * math.Log2(float64(nij)/float64(ct.colSums[j]))
			hRefGivenPred -= pij * math.Log2(float64(nij)/float64(ct.rowSums[i]))
		}
	}
	return hPredGivenRef + hRefGivenPred
}

// BCubed computes per-record precision, recall and their harmonic
// mean. Precision penalises records clustered with strangers, recall
// penalises reference clusters torn apart.
func BCubed(predicted, reference []string) (precision, recall, f1 float64) {
	n := len(predicted)
	if n == 0 || n != len(reference) {
		return 0, 0, 0
	}

	predMembers := membersByLabel(predicted)
	refMembers := membersByLabel(reference)

	var pSum, rSum float64
	for i := 0; i < n; i++ {
		cluster := predMembers[predicted[i]]
		overlap := 0
		for _, j := range cluster {
			if reference[j] == reference[i] {
				overlap++
			}
		}
		pSum += float64(overlap) / float64(len(cluster))
		rSum += float64(overlap) / float64(len(refMembers[reference[i]]))
	}

	precision = pSum / float64(n)
	recall = rSum / float64(n)
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

// contingency is the joint cluster-membership count table
type contingency struct {
	counts  [][]int
	rowSums []int
	colSums []int
	n       int
}

func buildContingency(predicted, reference []string) *contingency {
	n := len(predicted)
	if n == 0 || n != len(reference) {
		return nil
	}

	predIdx := labelIndex(predicted)
	refIdx := labelIndex(reference)

	counts := make([][]int, len(predIdx))
	for i := range counts {
		counts[i] = make([]int, len(refIdx))
	}
	for k := 0; k < n; k++ {
		counts[predIdx[predicted[k]]][refIdx[reference[k]]]++
	}

	rowSums := make([]int, len(predIdx))
	colSums := make([]int, len(refIdx))
	for i := range counts {
		for j := range counts[i] {
			rowSums[i] += counts[i][j]
			colSums[j] += counts[i][j]
		}
	}
	return &contingency{counts: counts, rowSums: rowSums, colSums: colSums, n: n}
}

// labelIndex assigns each distinct label a dense index in first-seen order
func labelIndex(labels []string) map[string]int {
	idx := make(map[string]int)
	for _, l := range labels {
		if _, ok := idx[l]; !ok {
			idx[l] = len(idx)
		}
	}
	return idx
}

// membersByLabel groups element indexes by their label
func membersByLabel(labels []string) map[string][]int {
	members := make(map[string][]int)
	for i, l := range labels {
		members[l] = append(members[l], i)
	}
	return members
}

// comb2 computes C(n, 2) = n*(n-1)/2
func comb2(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2.0
}
