package features

import "fmt"

// Metrics are the scores reported per model: overall accuracy plus
// precision, recall and F1 for the positive (1) and negative (0) class.
type Metrics struct {
	OA  float64 `json:"OA"`
	P1  float64 `json:"P_1"`
	R1  float64 `json:"R_1"`
	F11 float64 `json:"F1_1"`
	P0  float64 `json:"P_0"`
	R0  float64 `json:"R_0"`
	F10 float64 `json:"F1_0"`
}

// Evaluate scores predictions. Undefined ratios (no predicted or no true
// samples of a class) are 0.
func Evaluate(yTrue, yPred []int64) (Metrics, error) {
	if len(yTrue) != len(yPred) {
		return Metrics{}, fmt.Errorf("length mismatch: %d labels, %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return Metrics{}, fmt.Errorf("no samples")
	}

	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}

	var m Metrics
	m.OA = float64(correct) / float64(len(yTrue))
	m.P1, m.R1, m.F11 = classScores(yTrue, yPred, 1)
	m.P0, m.R0, m.F10 = classScores(yTrue, yPred, 0)
	return m, nil
}

func classScores(yTrue, yPred []int64, class int64) (precision, recall, f1 float64) {
	var tp, fp, fn int
	for i := range yTrue {
		switch {
		case yPred[i] == class && yTrue[i] == class:
			tp++
		case yPred[i] == class:
			fp++
		case yTrue[i] == class:
			fn++
		}
	}
	precision = ratio(tp, tp+fp)
	recall = ratio(tp, tp+fn)
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// MajorityBaseline predicts the most frequent training class for every
// sample; ties go to the smaller class.
func MajorityBaseline(train []int64, n int) []int64 {
	counts := map[int64]int{}
	for _, y := range train {
		counts[y]++
	}
	var best int64
	bestN := -1
	for y, c := range counts {
		if c > bestN || (c == bestN && y < best) {
			best, bestN = y, c
		}
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = best
	}
	return out
}
