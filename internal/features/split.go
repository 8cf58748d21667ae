package features

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Split divides fs into train and test sets, keeping each class's share
// equal in both. A class with at least two rows always puts one in test
// and keeps one in train. The same seed always yields the same split.
// Rows keep their original relative order inside each set.
func Split(fs *FeatureSet, testFraction float64, seed int64) (train, test *FeatureSet, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction %v must be between 0 and 1", testFraction)
	}

	byClass := map[int64][]int{}
	for i, y := range fs.Label {
		byClass[y] = append(byClass[y], i)
	}

	rng := rand.New(rand.NewSource(seed))
	var trainRows, testRows []int
	for _, class := range fs.Classes() {
		rows := byClass[class]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		n := int(math.Round(float64(len(rows)) * testFraction))
		if len(rows) > 1 {
			n = min(max(n, 1), len(rows)-1)
		} else {
			n = 0
		}
		testRows = append(testRows, rows[:n]...)
		trainRows = append(trainRows, rows[n:]...)
	}

	sort.Ints(trainRows)
	sort.Ints(testRows)
	return fs.Take(trainRows), fs.Take(testRows), nil
}
