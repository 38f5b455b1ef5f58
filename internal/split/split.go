// Package split partitions a dataset into stratified train and test subsets.
package split

import (
	"math"
	"math/rand"
	"sort"

	"github.com/danielpatrickdp/irisgate/internal/dataset"
	"github.com/danielpatrickdp/irisgate/internal/failure"
)

// #region split-type
// Split is a disjoint partition of a dataset. Rows are shared with the
// source dataset and must not be modified.
type Split struct {
	TrainX     [][]float64
	TrainY     []int
	TestX      [][]float64
	TestY      []int
	TrainIndex []int // positions in the source dataset, ascending
	TestIndex  []int // positions in the source dataset, ascending
}

// #endregion split-type

// #region stratified
// Stratified draws ceil(testFraction*n) examples into the test subset so
// that every class contributes in proportion to its size. The draw is fully
// determined by (ds, testFraction, seed).
func Stratified(ds dataset.Dataset, testFraction float64, seed int64) (Split, error) {
	if !(testFraction > 0 && testFraction < 1) {
		return Split{}, failure.Invalidf("test fraction must be in (0,1), got %v", testFraction)
	}
	if err := ds.Validate(); err != nil {
		return Split{}, failure.Invalidf("%v", err)
	}

	n := ds.Len()
	counts := ds.ClassCounts()
	present := 0
	for c, cnt := range counts {
		if cnt == 0 {
			continue
		}
		if cnt < 2 {
			return Split{}, failure.Invalidf("class %q has %d member; stratification needs at least 2", ds.ClassNames[c], cnt)
		}
		present++
	}

	nTest := int(math.Ceil(testFraction*float64(n) - 1e-9))
	nTrain := n - nTest
	if nTest < present {
		return Split{}, failure.Invalidf("test size %d is smaller than the number of classes %d", nTest, present)
	}
	if nTrain < present {
		return Split{}, failure.Invalidf("train size %d is smaller than the number of classes %d", nTrain, present)
	}

	alloc := allocate(counts, nTest, n)

	members := make([][]int, len(counts))
	for i, l := range ds.Labels {
		members[l] = append(members[l], i)
	}

	rng := rand.New(rand.NewSource(seed))
	var testIdx, trainIdx []int
	for c, idx := range members {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		testIdx = append(testIdx, idx[:alloc[c]]...)
		trainIdx = append(trainIdx, idx[alloc[c]:]...)
	}
	sort.Ints(testIdx)
	sort.Ints(trainIdx)

	s := Split{
		TrainIndex: trainIdx,
		TestIndex:  testIdx,
		TrainX:     make([][]float64, len(trainIdx)),
		TrainY:     make([]int, len(trainIdx)),
		TestX:      make([][]float64, len(testIdx)),
		TestY:      make([]int, len(testIdx)),
	}
	for i, p := range trainIdx {
		s.TrainX[i] = ds.Features[p]
		s.TrainY[i] = ds.Labels[p]
	}
	for i, p := range testIdx {
		s.TestX[i] = ds.Features[p]
		s.TestY[i] = ds.Labels[p]
	}
	return s, nil
}

// #endregion stratified

// #region allocate
// allocate spreads total draws over classes proportionally to counts. Each
// class gets the floor of its exact share; the leftover draws go to the
// classes with the largest fractional remainders, lower index first on ties.
func allocate(counts []int, total, n int) []int {
	alloc := make([]int, len(counts))
	frac := make([]float64, len(counts))
	assigned := 0
	for c, cnt := range counts {
		exact := float64(cnt) * float64(total) / float64(n)
		alloc[c] = int(math.Floor(exact))
		frac[c] = exact - float64(alloc[c])
		assigned += alloc[c]
	}

	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return frac[order[a]] > frac[order[b]]
	})
	for i := 0; assigned < total && i < len(order); i++ {
		c := order[i]
		if alloc[c] < counts[c] {
			alloc[c]++
			assigned++
		}
	}
	return alloc
}

// #endregion allocate
