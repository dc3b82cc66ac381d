package pipeline

import (
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"rbfnet/ml"
)

// Split partitions the preprocessed patterns into training and test sets.
// The same seed always yields the same partition. Classification datasets
// are split per class so both sets keep the class proportions.
func (p *Preprocessor) Split(trainFraction float64, seed int64) error {
	if !p.preprocessed() {
		return ErrNotPreprocessed
	}
	if !(trainFraction > 0 && trainFraction < 1) {
		return fmt.Errorf("%w: train fraction %v must be in (0, 1)", ml.ErrConfiguration, trainFraction)
	}

	rng := rand.New(rand.NewSource(seed))
	var train, test []int
	if p.classification {
		train, test = stratifiedSplit(p.y, trainFraction, rng)
	} else {
		perm := rng.Perm(len(p.x))
		nTrain := int(math.Floor(trainFraction * float64(len(perm))))
		train, test = perm[:nTrain], perm[nTrain:]
	}
	if len(train) == 0 || len(test) == 0 {
		return fmt.Errorf("%w: split of %d patterns at %.2f leaves an empty set (train %d, test %d)",
			ml.ErrConfiguration, len(p.x), trainFraction, len(train), len(test))
	}

	p.trainIdx = append([]int(nil), train...)
	p.testIdx = append([]int(nil), test...)
	p.logger.Debug("dataset split",
		zap.Int("train", len(train)),
		zap.Int("test", len(test)),
		zap.Int64("seed", seed))
	return nil
}

// SplitSizes returns the training and test set sizes; both are zero before Split.
func (p *Preprocessor) SplitSizes() (int, int) {
	return len(p.trainIdx), len(p.testIdx)
}

// stratifiedSplit shuffles each class's patterns and sends a rounded share of
// them to the training set. Classes are visited in index order.
func stratifiedSplit(y [][]float64, fraction float64, rng *rand.Rand) ([]int, []int) {
	groups := make(map[int][]int)
	maxClass := 0
	for i, row := range y {
		c := int(row[0])
		groups[c] = append(groups[c], i)
		if c > maxClass {
			maxClass = c
		}
	}

	var train, test []int
	for c := 0; c <= maxClass; c++ {
		members := groups[c]
		if len(members) == 0 {
			continue
		}
		rng.Shuffle(len(members), func(i, j int) {
			members[i], members[j] = members[j], members[i]
		})
		k := int(math.Round(fraction * float64(len(members))))
		train = append(train, members[:k]...)
		test = append(test, members[k:]...)
	}
	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test
}
