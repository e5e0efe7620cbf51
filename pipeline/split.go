package pipeline

import (
	"math"
	"math/rand"
)

// SplitIndices 按固定种子打乱后切分训练/测试集（不分层）
// 测试集大小为 ceil(n*testRatio)，与常见实现保持一致
func SplitIndices(n int, testRatio float64, seed int64) (train []int, test []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	nTest := int(math.Ceil(float64(n) * testRatio))
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 0 {
		nTest = 0
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nTest:], perm[:nTest]
}
