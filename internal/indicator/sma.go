package indicator

// SMA calculates Simple Moving Average
// Returns slice of length: len(prices) - period + 1
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)

	// Calculate first SMA
	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	result = append(result, sum/float64(period))

	// Rolling calculation
	for i := period; i < len(prices); i++ {
		sum = sum - prices[i-period] + prices[i]
		result = append(result, sum/float64(period))
	}

	return result
}

// RollingMax calculates the maximum over a trailing window.
// Returns slice of length: len(prices) - period + 1
func RollingMax(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)

	// Monotonic deque of indices with decreasing prices
	deque := make([]int, 0, period)
	for i, p := range prices {
		for len(deque) > 0 && prices[deque[len(deque)-1]] <= p {
			deque = deque[:len(deque)-1]
		}
		deque = append(deque, i)
		if deque[0] <= i-period {
			deque = deque[1:]
		}
		if i >= period-1 {
			result = append(result, prices[deque[0]])
		}
	}

	return result
}

// series is a window indicator aligned to the input index: value i is defined
// once i >= period-1.
type series struct {
	values []float64
	period int
}

func newSeries(values []float64, period int) series {
	return series{values: values, period: period}
}

func (s series) ok(i int) bool {
	return s.period > 0 && i >= s.period-1 && i-(s.period-1) < len(s.values)
}

func (s series) at(i int) float64 {
	return s.values[i-(s.period-1)]
}
