package domain

import "fmt"

// UpdateFor devolve a função pura do algoritmo.
func UpdateFor(a Algorithm) (UpdateFunc, error) {
	switch a {
	case AlgorithmFixedWindow:
		return FixedWindow, nil
	case AlgorithmSlidingWindow:
		return SlidingWindow, nil
	case AlgorithmTokenBucket:
		return TokenBucket, nil
	case AlgorithmLeakyBucket:
		return LeakyBucket, nil
	}
	return nil, fmt.Errorf("unknown algorithm %q", a)
}
