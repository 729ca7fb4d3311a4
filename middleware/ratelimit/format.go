// Formatação de valores numéricos em headers: strconv direto, sem notação
// científica e com arredondamento para cima em segundos.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

// ceilSeconds arredonda para cima; nunca negativo.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}

// retryAfterSeconds nunca devolve 0.
func retryAfterSeconds(d time.Duration) int64 {
	if s := ceilSeconds(d); s > 0 {
		return s
	}
	return 1
}
