package domain

import (
	"math"
	"time"
)

// LeakyBucket é a variante "admite a vazão constante, senão rejeita": não existe
// fila real. QueueDepth escoa a limit/window por segundo.
func LeakyBucket(old CounterState, p Policy, now time.Time) (CounterState, Verdict) {
	st := old
	capacity := float64(p.Capacity())
	rate := p.Rate()
	if st.LastDrain.IsZero() {
		st.QueueDepth = 0
		st.LastDrain = now
	} else if elapsed := now.Sub(st.LastDrain); elapsed > 0 {
		st.QueueDepth = math.Max(0, st.QueueDepth-elapsed.Seconds()*rate)
		st.LastDrain = now
	}

	v := Verdict{Limit: p.Capacity()}
	if st.QueueDepth+1 <= capacity {
		st.QueueDepth++
		v.Allowed = true
	} else {
		v.RetryAfter = secondsToDuration((st.QueueDepth + 1 - capacity) / rate)
	}
	v.Remaining = clampRemaining(int64(math.Floor(capacity - st.QueueDepth)))
	v.ResetAt = now.Add(secondsToDuration(st.QueueDepth / rate))
	return st, v
}
