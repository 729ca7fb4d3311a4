package domain

import (
	"math"
	"time"
)

// TokenBucket: um bucket novo começa cheio (burst). A cada chamada reabastece
// elapsed*rate, limitado a burst, e consome 1 token se houver.
func TokenBucket(old CounterState, p Policy, now time.Time) (CounterState, Verdict) {
	st := old
	burst := float64(p.BurstCapacity)
	if st.LastRefill.IsZero() {
		st.Tokens = burst
		st.LastRefill = now
	} else if elapsed := now.Sub(st.LastRefill); elapsed > 0 {
		st.Tokens += elapsed.Seconds() * p.RefillRate
		st.LastRefill = now
	}
	// o burst efetivo pode ter diminuído (carga adaptativa)
	st.Tokens = math.Max(0, math.Min(burst, st.Tokens))

	v := Verdict{Limit: p.BurstCapacity}
	if st.Tokens >= 1 {
		st.Tokens--
		v.Allowed = true
	} else {
		v.RetryAfter = secondsToDuration((1 - st.Tokens) / p.RefillRate)
	}
	v.Remaining = int64(math.Floor(st.Tokens))
	v.ResetAt = now.Add(secondsToDuration((burst - st.Tokens) / p.RefillRate))
	return st, v
}
