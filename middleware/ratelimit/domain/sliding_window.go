package domain

import (
	"math"
	"time"
)

// SlidingWindow é a aproximação por contador ponderado: a contagem efetiva é
// current + previous*(fração da janela anterior ainda sobreposta).
func SlidingWindow(old CounterState, p Policy, now time.Time) (CounterState, Verdict) {
	st := old
	if st.WindowStart.IsZero() {
		st = CounterState{WindowStart: now}
	} else if elapsed := now.Sub(st.WindowStart); elapsed >= 2*p.Window {
		st.PrevCount, st.Count = 0, 0
		st.WindowStart = now
	} else if elapsed >= p.Window {
		st.PrevCount, st.Count = st.Count, 0
		st.WindowStart = st.WindowStart.Add(p.Window)
	}

	overlap := 1 - fraction(now.Sub(st.WindowStart), p.Window)
	effective := float64(st.Count) + float64(st.PrevCount)*overlap
	limit := float64(p.Limit)

	resetAt := st.WindowStart.Add(p.Window)
	v := Verdict{Limit: p.Limit, ResetAt: resetAt}
	if effective < limit {
		st.Count++
		effective++
		v.Allowed = true
	} else {
		v.RetryAfter = slidingRetryAfter(st, p, now)
	}
	v.Remaining = clampRemaining(int64(math.Floor(limit - effective)))
	return st, v
}

func fraction(d, window time.Duration) float64 {
	if window <= 0 {
		return 1
	}
	f := float64(d) / float64(window)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// slidingRetryAfter estima quando a contagem efetiva cai abaixo do limite sem
// novas requisições admitidas.
func slidingRetryAfter(st CounterState, p Policy, now time.Time) time.Duration {
	w := float64(p.Window)
	limit := float64(p.Limit)
	var at time.Time
	if st.Count < p.Limit && st.PrevCount > 0 {
		// ainda nesta janela, quando o peso da anterior decair o suficiente
		f := 1 - (limit-float64(st.Count))/float64(st.PrevCount)
		at = st.WindowStart.Add(time.Duration(f * w))
	} else {
		// na próxima janela, com o contador atual virando o anterior
		f := 0.0
		if st.Count > 0 {
			f = 1 - limit/float64(st.Count)
		}
		at = st.WindowStart.Add(p.Window).Add(time.Duration(f * w))
	}
	d := at.Sub(now) + time.Millisecond
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
