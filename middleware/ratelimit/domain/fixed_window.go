package domain

import "time"

// FixedWindow conta requisições em janelas [start, start+window).
//
// Só conta requisições admitidas: um cliente bloqueado não empurra o contador
// além do limite. Na virada da janela podem passar até 2x limit em sequência.
func FixedWindow(old CounterState, p Policy, now time.Time) (CounterState, Verdict) {
	st := old
	if st.WindowStart.IsZero() || !now.Before(st.WindowStart.Add(p.Window)) {
		st.Count = 0
		st.WindowStart = now
	}

	resetAt := st.WindowStart.Add(p.Window)
	v := Verdict{Limit: p.Limit, ResetAt: resetAt}
	if st.Count < p.Limit {
		st.Count++
		v.Allowed = true
	} else {
		v.RetryAfter = resetAt.Sub(now)
	}
	v.Remaining = clampRemaining(p.Limit - st.Count)
	return st, v
}
