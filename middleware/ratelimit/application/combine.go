package application

import (
	"ratelimit-engine/middleware/ratelimit/domain"
)

// Combine aplica "o mais restritivo vence": allowed é o AND de todos, remaining
// é o mínimo, e o veredito que prende (um que rejeitou, ou o de menor saldo)
// fornece limit, reset e escopo.
func Combine(verdicts []domain.Verdict) (domain.Verdict, bool) {
	if len(verdicts) == 0 {
		return domain.Verdict{}, false
	}

	binding := -1
	allowed := true
	remaining := verdicts[0].Remaining
	for i, v := range verdicts {
		if v.Remaining < remaining {
			remaining = v.Remaining
		}
		if !v.Allowed {
			allowed = false
		}
		if binding < 0 || moreRestrictive(v, verdicts[binding]) {
			binding = i
		}
	}

	out := verdicts[binding]
	out.Allowed = allowed
	out.Remaining = remaining
	return out, true
}

func moreRestrictive(a, b domain.Verdict) bool {
	if a.Allowed != b.Allowed {
		return !a.Allowed
	}
	if !a.Allowed {
		return a.RetryAfter > b.RetryAfter
	}
	if a.Remaining != b.Remaining {
		return a.Remaining < b.Remaining
	}
	return a.Limit < b.Limit
}
