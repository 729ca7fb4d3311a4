package domain

import "time"

// Clock é a única fonte de tempo dos algoritmos. Cada store usa um único Clock,
// então refill e janelas são sempre calculados na mesma base.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapta uma função para Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
