// Package jitter считает интервалы отступления (backoff) со случайной добавкой,
// чтобы повторы от разных воркеров не приходили одновременно.
package jitter

import (
	"math/rand"
	"sync"
	"time"
)

// DefaultJitter — стандартный коэффициент джиттера (50%)
const DefaultJitter = 0.5

var (
	globalRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	randMutex  sync.Mutex
)

// Duration возвращает d с джиттером в диапазоне [d, d*(1+jitterFactor)].
func Duration(d time.Duration, jitterFactor float64) time.Duration {
	randMutex.Lock()
	f := globalRand.Float64()
	randMutex.Unlock()
	return d + time.Duration(f*jitterFactor*float64(d))
}

// ExponentialBackoff возвращает base*2^attempt, ограниченное max, с джиттером.
// attempt нумеруется с нуля.
func ExponentialBackoff(base, max time.Duration, attempt int, jitterFactor float64) time.Duration {
	return Duration(exponential(base, max, attempt), jitterFactor)
}

// Backoff — политика отступления для повторов задач.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// Rand задаёт источник случайности; nil — общий генератор пакета.
	Rand *rand.Rand
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max, Jitter: DefaultJitter}
}

// Next возвращает задержку перед попыткой attempt (с нуля).
func (b *Backoff) Next(attempt int) time.Duration {
	d := exponential(b.Base, b.Max, attempt)
	if b.Rand == nil {
		return Duration(d, b.Jitter)
	}
	return d + time.Duration(b.Rand.Float64()*b.Jitter*float64(d))
}

func exponential(base, max time.Duration, attempt int) time.Duration {
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}
