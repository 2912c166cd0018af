package resilience

import "time"

// Backoff bounds the in-place retries of one outbound call. These are distinct
// from the queue attempts: a call that exhausts its backoff fails the stage,
// and the queue decides whether the row gets another attempt.
type Backoff struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Breaker configures the per-operation circuit breaker.
type Breaker struct {
	Enabled       bool
	MinRequests   uint32
	FailureRatio  float64
	OpenFor       time.Duration
	HalfOpenCalls uint32
}

type Policy struct {
	Backoff Backoff
	Breaker Breaker
}

// BusPolicy suits the NATS publisher: short waits, the broker either answers
// quickly or the event is dropped and the row stays the source of truth.
func BusPolicy() Policy {
	return Policy{
		Backoff: Backoff{Attempts: 3, Initial: 100 * time.Millisecond, Max: 400 * time.Millisecond, Multiplier: 2},
		Breaker: Breaker{Enabled: true, MinRequests: 10, FailureRatio: 0.5, OpenFor: 30 * time.Second, HalfOpenCalls: 2},
	}
}

// UpstreamPolicy suits the language model and OCR services, which are slow to
// recover. attempts and openFor come from configuration; zero keeps defaults.
func UpstreamPolicy(attempts int, openFor time.Duration) Policy {
	p := Policy{
		Backoff: Backoff{Attempts: attempts, Initial: 500 * time.Millisecond, Max: 4 * time.Second, Multiplier: 2},
		Breaker: Breaker{Enabled: true, MinRequests: 5, FailureRatio: 0.5, OpenFor: openFor, HalfOpenCalls: 2},
	}
	if p.Backoff.Attempts <= 0 {
		p.Backoff.Attempts = 2
	}
	if p.Breaker.OpenFor <= 0 {
		p.Breaker.OpenFor = time.Minute
	}
	return p
}

func (p Policy) withDefaults() Policy {
	out := p
	def := BusPolicy()

	b := &out.Backoff
	if b.Attempts <= 0 {
		b.Attempts = def.Backoff.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = def.Backoff.Initial
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Backoff.Multiplier
	}

	br := &out.Breaker
	if br.MinRequests == 0 {
		br.MinRequests = def.Breaker.MinRequests
	}
	if br.FailureRatio <= 0 || br.FailureRatio > 1 {
		br.FailureRatio = def.Breaker.FailureRatio
	}
	if br.OpenFor <= 0 {
		br.OpenFor = def.Breaker.OpenFor
	}
	if br.HalfOpenCalls == 0 {
		br.HalfOpenCalls = def.Breaker.HalfOpenCalls
	}
	return out
}

// next returns the wait after a failed try, capped at Max.
func (b Backoff) next(current time.Duration) time.Duration {
	return min(time.Duration(float64(current)*b.Multiplier), b.Max)
}
