package upload

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds the retry loop. The delay starts at Initial and doubles
// after every failure; once the next delay would exceed Limit the upload
// is abandoned.
type Policy struct {
	Initial time.Duration
	Limit   time.Duration
}

// DefaultPolicy waits 1m, 2m, 4m, ... and gives up before any single wait
// longer than 24h.
var DefaultPolicy = Policy{Initial: time.Minute, Limit: 24 * time.Hour}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	// Never cap below the limit or the loop would retry forever.
	b.MaxInterval = 2 * p.Limit
	b.Reset()
	return b
}

// Delays lists every wait the policy allows, in order.
func (p Policy) Delays() []time.Duration {
	var out []time.Duration
	b := p.backOff()
	for {
		d := b.NextBackOff()
		if d > p.Limit || d <= 0 {
			return out
		}
		out = append(out, d)
	}
}
