package wait

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browserfarm/internal/faults"
)

// Counter is the DOM query a challenge wait needs from a page.
type Counter interface {
	Count(ctx context.Context, selector string) (int, error)
}

// DefaultChallengeSelectors match a Cloudflare interstitial.
var DefaultChallengeSelectors = []string{"#challenge-form", ".cf-challenge-running"}

// Challenge describes a bounded wait for an anti-bot interstitial to clear.
type Challenge struct {
	Selectors []string
	// Settle is slept once before the first check.
	Settle time.Duration
	Policy Policy
	// LogEvery controls progress logging; zero logs only start and finish.
	LogEvery int
}

// DefaultChallenge mirrors the interstitial timings seen in practice: half a
// minute for the page to settle, then one check per second for a minute.
func DefaultChallenge() Challenge {
	return Challenge{
		Selectors: DefaultChallengeSelectors,
		Settle:    30 * time.Second,
		Policy:    Policy{Interval: time.Second, MaxAttempts: 60},
		LogEvery:  10,
	}
}

// ChallengeCleared waits until none of the challenge selectors match. It
// returns false when no challenge was present at the first check.
func ChallengeCleared(ctx context.Context, page Counter, ch Challenge, log logrus.FieldLogger) (bool, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(ch.Selectors) == 0 {
		ch.Selectors = DefaultChallengeSelectors
	}
	if ch.Settle > 0 {
		if err := sleep(ctx, ch.Settle); err != nil {
			return false, err
		}
	}

	present := func(ctx context.Context) (bool, error) {
		for _, sel := range ch.Selectors {
			n, err := page.Count(ctx, sel)
			if err != nil {
				return false, faults.New(faults.ErrDriver, "query "+sel, err)
			}
			if n > 0 {
				return true, nil
			}
		}
		return false, nil
	}

	seen, err := present(ctx)
	if err != nil {
		return false, err
	}
	if !seen {
		return false, nil
	}

	log.Info("challenge detected, waiting for it to clear")
	// Each attempt sleeps first, so the loop itself needs no extra interval.
	each := Policy{MaxAttempts: ch.Policy.MaxAttempts}
	err = Poll(ctx, "challenge", each, func(ctx context.Context, attempt int) (bool, error) {
		if err := sleep(ctx, ch.Policy.Interval); err != nil {
			return false, err
		}
		still, err := present(ctx)
		if err != nil {
			return false, err
		}
		if !still {
			return true, nil
		}
		if ch.LogEvery > 0 && attempt%ch.LogEvery == 0 {
			log.WithField("attempt", attempt).Info("still waiting for challenge")
		}
		return false, nil
	})
	if err != nil {
		return true, err
	}
	log.Info("challenge cleared")
	return true, nil
}
