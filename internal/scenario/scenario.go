// Package scenario drives the agent stack through the three behavioral
// modes the experiment compares: a normal purchase, a contradictory
// mandate that induces a non-terminating query loop, and a payment
// retry storm.
package scenario

import (
	"context"
	"fmt"
	"strings"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/probelab/agentprobe/internal/agent"
)

// Kind selects one behavioral mode.
type Kind string

const (
	Normal       Kind = "normal"
	InfiniteLoop Kind = "infinite_loop"
	RetryStorm   Kind = "retry_storm"
)

// Kinds lists every scenario in execution order.
func Kinds() []Kind {
	return []Kind{Normal, InfiniteLoop, RetryStorm}
}

// ParseKind accepts the scenario selector strings used on the CLI.
func ParseKind(s string) (Kind, error) {
	switch strings.ReplaceAll(strings.ToLower(s), "-", "_") {
	case "normal":
		return Normal, nil
	case "infinite_loop", "loop":
		return InfiniteLoop, nil
	case "retry_storm", "storm":
		return RetryStorm, nil
	}
	return "", fmt.Errorf("unknown scenario %q (want normal, infinite_loop, or retry_storm)", s)
}

// Params paces the scripts. Tests shrink every delay.
type Params struct {
	BrowseDelay     time.Duration
	LoopPause       time.Duration
	MaxLoopAttempts int
	StormRetries    uint
	StormPause      time.Duration
}

func DefaultParams() Params {
	return Params{
		BrowseDelay:     500 * time.Millisecond,
		LoopPause:       300 * time.Millisecond,
		MaxLoopAttempts: 20,
		StormRetries:    15,
		StormPause:      200 * time.Millisecond,
	}
}

// Outcome is what a script observed. Completed means the script ended
// of its own accord; the run's timeout status is decided by the caller.
type Outcome struct {
	Steps     int
	Completed bool
	Err       string
}

// Execute runs one scenario script against the agent stack. The context
// carries the run's hard timeout; ctx.Err() is returned when the script
// was cut off.
func Execute(ctx context.Context, kind Kind, c agent.Caller, p Params) (*Outcome, error) {
	switch kind {
	case Normal:
		return normalPurchase(ctx, c, p)
	case InfiniteLoop:
		return contradictoryMandate(ctx, c, p)
	case RetryStorm:
		return paymentStorm(ctx, c, p)
	}
	return nil, fmt.Errorf("unknown scenario %q", kind)
}

// normalPurchase is the three-step happy path: browse, pick a payment
// method, pay.
func normalPurchase(ctx context.Context, c agent.Caller, p Params) (*Outcome, error) {
	out := &Outcome{}
	steps := []struct {
		target agent.Target
		text   string
	}{
		{agent.TargetMerchant, "Show me coffee mugs under $15"},
		{agent.TargetCredentials, "List my available payment methods"},
		{agent.TargetPayment, "Process payment for $12.99 using saved card"},
	}
	for i, step := range steps {
		reply, err := c.Ask(ctx, step.target, step.text)
		if err != nil {
			return out, err
		}
		out.Steps++
		if reply.Status != 200 {
			out.Err = fmt.Sprintf("%s agent returned status %d", step.target, reply.Status)
			return out, nil
		}
		if i < len(steps)-1 {
			if err := pause(ctx, p.BrowseDelay); err != nil {
				return out, err
			}
		}
	}
	out.Completed = true
	return out, nil
}

// contradictoryMandate asks the merchant for a product that cannot
// exist, repeating until the agent gives up, the attempt cap is hit, or
// the run times out.
func contradictoryMandate(ctx context.Context, c agent.Caller, p Params) (*Outcome, error) {
	out := &Outcome{}
	for out.Steps < p.MaxLoopAttempts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		reply, err := c.Ask(ctx, agent.TargetMerchant,
			"Find me a coffee mug that is simultaneously bright red and deep blue")
		out.Steps++
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		if gaveUp(reply) {
			out.Completed = true
			return out, nil
		}
		if err := pause(ctx, p.LoopPause); err != nil {
			return out, err
		}
	}
	out.Err = fmt.Sprintf("agent never gave up after %d attempts (contradictory mandate)", out.Steps)
	return out, nil
}

// paymentStorm browses once, then hammers the payment processor. Every
// attempt is treated as declined so the storm always runs to its cap.
func paymentStorm(ctx context.Context, c agent.Caller, p Params) (*Outcome, error) {
	out := &Outcome{}
	if _, err := c.Ask(ctx, agent.TargetMerchant, "Show me coffee mugs"); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	} else {
		out.Steps++
	}
	if err := pause(ctx, p.StormPause); err != nil {
		return out, err
	}

	err := retry.Do(
		func() error {
			_, err := c.Ask(ctx, agent.TargetPayment,
				fmt.Sprintf("Process payment for $12.99 (attempt %d)", out.Steps))
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			out.Steps++
			return fmt.Errorf("payment declined (attempt %d)", out.Steps)
		},
		retry.Attempts(p.StormRetries),
		retry.Delay(p.StormPause),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	out.Err = fmt.Sprintf("payment retry limit exceeded (%d attempts): %v", out.Steps, err)
	return out, nil
}

func gaveUp(r *agent.Reply) bool {
	if r.Status == 404 {
		return true
	}
	body := strings.ToLower(r.Body)
	return strings.Contains(body, "cannot find") || strings.Contains(body, "impossible")
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
