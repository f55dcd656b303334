// Package gate decides whether a request may proceed by running an ordered
// list of named checks.
package gate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"riskgate/internal/metrics"
	"riskgate/internal/risk"
)

// Verdict is the outcome of a single check.
type Verdict int

const (
	// VerdictPass means the check is satisfied and the next one runs.
	VerdictPass Verdict = iota
	// VerdictAllow stops the chain and admits the request.
	VerdictAllow
	// VerdictDeny stops the chain and rejects the request.
	VerdictDeny
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictAllow:
		return "allow"
	case VerdictDeny:
		return "deny"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision is a verdict plus, for denials, the response to send.
type Decision struct {
	Verdict Verdict
	Status  int
	Code    string
	Message string
}

// Pass continues to the next check.
func Pass() Decision { return Decision{Verdict: VerdictPass} }

// Allow short-circuits the chain in favour of the request.
func Allow(code string) Decision { return Decision{Verdict: VerdictAllow, Code: code} }

// Deny rejects the request with an HTTP status and a client-facing message.
func Deny(status int, code, message string) Decision {
	return Decision{Verdict: VerdictDeny, Status: status, Code: code, Message: message}
}

// Request is what checks inspect. Checks may attach data for downstream handlers.
type Request struct {
	AdminToken string
	Wallet     string
	Mint       string
	// Risk is set by the risk gate once a result has been computed.
	Risk *risk.Result
}

// CheckFunc evaluates one rule. A returned error fails the chain closed.
type CheckFunc func(ctx context.Context, req *Request) (Decision, error)

// Check is a named rule.
type Check struct {
	Name string
	Run  CheckFunc
}

// Step records what one check decided.
type Step struct {
	Check   string `json:"check"`
	Verdict string `json:"verdict"`
	Code    string `json:"code,omitempty"`
}

// Outcome is the result of running a chain.
type Outcome struct {
	Chain     string
	Allowed   bool
	DecidedBy string
	Decision  Decision
	Trail     []Step
}

// Chain runs checks in order, stopping at the first Allow or Deny.
type Chain struct {
	name   string
	checks []Check
	logger zerolog.Logger
}

// NewChain builds a chain named for metrics and audit records.
func NewChain(name string, logger zerolog.Logger, checks ...Check) *Chain {
	return &Chain{
		name:   name,
		checks: checks,
		logger: logger.With().Str("component", "gate").Str("chain", name).Logger(),
	}
}

// Name returns the chain name.
func (c *Chain) Name() string { return c.name }

// Checks returns the check names in evaluation order.
func (c *Chain) Checks() []string {
	names := make([]string, len(c.checks))
	for i, ch := range c.checks {
		names[i] = ch.Name
	}
	return names
}

// Evaluate runs the chain against req. Reaching the end admits the request.
func (c *Chain) Evaluate(ctx context.Context, req *Request) Outcome {
	out := Outcome{Chain: c.name, Trail: make([]Step, 0, len(c.checks))}

	for _, check := range c.checks {
		d := c.runCheck(ctx, check, req)
		out.Trail = append(out.Trail, Step{Check: check.Name, Verdict: d.Verdict.String(), Code: d.Code})

		switch d.Verdict {
		case VerdictPass:
			continue
		case VerdictAllow:
			out.Allowed = true
		case VerdictDeny:
			out.Allowed = false
		default:
			d = Deny(http.StatusInternalServerError, "gate_error", "access check failed")
		}
		out.DecidedBy = check.Name
		out.Decision = d
		c.record(out)
		return out
	}

	out.Allowed = true
	out.DecidedBy = "end"
	out.Decision = Pass()
	c.record(out)
	return out
}

func (c *Chain) runCheck(ctx context.Context, check Check, req *Request) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str("check", check.Name).Interface("panic", r).Msg("check panicked; denying")
			d = Deny(http.StatusInternalServerError, "gate_error", "access check failed")
		}
	}()

	d, err := check.Run(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).Str("check", check.Name).Msg("check failed; denying")
		return Deny(http.StatusInternalServerError, "gate_error", "access check failed")
	}
	return d
}

func (c *Chain) record(out Outcome) {
	verdict := "deny"
	if out.Allowed {
		verdict = "allow"
	}
	metrics.GateDecisions.WithLabelValues(c.name, verdict, out.DecidedBy).Inc()

	evt := c.logger.Debug()
	if !out.Allowed {
		evt = c.logger.Info()
	}
	evt.Bool("allowed", out.Allowed).
		Str("decided_by", out.DecidedBy).
		Str("code", out.Decision.Code).
		Int("status", out.Decision.Status).
		Msg("gate decision")
}

// AnyOf passes when any of checks passes or allows; otherwise it returns the
// last denial. Sub-check errors propagate.
func AnyOf(name string, checks ...Check) Check {
	return Check{Name: name, Run: func(ctx context.Context, req *Request) (Decision, error) {
		last := Deny(http.StatusForbidden, "forbidden", "forbidden")
		for _, check := range checks {
			d, err := check.Run(ctx, req)
			if err != nil {
				return Decision{}, fmt.Errorf("%s: %w", check.Name, err)
			}
			if d.Verdict != VerdictDeny {
				return d, nil
			}
			last = d
		}
		return last, nil
	}}
}
