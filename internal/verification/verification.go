// Package verification implements C17: per-claim verification decisions
// and per-domain rejection bookkeeping, built directly on the C13 store's
// claim-rejection and domain-state tables.
package verification

import (
	"fmt"

	"github.com/lyra-research/lyra/internal/store"
)

// Decision is one claim's verification state.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionVerified Decision = "verified"
	DecisionRejected Decision = "rejected"
)

// Config bounds the thresholds DecideClaim and domain-blocking use.
type Config struct {
	// MinIndependentSupports is the number of distinct supporting
	// fragments a claim needs, with no refuting evidence, to verify.
	MinIndependentSupports int
	// RejectionRateThreshold is the combined rejection rate above which
	// a domain with enough samples is blocked.
	RejectionRateThreshold float64
	// MinRejectionSampleCount is the minimum total_claims a domain needs
	// before its rejection rate is acted on.
	MinRejectionSampleCount int
}

func (c Config) filled() Config {
	if c.MinIndependentSupports <= 0 {
		c.MinIndependentSupports = 2
	}
	if c.RejectionRateThreshold <= 0 {
		c.RejectionRateThreshold = 0.5
	}
	if c.MinRejectionSampleCount <= 0 {
		c.MinRejectionSampleCount = 5
	}
	return c
}

// Verifier decides claim verification state and maintains domain
// rejection bookkeeping.
type Verifier struct {
	DB     *store.DB
	Config Config
}

// New returns a Verifier with the given config (zero value fills in
// defaults on use).
func New(db *store.DB, cfg Config) *Verifier {
	return &Verifier{DB: db, Config: cfg.filled()}
}

// DecideClaim reports a claim's current verification state: rejected if
// a RejectClaim call already marked it not_adopted (covers both the
// dangerous-pattern and manual-rejection cases, since both routes call
// RejectClaim — see RejectForDangerousPattern/RejectManually below);
// otherwise verified once independent supporting evidence reaches
// MinIndependentSupports with no refuting evidence, pending otherwise.
func (v *Verifier) DecideClaim(claimID string) (Decision, error) {
	claim, err := v.DB.GetClaim(claimID)
	if err != nil {
		return "", fmt.Errorf("verification: get claim: %w", err)
	}
	if claim == nil {
		return "", fmt.Errorf("verification: unknown claim %q", claimID)
	}
	if claim.AdoptionStatus == "not_adopted" {
		return DecisionRejected, nil
	}

	conf, err := v.DB.GetClaimConfidence(claimID)
	if err != nil {
		return "", fmt.Errorf("verification: get claim confidence: %w", err)
	}
	independentSupports := map[string]bool{}
	refutes := 0
	for _, e := range conf.PerEvidence {
		switch e.Relation {
		case "supports":
			independentSupports[e.FragmentID] = true
		case "refutes":
			refutes++
		}
	}
	if refutes > 0 {
		return DecisionPending, nil
	}
	if len(independentSupports) >= v.Config.filled().MinIndependentSupports {
		return DecisionVerified, nil
	}
	return DecisionPending, nil
}

// RejectForDangerousPattern rejects claimID as sourced from a domain
// carrying a dangerous pattern, and records a security rejection against
// domain's rolling counters.
func (v *Verifier) RejectForDangerousPattern(claimID, domain string) error {
	if err := v.DB.RejectClaim(claimID, "dangerous_pattern"); err != nil {
		return fmt.Errorf("verification: reject claim: %w", err)
	}
	if err := v.DB.RecordClaimRejection(domain, true, false); err != nil {
		return fmt.Errorf("verification: record security rejection: %w", err)
	}
	return nil
}

// RejectManually rejects claimID by human decision and records a manual
// rejection against domain's rolling counters. security and manual
// rejections are kept mutually exclusive per claim by construction (a
// claim is rejected exactly once, via exactly one of
// RejectForDangerousPattern or RejectManually), so
// DomainRates' combined rate never double-counts a claim.
func (v *Verifier) RejectManually(claimID, domain, reason string) error {
	if err := v.DB.RejectClaim(claimID, reason); err != nil {
		return fmt.Errorf("verification: reject claim: %w", err)
	}
	if err := v.DB.RecordClaimRejection(domain, false, true); err != nil {
		return fmt.Errorf("verification: record manual rejection: %w", err)
	}
	return nil
}

// ObserveClean records that a claim sourced from domain cleared
// verification without rejection, for accurate rejection-rate
// denominators.
func (v *Verifier) ObserveClean(domain string) error {
	return v.DB.RecordClaimObservation(domain)
}

// Rates is the per-domain rejection-rate summary spec C17 defines.
type Rates struct {
	Domain       string
	SecurityRate float64
	ManualRate   float64
	CombinedRate float64
	TotalClaims  int
}

// DomainRates computes the three rejection rates for domain from its
// rolling counters. All rates are zero when TotalClaims is zero.
func (v *Verifier) DomainRates(domain string) (Rates, error) {
	s, err := v.DB.GetDomainState(domain)
	if err != nil {
		return Rates{}, fmt.Errorf("verification: get domain state: %w", err)
	}
	r := Rates{Domain: domain, TotalClaims: s.TotalClaims}
	if s.TotalClaims == 0 {
		return r, nil
	}
	r.SecurityRate = float64(s.SecurityRejectedClaims) / float64(s.TotalClaims)
	r.ManualRate = float64(s.ManualRejectedClaims) / float64(s.TotalClaims)
	r.CombinedRate = float64(s.SecurityRejectedClaims+s.ManualRejectedClaims) / float64(s.TotalClaims)
	return r, nil
}

// BlockReason values, per spec C17.
const (
	ReasonDangerousPattern  = "dangerous_pattern"
	ReasonHighRejectionRate = "high_rejection_rate"
	ReasonDenylist          = "denylist"
	ReasonManual            = "manual"
	ReasonUnknown           = "unknown"
)

// EvaluateBlock decides whether domain should be blocked, given its
// current dangerous_pattern flag and rejection rates: a dangerous
// pattern blocks immediately; otherwise a combined rejection rate above
// threshold blocks once enough samples have accumulated. Returns ("",
// false) when no block action is warranted.
func (v *Verifier) EvaluateBlock(domain string) (reason string, shouldBlock bool, err error) {
	s, err := v.DB.GetDomainState(domain)
	if err != nil {
		return "", false, fmt.Errorf("verification: get domain state: %w", err)
	}
	if s.DangerousPattern {
		return ReasonDangerousPattern, true, nil
	}
	rates, err := v.DomainRates(domain)
	if err != nil {
		return "", false, err
	}
	cfg := v.Config.filled()
	if rates.TotalClaims >= cfg.MinRejectionSampleCount && rates.CombinedRate > cfg.RejectionRateThreshold {
		return ReasonHighRejectionRate, true, nil
	}
	return "", false, nil
}

// Block applies a block decision by persisting it to domain_state.
func (v *Verifier) Block(domain, reason string) error {
	return v.DB.BlockDomain(domain, reason)
}

// UnblockRisk reports the risk level of unblocking a domain blocked for
// reason: high for dangerous_pattern or an unrecognized/unknown reason
// (the two cases where a client cannot infer "what to do" safely from
// the reason code alone), low for the rate- or policy-driven reasons.
func UnblockRisk(reason string) string {
	switch reason {
	case ReasonHighRejectionRate, ReasonDenylist, ReasonManual:
		return "low"
	default:
		return "high"
	}
}
