package services

import (
	"context"
	"log"
	"sort"

	"app-link-service/models"
)

// ClaimStrategy names the matching path that produced a claim.
type ClaimStrategy string

const (
	StrategyToken       ClaimStrategy = "token"
	StrategySignals     ClaimStrategy = "signals"
	StrategyFingerprint ClaimStrategy = "fingerprint"
)

// ClaimResult is a successfully claimed link. LowConfidence is set when the
// signal path fell back to the most recent candidate below MinScore.
type ClaimResult struct {
	Link          *models.DeferredLink
	Strategy      ClaimStrategy
	Score         int
	LowConfidence bool

	// Set when a token claim resolved to a referral link with a known code
	ReferrerID   string
	ReferralCode string
}

// Path is the deep link to hand back to the app.
func (r *ClaimResult) Path() string {
	return r.Link.Target().Path
}

// ClaimResolver turns a claim request into at most one consumed DeferredLink.
// A nil result with a nil error means nothing matched.
type ClaimResolver struct {
	Links     *LinkStore
	Referrals *ReferralService
	Match     MatchConfig
	Metrics   *Metrics
}

func NewClaimResolver(links *LinkStore, referrals *ReferralService, match MatchConfig, metrics *Metrics) *ClaimResolver {
	return &ClaimResolver{Links: links, Referrals: referrals, Match: match, Metrics: metrics}
}

// ClaimByToken is the deterministic path: exact referrer token lookup.
func (r *ClaimResolver) ClaimByToken(ctx context.Context, token string) (*ClaimResult, error) {
	link, err := r.Links.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if link == nil {
		r.Metrics.ObserveClaim(StrategyToken, "not_found")
		return nil, nil
	}
	won, err := r.Links.MarkClaimed(ctx, link.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		r.Metrics.ObserveClaim(StrategyToken, "lost_race")
		return nil, nil
	}
	link.Claimed = true

	result := &ClaimResult{Link: link, Strategy: StrategyToken, Score: MaxSignalScore}
	if link.Kind == models.LinkKindReferral {
		r.attachReferral(ctx, result)
	}
	r.Metrics.ObserveClaim(StrategyToken, "claimed")
	log.Printf("✅ [CLAIM] token claim app=%s link=%s path=%s", link.AppID, link.ID, result.Path())
	return result, nil
}

// attachReferral surfaces the referrer behind a claimed referral link and
// advances a pending referral to "installed". Completed or expired referrals
// keep their milestone. A missing or unusable code is ignored.
func (r *ClaimResolver) attachReferral(ctx context.Context, result *ClaimResult) {
	if r.Referrals == nil {
		return
	}
	code := result.Link.Target().ReferralCode
	ref, err := r.Referrals.GetByCode(ctx, code)
	if err != nil {
		log.Printf("⚠️ [CLAIM] referral lookup failed for code %s: %v", code, err)
		return
	}
	if ref == nil {
		log.Printf("[CLAIM] referral link claimed for unknown code %s", code)
		return
	}
	result.ReferrerID = ref.ReferrerID
	result.ReferralCode = ref.ReferralCode

	if ref.Status != models.ReferralStatusPending {
		return
	}
	if _, err := r.Referrals.UpdateMilestone(ctx, code, models.MilestoneInstalled); err != nil {
		log.Printf("⚠️ [CLAIM] milestone update failed for code %s: %v", code, err)
	}
}

// ClaimBySignals is the probabilistic path. Only links of the app from the
// same IP inside the match window are candidates. The best scoring candidate
// at or above MinScore wins (newest on ties); when none qualifies the newest
// candidate is used anyway. If a claim loses a race to a concurrent caller
// the next candidate in the ranking is tried.
func (r *ClaimResolver) ClaimBySignals(ctx context.Context, appID string, signals models.DeviceSignals) (*ClaimResult, error) {
	signals = NormalizeSignals(signals)
	if signals.IP == "" || appID == "" {
		r.Metrics.ObserveClaim(StrategySignals, "invalid")
		return nil, nil
	}

	candidates, err := r.Links.FindByIPWindow(ctx, signals.IP, appID, r.Match.Window)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		r.Metrics.ObserveClaim(StrategySignals, "not_found")
		return nil, nil
	}

	for _, c := range rankCandidates(candidates, signals, r.Match) {
		won, err := r.Links.MarkClaimed(ctx, c.link.ID)
		if err != nil {
			return nil, err
		}
		if !won {
			continue
		}
		c.link.Claimed = true
		result := &ClaimResult{
			Link:          c.link,
			Strategy:      StrategySignals,
			Score:         c.score,
			LowConfidence: c.score < r.Match.MinScore,
		}
		outcome := "claimed"
		if result.LowConfidence {
			outcome = "claimed_fallback"
		}
		r.Metrics.ObserveClaim(StrategySignals, outcome)
		log.Printf("✅ [CLAIM] signal claim app=%s link=%s score=%d/%d candidates=%d fallback=%t",
			appID, c.link.ID, c.score, MaxSignalScore, len(candidates), result.LowConfidence)
		return result, nil
	}

	r.Metrics.ObserveClaim(StrategySignals, "lost_race")
	return nil, nil
}

// ClaimByFingerprint is the legacy path: exact fingerprint, newest wins.
func (r *ClaimResolver) ClaimByFingerprint(ctx context.Context, appID, fingerprint string) (*ClaimResult, error) {
	if appID == "" || fingerprint == "" {
		r.Metrics.ObserveClaim(StrategyFingerprint, "invalid")
		return nil, nil
	}
	candidates, err := r.Links.FindByFingerprint(ctx, fingerprint, appID)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		won, err := r.Links.MarkClaimed(ctx, candidates[i].ID)
		if err != nil {
			return nil, err
		}
		if !won {
			continue
		}
		candidates[i].Claimed = true
		r.Metrics.ObserveClaim(StrategyFingerprint, "claimed")
		return &ClaimResult{Link: &candidates[i], Strategy: StrategyFingerprint}, nil
	}
	r.Metrics.ObserveClaim(StrategyFingerprint, "not_found")
	return nil, nil
}

type scoredCandidate struct {
	link  *models.DeferredLink
	score int
}

// rankCandidates orders candidates in the sequence they should be claimed:
// those reaching MinScore by score then recency, followed by the rest by recency.
func rankCandidates(candidates []models.DeferredLink, claimed models.DeviceSignals, cfg MatchConfig) []scoredCandidate {
	ranked := make([]scoredCandidate, len(candidates))
	for i := range candidates {
		ranked[i] = scoredCandidate{
			link:  &candidates[i],
			score: ScoreSignals(candidates[i].Signals(), claimed, cfg.ScreenTolerance),
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		aq, bq := a.score >= cfg.MinScore, b.score >= cfg.MinScore
		if aq != bq {
			return aq
		}
		if aq && a.score != b.score {
			return a.score > b.score
		}
		return a.link.CreatedAt.After(b.link.CreatedAt)
	})
	return ranked
}
