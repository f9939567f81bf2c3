package risk

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"github.com/kenn289/oryn-alert-hub-sub003/app/repository"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/cache"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/env"
)

const (
	velocityKeyPrefix = "risk:velocity:"
	velocityWindow    = 10 * time.Minute

	SignalInvalidSignature = "invalid_signature"
	SignalMissingUserAgent = "missing_user_agent"
	SignalHighVelocity     = "high_velocity"
	SignalYoungAccount     = "young_account"
	SignalDeniedIPRange    = "denied_ip_range"
)

// Input is the verification context the scorer evaluates.
type Input struct {
	IPAddress        string
	UserAgent        string
	UserID           uint
	SignaturePresent bool
	SignatureValid   bool
	AccountAge       time.Duration
}

// Scorer produces a normalized [0,1] fraud risk estimate and appends a
// SecurityEvent for every evaluation. It informs policy but is never a hard
// gate by itself: callers above the high-risk threshold defer activation for
// manual review instead of blocking, so a false positive cannot cost revenue.
type Scorer struct {
	events            repository.SecurityEventRepository
	highRiskThreshold float64
	velocityLimit     int64
	deniedPrefixes    []string

	// velocity is swappable for tests; the default counts attempts per IP in
	// a redis window.
	velocity func(ctx context.Context, ip string) int64
}

// NewScorer wires the scorer with its repositories and env thresholds.
func NewScorer(events repository.SecurityEventRepository) *Scorer {
	s := &Scorer{
		events:            events,
		highRiskThreshold: env.GetEnvFloat("RISK_HIGH_THRESHOLD", 0.7),
		velocityLimit:     int64(env.GetEnvInt("RISK_VELOCITY_LIMIT", 10)),
		deniedPrefixes:    splitCSV(env.GetEnv("RISK_DENIED_IP_PREFIXES", "")),
	}
	s.velocity = s.redisVelocity
	return s
}

// Score evaluates the input, persists the audit record and returns the risk
// score with the signals that produced it.
func (s *Scorer) Score(ctx context.Context, in Input) (float64, []string) {
	_ = ctx
	score := 0.0
	var signals []string

	if in.SignaturePresent && !in.SignatureValid {
		// A present-but-wrong signature implies tampering, not a typo.
		score = 1.0
		signals = append(signals, SignalInvalidSignature)
	}
	if strings.TrimSpace(in.UserAgent) == "" {
		score += 0.2
		signals = append(signals, SignalMissingUserAgent)
	}
	if s.velocity != nil && in.IPAddress != "" {
		if count := s.velocity(ctx, in.IPAddress); count > s.velocityLimit {
			score += 0.4
			signals = append(signals, SignalHighVelocity)
		}
	}
	if in.UserID != 0 && in.AccountAge > 0 && in.AccountAge < 24*time.Hour {
		score += 0.2
		signals = append(signals, SignalYoungAccount)
	}
	for _, prefix := range s.deniedPrefixes {
		if prefix != "" && strings.HasPrefix(in.IPAddress, prefix) {
			score += 0.4
			signals = append(signals, SignalDeniedIPRange)
			break
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	event := &models.SecurityEvent{
		IPAddress:   in.IPAddress,
		UserID:      in.UserID,
		RiskScore:   score,
		SignalsJSON: models.EncodeSignals(signals),
		UserAgent:   in.UserAgent,
	}
	if err := s.events.Create(event); err != nil {
		log.Errorf("[Risk] security event persist failed for ip %s: %v", in.IPAddress, err)
	}
	return score, signals
}

// IsHighRisk reports whether the score crosses the manual-review threshold.
func (s *Scorer) IsHighRisk(score float64) bool {
	return score >= s.highRiskThreshold
}

// RecordInvalidSignature captures a signature failure signal from paths that
// do not need a full evaluation result.
func (s *Scorer) RecordInvalidSignature(ctx context.Context, ip, userAgent string, userID uint) {
	s.Score(ctx, Input{
		IPAddress:        ip,
		UserAgent:        userAgent,
		UserID:           userID,
		SignaturePresent: true,
		SignatureValid:   false,
	})
}

func (s *Scorer) redisVelocity(ctx context.Context, ip string) int64 {
	count, err := cache.IncrWithWindow(ctx, velocityKeyPrefix+ip, velocityWindow)
	if err != nil {
		log.Errorf("[Risk] velocity counter failed for ip %s, falling back to audit trail: %v", ip, err)
		return s.auditVelocity(ip)
	}
	return count
}

// auditVelocity approximates the attempt rate from the security event trail
// when the redis counter is unavailable. Every evaluation writes an event, so
// counting recent rows per IP gives a usable lower bound.
func (s *Scorer) auditVelocity(ip string) int64 {
	count, err := s.events.CountRecentByIP(ip, time.Now().Add(-velocityWindow))
	if err != nil {
		log.Errorf("[Risk] audit velocity lookup failed for ip %s: %v", ip, err)
		return 0
	}
	return count
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
