// Package quota enforces per-tier message limits and tracks token usage
// in the keyspace backend. Admission checks run before the upstream call;
// usage recording runs after, and never blocks or fails a request.
package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"modelgate/internal/schema"
	"modelgate/internal/storage"
)

// Tier is a subscription level. Tiers map to fixed message budgets.
type Tier string

const (
	TierFree     Tier = "FREE"
	TierStarter  Tier = "STARTER"
	TierPro      Tier = "PRO"
	TierBusiness Tier = "BUSINESS"
)

// Limits holds the message budgets for one tier. A zero Daily or Monthly
// means that window is unbounded.
type Limits struct {
	Daily     int
	Monthly   int
	Unlimited bool
}

var tierLimits = map[Tier]Limits{
	TierFree:     {Daily: 50, Monthly: 1500},
	TierStarter:  {Monthly: 2000},
	TierPro:      {Unlimited: true},
	TierBusiness: {Unlimited: true},
}

// LimitsFor returns the budget table entry for a tier, defaulting unknown
// tiers to FREE.
func LimitsFor(tier Tier) Limits {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// TierFor resolves a user id to a tier. Anonymous users are FREE; the
// suffix conventions cover test accounts that have no profile record.
func TierFor(userID string) Tier {
	switch {
	case userID == "" || userID == "anonymous":
		return TierFree
	case strings.HasSuffix(userID, "_starter"):
		return TierStarter
	case strings.HasSuffix(userID, "_pro"):
		return TierPro
	}
	return TierFree
}

// ParseTier validates a tier string, such as a JWT tier claim.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := tierLimits[t]
	return t, ok
}

const (
	dailyTTL   = 24 * time.Hour
	monthlyTTL = 30 * 24 * time.Hour
	usageTTL   = 30 * 24 * time.Hour
)

// Usage is the current message consumption for a user.
type Usage struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

// Summary is the detailed usage report served by the usage endpoint.
type Summary struct {
	Tier      Tier           `json:"tier"`
	Usage     Usage          `json:"usage"`
	Limits    SummaryLimits  `json:"limits"`
	Remaining map[string]int `json:"remaining"`
}

// SummaryLimits mirrors Limits with -1 standing in for "no limit" so the
// JSON shape is stable.
type SummaryLimits struct {
	Daily     int  `json:"daily"`
	Monthly   int  `json:"monthly"`
	Unlimited bool `json:"unlimited"`
}

// Gate performs admission checks and usage accounting against a keyspace
// backend.
type Gate struct {
	backend storage.Backend
	log     *logrus.Logger
	now     func() time.Time
}

func New(backend storage.Backend, log *logrus.Logger) *Gate {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Gate{backend: backend, log: log, now: time.Now}
}

func (g *Gate) dateKey() string {
	return g.now().Format("2006-01-02")
}

func dailyMessagesKey(userID, date string) string {
	return fmt.Sprintf("usage:%s:%s:messages", userID, date)
}

func monthlyKey(userID string) string {
	return fmt.Sprintf("usage:%s:monthly", userID)
}

func usageKey(userID, date string) string {
	return fmt.Sprintf("usage:%s:%s", userID, date)
}

// CurrentUsage reads today's and this month's message counts. When no
// daily message counter exists yet, the count is estimated from recorded
// tokens at roughly 500 tokens per message.
func (g *Gate) CurrentUsage(ctx context.Context, userID string) (Usage, error) {
	date := g.dateKey()

	var usage Usage
	raw, err := g.backend.Get(ctx, dailyMessagesKey(userID, date))
	switch err {
	case nil:
		usage.Daily, _ = strconv.Atoi(raw)
	case storage.ErrNotFound:
	default:
		return Usage{}, err
	}

	if usage.Daily == 0 {
		fields, err := g.backend.HGetAll(ctx, usageKey(userID, date))
		if err != nil && err != storage.ErrNotFound {
			return Usage{}, err
		}
		in, _ := strconv.Atoi(fields["input_tokens"])
		out, _ := strconv.Atoi(fields["output_tokens"])
		usage.Daily = (in + out) / 500
	}

	raw, err = g.backend.Get(ctx, monthlyKey(userID))
	switch err {
	case nil:
		usage.Monthly, _ = strconv.Atoi(raw)
	case storage.ErrNotFound:
	default:
		return Usage{}, err
	}

	return usage, nil
}

// Admit reports whether the user may send another message under the
// given tier.
//
// The return values are (allowed, remaining, limit): remaining is the
// messages left under the tighter of the daily and monthly windows, and
// limit is the window that applies. Unlimited tiers return (true, -1, -1).
func (g *Gate) Admit(ctx context.Context, userID string, tier Tier) (bool, int, int, error) {
	limits := LimitsFor(tier)

	if limits.Unlimited {
		return true, -1, -1, nil
	}

	usage, err := g.CurrentUsage(ctx, userID)
	if err != nil {
		return false, 0, 0, err
	}

	if limits.Daily > 0 {
		if usage.Daily >= limits.Daily {
			return false, 0, limits.Daily, nil
		}
		dailyRemaining := limits.Daily - usage.Daily

		if limits.Monthly > 0 {
			if usage.Monthly >= limits.Monthly {
				return false, 0, limits.Monthly, nil
			}
			monthlyRemaining := limits.Monthly - usage.Monthly
			if monthlyRemaining < dailyRemaining {
				return true, monthlyRemaining, limits.Daily, nil
			}
			return true, dailyRemaining, limits.Daily, nil
		}
		return true, dailyRemaining, limits.Daily, nil
	}

	if limits.Monthly > 0 {
		if usage.Monthly >= limits.Monthly {
			return false, 0, limits.Monthly, nil
		}
		return true, limits.Monthly - usage.Monthly, limits.Monthly, nil
	}

	return true, -1, -1, nil
}

// RecordMessage bumps the daily and monthly message counters. Errors are
// logged and swallowed; accounting must never fail a served request.
func (g *Gate) RecordMessage(ctx context.Context, userID string) {
	if userID == "" {
		userID = "anonymous"
	}
	if _, err := g.backend.Incr(ctx, dailyMessagesKey(userID, g.dateKey()), dailyTTL); err != nil {
		g.log.WithError(err).WithField("user_id", userID).Warn("failed to increment daily message counter")
	}
	if _, err := g.backend.Incr(ctx, monthlyKey(userID), monthlyTTL); err != nil {
		g.log.WithError(err).WithField("user_id", userID).Warn("failed to increment monthly message counter")
	}
}

// RecordTokens adds a usage delta to today's per-user token hash, with a
// per-model breakdown field. Anonymous usage is not tracked.
func (g *Gate) RecordTokens(ctx context.Context, delta schema.UsageDelta) {
	if delta.UserID == "" || delta.UserID == "anonymous" {
		return
	}
	key := usageKey(delta.UserID, g.dateKey())
	total := delta.InputTokens + delta.OutputTokens

	incrs := []struct {
		field string
		n     int64
	}{
		{"input_tokens", int64(delta.InputTokens)},
		{"output_tokens", int64(delta.OutputTokens)},
		{"total_tokens", int64(total)},
		{fmt.Sprintf("model:%s:tokens", delta.Model), int64(total)},
	}
	for _, inc := range incrs {
		if err := g.backend.HIncrBy(ctx, key, inc.field, inc.n, usageTTL); err != nil {
			g.log.WithError(err).WithFields(logrus.Fields{
				"user_id": delta.UserID,
				"field":   inc.field,
			}).Warn("failed to record token usage")
			return
		}
	}
}

// UsageSummary builds the report served by the usage endpoint.
func (g *Gate) UsageSummary(ctx context.Context, userID string, tier Tier) (Summary, error) {
	limits := LimitsFor(tier)

	usage, err := g.CurrentUsage(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Tier:  tier,
		Usage: usage,
		Limits: SummaryLimits{
			Daily:     orUnbounded(limits.Daily, limits.Unlimited),
			Monthly:   orUnbounded(limits.Monthly, limits.Unlimited),
			Unlimited: limits.Unlimited,
		},
		Remaining: map[string]int{},
	}

	if limits.Unlimited {
		return s, nil
	}
	if limits.Daily > 0 {
		s.Remaining["daily"] = clampZero(limits.Daily - usage.Daily)
	}
	if limits.Monthly > 0 {
		s.Remaining["monthly"] = clampZero(limits.Monthly - usage.Monthly)
	}
	return s, nil
}

func orUnbounded(n int, unlimited bool) int {
	if unlimited || n == 0 {
		return -1
	}
	return n
}

func clampZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
