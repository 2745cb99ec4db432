package search

import (
	"encoding/json"
	"math"
	"os"
	"sync"
	"time"
)

// limitsConfig is the static, operator-edited quota configuration persisted
// in brave_search_limits.json.
type limitsConfig struct {
	MonthlyLimit  int    `json:"monthly_limit"`
	BillingDay    int    `json:"billing_day"`
	DailyStrategy string `json:"daily_strategy"` // "even" | "unlimited"
}

// dailyCounter is one date's usage count.
type dailyCounter struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// usageState is the mutable quota state persisted in brave_search_usage.json.
type usageState struct {
	PeriodStart string       `json:"period_start"`
	PeriodCount int          `json:"period_count"`
	Daily       dailyCounter `json:"daily"`
}

// QuotaGate enforces the monthly/daily search budget and persists usage
// across restarts via two small JSON files, guarded by a single mutex. No
// example repo in this codebase's dependency pack persists small local
// counters through a library, so this stays on the standard library:
// os.ReadFile/os.WriteFile plus encoding/json is the whole mechanism.
type QuotaGate struct {
	mu sync.Mutex

	limitsPath string
	usagePath  string

	limits limitsConfig
	usage  usageState
}

// NewQuotaGate loads (or initializes) the two quota files.
func NewQuotaGate(limitsPath, usagePath string, monthlyLimit, billingDay int, dailyStrategy string) (*QuotaGate, error) {
	g := &QuotaGate{limitsPath: limitsPath, usagePath: usagePath}

	g.limits = limitsConfig{MonthlyLimit: monthlyLimit, BillingDay: billingDay, DailyStrategy: dailyStrategy}
	if b, err := os.ReadFile(limitsPath); err == nil {
		_ = json.Unmarshal(b, &g.limits)
	}
	if g.limits.BillingDay <= 0 {
		g.limits.BillingDay = 1
	}
	if err := g.persistLimits(); err != nil {
		return nil, err
	}

	if b, err := os.ReadFile(usagePath); err == nil {
		_ = json.Unmarshal(b, &g.usage)
	}
	return g, nil
}

func (g *QuotaGate) persistLimits() error {
	b, err := json.MarshalIndent(g.limits, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.limitsPath, b, 0o644)
}

func (g *QuotaGate) persistUsage() error {
	b, err := json.MarshalIndent(g.usage, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.usagePath, b, 0o644)
}

// periodStart computes the most recent billing_day on or before today,
// clamped to the month's length.
func periodStart(today time.Time, billingDay int) time.Time {
	y, m, _ := today.Date()
	day := billingDay
	lastOfMonth := time.Date(y, m+1, 0, 0, 0, 0, 0, today.Location()).Day()
	if day > lastOfMonth {
		day = lastOfMonth
	}
	candidate := time.Date(y, m, day, 0, 0, 0, 0, today.Location())
	if candidate.After(today) {
		py, pm, _ := candidate.AddDate(0, -1, 0).Date()
		lastOfPrev := time.Date(py, pm+1, 0, 0, 0, 0, 0, today.Location()).Day()
		day = billingDay
		if day > lastOfPrev {
			day = lastOfPrev
		}
		candidate = time.Date(py, pm, day, 0, 0, 0, 0, today.Location())
	}
	return candidate
}

// nextPeriodStart is the same billing day one month after start.
func nextPeriodStart(start time.Time, billingDay int) time.Time {
	y, m, _ := start.Date()
	next := time.Date(y, m+1, 1, 0, 0, 0, 0, start.Location())
	lastOfNext := time.Date(next.Year(), next.Month()+1, 0, 0, 0, 0, 0, start.Location()).Day()
	day := billingDay
	if day > lastOfNext {
		day = lastOfNext
	}
	return time.Date(next.Year(), next.Month(), day, 0, 0, 0, 0, start.Location())
}

// ErrQuotaExhausted means the monthly or daily budget has been consumed.
type ErrQuotaExhausted struct{ Reason string }

func (e ErrQuotaExhausted) Error() string { return e.Reason }

func (g *QuotaGate) resetIfNewPeriod(now time.Time) {
	start := periodStart(now, g.limits.BillingDay)
	startStr := start.Format("2006-01-02")
	if g.usage.PeriodStart != startStr {
		g.usage.PeriodStart = startStr
		g.usage.PeriodCount = 0
		g.usage.Daily = dailyCounter{}
	}
}

// CheckAndReserve verifies the monthly (and, if configured, daily) budget
// has room as of now. It does not persist anything — callers issue the
// search call next and only invoke Commit on a 200 response.
func (g *QuotaGate) CheckAndReserve(now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetIfNewPeriod(now)

	if g.limits.MonthlyLimit > 0 && g.usage.PeriodCount >= g.limits.MonthlyLimit {
		return ErrQuotaExhausted{Reason: "monthly search quota exhausted"}
	}

	if g.limits.DailyStrategy == "even" && g.limits.MonthlyLimit > 0 {
		start := periodStart(now, g.limits.BillingDay)
		next := nextPeriodStart(start, g.limits.BillingDay)
		daysRemaining := math.Ceil(next.Sub(now).Hours() / 24)
		if daysRemaining < 1 {
			daysRemaining = 1
		}
		remaining := g.limits.MonthlyLimit - g.usage.PeriodCount
		dailyBudget := int(math.Ceil(float64(remaining) / daysRemaining))

		today := now.Format("2006-01-02")
		count := 0
		if g.usage.Daily.Date == today {
			count = g.usage.Daily.Count
		}
		if count >= dailyBudget {
			return ErrQuotaExhausted{Reason: "daily search quota exhausted"}
		}
	}
	return nil
}

// Commit atomically increments the monthly and daily counters after a
// successful (200) search call. Must only be called once CheckAndReserve
// has returned nil for the same call.
func (g *QuotaGate) Commit(now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetIfNewPeriod(now)
	g.usage.PeriodCount++

	today := now.Format("2006-01-02")
	if g.usage.Daily.Date != today {
		g.usage.Daily = dailyCounter{Date: today, Count: 0}
	}
	g.usage.Daily.Count++

	return g.persistUsage()
}
