// Package billing holds the plan catalog and the payment gateway.
//
// The gateway interface covers the three conversations we have with the
// payment provider: open a checkout session, read a session's live status
// (poll path), and authenticate + decode a pushed webhook (webhook path).
// StripeGateway implements it; service tests use a fake.
package billing

import (
	"sort"
	"time"

	"github.com/sakif/veriqo/internal/apperror"
)

// Plan is something a user can buy. Prices are in the smallest currency
// unit (cents) so no float ever touches money.
type Plan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	PeriodDays  int    `json:"period_days"`
}

// Period is the premium time granted by one purchase.
func (p Plan) Period() time.Duration {
	return time.Duration(p.PeriodDays) * 24 * time.Hour
}

// MonthlyEquivalentCents spreads the plan price over 30-day months. The
// admin dashboard sums it into approximate recurring revenue.
func (p Plan) MonthlyEquivalentCents() int64 {
	if p.PeriodDays <= 0 {
		return 0
	}
	return p.AmountCents * 30 / int64(p.PeriodDays)
}

const (
	PlanMonthly = "monthly"
	PlanYearly  = "yearly"
)

// Catalog is the fixed set of purchasable plans.
type Catalog map[string]Plan

// DefaultCatalog returns the monthly ($6.99 / 30 days) and yearly
// ($59.00 / 365 days) premium plans.
func DefaultCatalog() Catalog {
	return Catalog{
		PlanMonthly: {ID: PlanMonthly, Name: "Monthly Premium", AmountCents: 699, Currency: "usd", PeriodDays: 30},
		PlanYearly:  {ID: PlanYearly, Name: "Yearly Premium", AmountCents: 5900, Currency: "usd", PeriodDays: 365},
	}
}

// Lookup returns the plan or a validation error naming plan_id.
func (c Catalog) Lookup(id string) (Plan, error) {
	p, ok := c[id]
	if !ok {
		return Plan{}, apperror.ValidationFailed("plan_id", "invalid plan")
	}
	return p, nil
}

// List returns the plans ordered by price.
func (c Catalog) List() []Plan {
	plans := make([]Plan, 0, len(c))
	for _, p := range c {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].AmountCents < plans[j].AmountCents })
	return plans
}
