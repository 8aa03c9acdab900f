package plan

// Key identifies a plan in the catalog. Keys are stable across billing
// providers; the provider-side product is referenced by Plan.ProductID.
type Key string

const (
	KeyFree  Key = "free"
	KeyBasic Key = "basic"
	KeyPlus  Key = "plus"
	KeyPro   Key = "pro"
)

// Resource represents a countable monthly quota.
type Resource string

const (
	ResourceLinks     Resource = "links"
	ResourceQRCodes   Resource = "qrcodes"
	ResourceRedirects Resource = "redirects"
)

// Unlimited indicates no limit for a resource.
const Unlimited int64 = -1

// BillingInterval represents the billing frequency for a plan.
type BillingInterval string

const (
	BillingIntervalNone    BillingInterval = "none" // free plan, no billing
	BillingIntervalMonthly BillingInterval = "monthly"
)

// Money represents a monetary amount in the smallest currency unit.
type Money struct {
	Amount   int64  // cents for USD
	Currency string // ISO 4217 code
}

// Plan describes a subscription plan and its monthly quotas.
// ProductID and PriceID are the billing platform's identifiers used for
// plan switches and checkout; both are empty for the free plan.
type Plan struct {
	Key       Key
	ProductID string
	PriceID   string
	Name      string
	Tier      int // ordering for upgrade/downgrade detection, higher is bigger
	Limits    map[Resource]int64
	Price     Money
	Interval  BillingInterval
	Public    bool
}

// IsDowngradeTo reports whether switching from p to target is a downgrade.
func (p Plan) IsDowngradeTo(target Plan) bool {
	return target.Tier < p.Tier
}

// LimitChange records a quota difference between two plans.
type LimitChange struct {
	From int64
	To   int64
}

// Compare returns the quotas that shrink when moving from current to target.
// Unlimited-to-limited counts as a decrease.
func Compare(current, target Plan) map[Resource]LimitChange {
	decreased := make(map[Resource]LimitChange)

	for res, targetLimit := range target.Limits {
		currentLimit, ok := current.Limits[res]
		if !ok || targetLimit == currentLimit {
			continue
		}
		if targetLimit == Unlimited {
			continue
		}
		if currentLimit == Unlimited || currentLimit > targetLimit {
			decreased[res] = LimitChange{From: currentLimit, To: targetLimit}
		}
	}

	return decreased
}
