package plan

import (
	"errors"
	"fmt"
	"maps"
)

var (
	ErrPlanNotFound      = errors.New("plan not found")
	ErrInvalidCatalog    = errors.New("invalid plan catalog configuration")
	ErrProductIDMissing  = errors.New("paid plan requires a product ID")
	ErrDuplicateProduct  = errors.New("duplicate product ID in catalog")
	ErrNoFreePlanDefined = errors.New("catalog requires a free plan")
)

// Catalog is a static, read-only lookup table from plan keys and billing
// product IDs to plans. Construct once at startup.
type Catalog struct {
	plans     map[Key]Plan
	byProduct map[string]Key
}

// NewCatalog validates and indexes the given plans.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, ErrInvalidCatalog
	}

	c := &Catalog{
		plans:     make(map[Key]Plan, len(plans)),
		byProduct: make(map[string]Key, len(plans)),
	}

	for _, p := range plans {
		if p.Key == "" {
			return nil, fmt.Errorf("%w: empty plan key", ErrInvalidCatalog)
		}
		if _, exists := c.plans[p.Key]; exists {
			return nil, fmt.Errorf("%w: duplicate plan key %q", ErrInvalidCatalog, p.Key)
		}
		if p.Interval != BillingIntervalNone && (p.ProductID == "" || p.PriceID == "") {
			return nil, fmt.Errorf("%w: plan %q", ErrProductIDMissing, p.Key)
		}
		if p.ProductID != "" {
			if _, exists := c.byProduct[p.ProductID]; exists {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateProduct, p.ProductID)
			}
			c.byProduct[p.ProductID] = p.Key
		}

		p.Limits = maps.Clone(p.Limits)
		c.plans[p.Key] = p
	}

	if _, ok := c.plans[KeyFree]; !ok {
		return nil, ErrNoFreePlanDefined
	}

	return c, nil
}

// ByKey returns the plan for the given key.
func (c *Catalog) ByKey(key Key) (Plan, error) {
	p, ok := c.plans[key]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, key)
	}
	return p, nil
}

// ByProductID resolves a plan from the billing platform's product ID.
func (c *Catalog) ByProductID(productID string) (Plan, error) {
	key, ok := c.byProduct[productID]
	if !ok {
		return Plan{}, fmt.Errorf("%w: product %q", ErrPlanNotFound, productID)
	}
	return c.plans[key], nil
}

// Default returns the free plan every account falls back to.
func (c *Catalog) Default() Plan {
	return c.plans[KeyFree]
}

// Config carries the billing platform product and price IDs for the paid
// plans.
type Config struct {
	BasicProductID string `env:"PLAN_BASIC_PRODUCT_ID,required"`
	BasicPriceID   string `env:"PLAN_BASIC_PRICE_ID,required"`
	PlusProductID  string `env:"PLAN_PLUS_PRODUCT_ID,required"`
	PlusPriceID    string `env:"PLAN_PLUS_PRICE_ID,required"`
	ProProductID   string `env:"PLAN_PRO_PRODUCT_ID,required"`
	ProPriceID     string `env:"PLAN_PRO_PRICE_ID,required"`
}

// NewDefaultCatalog builds the standard Linklet catalog with the product IDs
// from cfg. Quotas reset monthly (see pkg/usage).
func NewDefaultCatalog(cfg Config) (*Catalog, error) {
	return NewCatalog(
		Plan{
			Key: KeyFree, Name: "Free", Tier: 0, Public: true,
			Interval: BillingIntervalNone,
			Limits: map[Resource]int64{
				ResourceLinks:     25,
				ResourceQRCodes:   5,
				ResourceRedirects: 1_000,
			},
		},
		Plan{
			Key: KeyBasic, Name: "Basic", Tier: 1, Public: true,
			ProductID: cfg.BasicProductID,
			PriceID:   cfg.BasicPriceID,
			Interval:  BillingIntervalMonthly,
			Price:     Money{Amount: 900, Currency: "USD"},
			Limits: map[Resource]int64{
				ResourceLinks:     250,
				ResourceQRCodes:   50,
				ResourceRedirects: 10_000,
			},
		},
		Plan{
			Key: KeyPlus, Name: "Plus", Tier: 2, Public: true,
			ProductID: cfg.PlusProductID,
			PriceID:   cfg.PlusPriceID,
			Interval:  BillingIntervalMonthly,
			Price:     Money{Amount: 2900, Currency: "USD"},
			Limits: map[Resource]int64{
				ResourceLinks:     1_000,
				ResourceQRCodes:   250,
				ResourceRedirects: 100_000,
			},
		},
		Plan{
			Key: KeyPro, Name: "Pro", Tier: 3, Public: true,
			ProductID: cfg.ProProductID,
			PriceID:   cfg.ProPriceID,
			Interval:  BillingIntervalMonthly,
			Price:     Money{Amount: 9900, Currency: "USD"},
			Limits: map[Resource]int64{
				ResourceLinks:     Unlimited,
				ResourceQRCodes:   1_000,
				ResourceRedirects: Unlimited,
			},
		},
	)
}
