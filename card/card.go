// Package card defines the financial-account record schema and the
// token-to-field vocabulary used by the query pipeline.
package card

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card represents a single financial-account record in the user's wallet.
// The collection is read-only to the query core; optional fields use
// pointers so an absent value is distinguishable from a zero value.
type Card struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Issuer   string `json:"issuer"`
	Network  string `json:"network"`
	LastFour string `json:"last_four"`

	CurrentBalance *decimal.Decimal `json:"current_balance,omitempty"`
	CreditLimit    *decimal.Decimal `json:"credit_limit,omitempty"`
	MinimumPayment *decimal.Decimal `json:"minimum_payment,omitempty"`
	APR            *float64         `json:"apr,omitempty"`
	RewardsRate    *float64         `json:"rewards_rate,omitempty"`

	RewardsCategory string `json:"rewards_category,omitempty"`

	DueDate       *time.Time `json:"due_date,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	LastPaymentAt *time.Time `json:"last_payment_at,omitempty"`
}

// AvailableCredit returns credit_limit - current_balance, or nil when
// either input is absent.
func (c *Card) AvailableCredit() *decimal.Decimal {
	if c.CreditLimit == nil || c.CurrentBalance == nil {
		return nil
	}
	v := c.CreditLimit.Sub(*c.CurrentBalance)
	return &v
}

// Utilization returns current_balance / credit_limit as a percentage
// (0-100), or nil when inputs are absent or the limit is zero.
func (c *Card) Utilization() *decimal.Decimal {
	if c.CreditLimit == nil || c.CurrentBalance == nil || c.CreditLimit.IsZero() {
		return nil
	}
	v := c.CurrentBalance.Div(*c.CreditLimit).Mul(decimal.NewFromInt(100))
	return &v
}

// Value returns the typed value of the given canonical field.
func (c *Card) Value(f Field) Value {
	switch f {
	case FieldCardName:
		return stringValue(c.Name)
	case FieldIssuer:
		return stringValue(c.Issuer)
	case FieldCardNetwork:
		return stringValue(c.Network)
	case FieldLastFour:
		return stringValue(c.LastFour)
	case FieldRewardsCategory:
		return stringValue(c.RewardsCategory)
	case FieldCurrentBalance:
		return decimalValue(c.CurrentBalance)
	case FieldCreditLimit:
		return decimalValue(c.CreditLimit)
	case FieldMinimumPayment:
		return decimalValue(c.MinimumPayment)
	case FieldAvailableCredit:
		return decimalValue(c.AvailableCredit())
	case FieldUtilization:
		return decimalValue(c.Utilization())
	case FieldAPR:
		return floatValue(c.APR)
	case FieldRewardsRate:
		return floatValue(c.RewardsRate)
	case FieldDueDate:
		return timeValue(c.DueDate)
	case FieldOpenedAt:
		return timeValue(c.OpenedAt)
	case FieldLastPaymentAt:
		return timeValue(c.LastPaymentAt)
	default:
		return Value{Kind: KindNull}
	}
}
