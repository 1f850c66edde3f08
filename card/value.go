package card

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Value is a typed field value. Kind is KindNull when the record has no
// value for the field.
type Value struct {
	Kind Kind
	Str  string
	Num  decimal.Decimal
	Time time.Time
}

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// Display returns the human-readable representation, preserving original
// casing for strings.
func (v Value) Display() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num.String()
	case KindTime:
		return v.Time.Format("2006-01-02")
	default:
		return ""
	}
}

// NormKey returns the case-normalized key used for matching and
// distinct-value uniquing.
func (v Value) NormKey() string {
	return strings.ToLower(v.Display())
}

// Numeric returns the value coerced to a decimal. String-encoded numbers
// coerce; anything else reports false.
func (v Value) Numeric() (decimal.Decimal, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		d, err := decimal.NewFromString(strings.TrimSpace(v.Str))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func stringValue(s string) Value {
	if s == "" {
		return Value{Kind: KindNull}
	}
	return Value{Kind: KindString, Str: s}
}

func decimalValue(d *decimal.Decimal) Value {
	if d == nil {
		return Value{Kind: KindNull}
	}
	return Value{Kind: KindNumber, Num: *d}
}

func floatValue(f *float64) Value {
	if f == nil {
		return Value{Kind: KindNull}
	}
	return Value{Kind: KindNumber, Num: decimal.NewFromFloat(*f)}
}

func timeValue(t *time.Time) Value {
	if t == nil || t.IsZero() {
		return Value{Kind: KindNull}
	}
	return Value{Kind: KindTime, Time: *t}
}
