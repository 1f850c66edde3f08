package card

import (
	"sort"
	"strings"
)

// Field is a canonical schema field name. Structured queries carry these,
// never the raw natural-language token; mapping happens once at
// decomposition time.
type Field string

const (
	FieldCardName        Field = "card_name"
	FieldIssuer          Field = "issuer"
	FieldCardNetwork     Field = "card_network"
	FieldLastFour        Field = "last_four"
	FieldCurrentBalance  Field = "current_balance"
	FieldCreditLimit     Field = "credit_limit"
	FieldMinimumPayment  Field = "minimum_payment"
	FieldAPR             Field = "apr"
	FieldRewardsRate     Field = "rewards_rate"
	FieldRewardsCategory Field = "rewards_category"
	FieldDueDate         Field = "due_date"
	FieldOpenedAt        Field = "opened_at"
	FieldLastPaymentAt   Field = "last_payment_at"
	FieldAvailableCredit Field = "available_credit"
	FieldUtilization     Field = "utilization"
)

// Kind classifies a field's value type for coercion decisions.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindTime
)

// FieldKind returns the value kind of a canonical field.
func FieldKind(f Field) Kind {
	switch f {
	case FieldCardName, FieldIssuer, FieldCardNetwork, FieldLastFour, FieldRewardsCategory:
		return KindString
	case FieldCurrentBalance, FieldCreditLimit, FieldMinimumPayment, FieldAPR,
		FieldRewardsRate, FieldAvailableCredit, FieldUtilization:
		return KindNumber
	case FieldDueDate, FieldOpenedAt, FieldLastPaymentAt:
		return KindTime
	default:
		return KindNull
	}
}

// fieldTokens maps natural-language tokens to canonical fields. Longer,
// more specific phrases must win over their shorter substrings ("card
// network" before "network", "payment network" must never hit
// "minimum_payment"); ResolveIn enforces this by scanning tokens in
// descending length order and masking matched spans.
var fieldTokens = map[string]Field{
	"card name":          FieldCardName,
	"name":               FieldCardName,
	"card":               FieldCardName,
	"cards":              FieldCardName,
	"issuer":             FieldIssuer,
	"issuers":            FieldIssuer,
	"bank":               FieldIssuer,
	"banks":              FieldIssuer,
	"card network":       FieldCardNetwork,
	"payment network":    FieldCardNetwork,
	"network":            FieldCardNetwork,
	"networks":           FieldCardNetwork,
	"last four":          FieldLastFour,
	"last four digits":   FieldLastFour,
	"current balance":    FieldCurrentBalance,
	"balance":            FieldCurrentBalance,
	"balances":           FieldCurrentBalance,
	"credit limit":       FieldCreditLimit,
	"limit":              FieldCreditLimit,
	"minimum payment":    FieldMinimumPayment,
	"min payment":        FieldMinimumPayment,
	"apr":                FieldAPR,
	"interest rate":      FieldAPR,
	"interest":           FieldAPR,
	"rewards rate":       FieldRewardsRate,
	"cashback rate":      FieldRewardsRate,
	"rewards category":   FieldRewardsCategory,
	"reward category":    FieldRewardsCategory,
	"rewards":            FieldRewardsCategory,
	"due date":           FieldDueDate,
	"payment due date":   FieldDueDate,
	"opened":             FieldOpenedAt,
	"opened at":          FieldOpenedAt,
	"open date":          FieldOpenedAt,
	"last payment":       FieldLastPaymentAt,
	"last payment date":  FieldLastPaymentAt,
	"available credit":   FieldAvailableCredit,
	"remaining credit":   FieldAvailableCredit,
	"utilization":        FieldUtilization,
	"credit utilization": FieldUtilization,
}

// tokensByLength holds all tokens sorted longest-first, built once at init.
var tokensByLength = func() []string {
	tokens := make([]string, 0, len(fieldTokens))
	for t := range fieldTokens {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})
	return tokens
}()

// ResolveField maps a single natural-language token to its canonical
// field.
func ResolveField(token string) (Field, bool) {
	f, ok := fieldTokens[strings.ToLower(strings.TrimSpace(token))]
	return f, ok
}

// FieldRef is a field reference located in free text.
type FieldRef struct {
	Field Field
	Token string
	Pos   int
}

// ResolveIn finds all field references in the given text. Tokens are
// matched longest-first and matched spans are masked so an ambiguous
// substring ("network") can never shadow the specific phrase that
// contains it ("card network").
func ResolveIn(text string) []FieldRef {
	lower := strings.ToLower(text)
	masked := []byte(lower)
	var refs []FieldRef

	for _, token := range tokensByLength {
		start := 0
		for {
			idx := strings.Index(string(masked[start:]), token)
			if idx < 0 {
				break
			}
			pos := start + idx
			if !isWordBoundary(lower, pos, len(token)) {
				start = pos + 1
				continue
			}
			refs = append(refs, FieldRef{Field: fieldTokens[token], Token: token, Pos: pos})
			for i := pos; i < pos+len(token); i++ {
				masked[i] = 0
			}
			start = pos + len(token)
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Pos < refs[j].Pos })
	return refs
}

func isWordBoundary(s string, pos, length int) bool {
	if pos > 0 && isWordChar(s[pos-1]) {
		return false
	}
	end := pos + length
	if end < len(s) && isWordChar(s[end]) {
		return false
	}
	return true
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// AllTokenPairs returns every (specific phrase, ambiguous substring) pair
// in the vocabulary where one token contains another. Used by tests to
// verify mapping priority across the whole map.
func AllTokenPairs() [][2]string {
	var pairs [][2]string
	for long := range fieldTokens {
		for short := range fieldTokens {
			if long == short || len(long) <= len(short) {
				continue
			}
			if strings.Contains(long, short) {
				pairs = append(pairs, [2]string{long, short})
			}
		}
	}
	return pairs
}
