package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hrygo/cardsense/card"
)

// Pre-compiled patterns. Phrase-level patterns (ge/le, between) are
// applied before their single-word substrings so "at least" never reads
// as a bare comparison.
var (
	distinctRegex = regexp.MustCompile(`\b(different|unique|distinct)\b`)

	sumRegex   = regexp.MustCompile(`\b(total|sum)\b`)
	avgRegex   = regexp.MustCompile(`\b(average|avg|mean)\b`)
	countRegex = regexp.MustCompile(`\b(how many|count|number of)\b`)
	maxRegex   = regexp.MustCompile(`\b(highest|maximum|max|largest|biggest)\b`)
	minRegex   = regexp.MustCompile(`\b(lowest|minimum|min|smallest|cheapest)\b`)

	numberPattern = `\$?\s*([0-9][0-9,]*\.?[0-9]*)\s*%?`

	betweenRegex = regexp.MustCompile(`\bbetween\s+` + numberPattern + `\s+and\s+` + numberPattern)
	geRegex      = regexp.MustCompile(`\b(?:at least|no less than|not less than)\s+` + numberPattern + `|>=\s*` + numberPattern)
	leRegex      = regexp.MustCompile(`\b(?:at most|no more than|not more than|up to)\s+` + numberPattern + `|<=\s*` + numberPattern)
	gtRegex      = regexp.MustCompile(`\b(?:over|above|greater than|more than|bigger than|exceeding)\s+` + numberPattern + `|>\s*` + numberPattern)
	ltRegex      = regexp.MustCompile(`\b(?:under|below|less than|lower than|fewer than)\s+` + numberPattern + `|<\s*` + numberPattern)
	eqNumRegex   = regexp.MustCompile(`\b(?:equal to|equals|exactly)\s+` + numberPattern + `|=\s*` + numberPattern)

	beforeDateRegex = regexp.MustCompile(`\b(?:before|by)\s+(\d{4}-\d{2}-\d{2})`)
	afterDateRegex  = regexp.MustCompile(`\b(?:after|since)\s+(\d{4}-\d{2}-\d{2})`)

	groupByRegex   = regexp.MustCompile(`\b(by|per|for each|grouped by)\s*$`)
	connectorRegex = regexp.MustCompile(`\b(and|or)\b`)
	topNRegex      = regexp.MustCompile(`\b(?:top|first)\s+(\d+)\b`)
	sortedByRegex  = regexp.MustCompile(`\b(?:sorted|ordered|order)\s+by\b`)
	descRegex      = regexp.MustCompile(`\b(desc|descending|highest first|largest first)\b`)

	wordBeforeRegex = regexp.MustCompile(`([a-z][a-z_-]*)\s*$`)
)

// conditionStopwords are words that may legitimately precede a comparison
// without being a field reference.
var conditionStopwords = map[string]bool{
	"with": true, "is": true, "are": true, "a": true, "an": true, "the": true,
	"of": true, "have": true, "has": true, "having": true, "and": true,
	"or": true, "that": true, "whose": true, "where": true, "my": true,
	"cards": true, "card": true, "wallet": true, "in": true, "value": true,
}

// networkLexicon and issuerLexicon map merchant-facing names to their
// canonical display value. Multi-word names are matched before single
// words.
var networkLexicon = map[string]string{
	"american express": "American Express",
	"mastercard":       "Mastercard",
	"unionpay":         "UnionPay",
	"discover":         "Discover",
	"visa":             "Visa",
	"amex":             "American Express",
}

var issuerLexicon = map[string]string{
	"bank of america": "Bank of America",
	"capital one":     "Capital One",
	"wells fargo":     "Wells Fargo",
	"citibank":        "Citi",
	"barclays":        "Barclays",
	"chase":           "Chase",
	"citi":            "Citi",
}

// Extractor turns raw text into an EntityBag. It is stateless and safe
// for concurrent use.
type Extractor struct{}

// NewExtractor creates a new entity extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract scans text and returns the recognized entities. It never
// returns an error; text with no recognizable entities yields the empty
// bag.
func (e *Extractor) Extract(text string) *EntityBag {
	bag := &EntityBag{}
	lower := strings.ToLower(text)

	// Field references first: matched spans are masked so ambiguous
	// substrings and verb-lookalike phrases ("minimum payment") cannot
	// be re-read by later layers.
	refs := card.ResolveIn(lower)
	bag.Fields = refs
	masked := maskSpans(lower, refSpans(refs))

	// Lexicon hits become equality conditions on card_network / issuer.
	masked = e.extractLexicon(lower, masked, bag)

	// Comparisons. Phrase operators are consumed longest-first and their
	// spans masked as they go.
	masked = e.extractComparisons(masked, refs, bag)

	// Aggregation verbs on the remaining text.
	e.extractVerbs(masked, refs, bag)

	// Distinct request.
	if loc := distinctRegex.FindStringIndex(masked); loc != nil {
		target := firstNonNameField(refs)
		if target == "" && len(refs) > 0 {
			target = refs[0].Field
		}
		if target != "" {
			bag.Distinct = &DistinctRequest{Field: target, IncludeCount: true}
		}
	}

	// Group-by: a field reference immediately preceded by "by"/"per".
	for _, ref := range refs {
		prefix := masked[:min(ref.Pos, len(masked))]
		if groupByRegex.MatchString(strings.TrimRight(prefix, " ")) {
			bag.GroupBy = ref.Field
			break
		}
	}

	// Connectors, excluding the "and" inside a between range.
	for _, m := range connectorRegex.FindAllStringSubmatchIndex(masked, -1) {
		bag.Connectors = append(bag.Connectors, Connector{
			Or:  masked[m[2]:m[3]] == "or",
			Pos: m[2],
		})
	}

	// Sort and limit hints.
	e.extractSortLimit(masked, refs, bag)

	return bag
}

func (e *Extractor) extractLexicon(lower, masked string, bag *EntityBag) string {
	type hit struct {
		field   card.Field
		display string
		token   string
	}
	var hits []hit
	for token, display := range networkLexicon {
		hits = append(hits, hit{card.FieldCardNetwork, display, token})
	}
	for token, display := range issuerLexicon {
		hits = append(hits, hit{card.FieldIssuer, display, token})
	}
	sort.Slice(hits, func(i, j int) bool { return len(hits[i].token) > len(hits[j].token) })

	// Match against the unmasked text: a name like "bank of america"
	// contains the field token "bank", whose span is already masked.
	for _, h := range hits {
		idx := indexWord(lower, h.token)
		if idx < 0 {
			continue
		}
		op := OpEq
		if strings.HasSuffix(strings.TrimRight(lower[:idx], " "), "not") {
			op = OpNe
		}
		bag.Conditions = append(bag.Conditions, Condition{
			Field: h.field,
			Op:    op,
			Value: Literal{Kind: LiteralString, Text: h.display},
			Pos:   idx,
		})
		masked = maskSpans(masked, [][2]int{{idx, idx + len(h.token)}})
	}
	return masked
}

func (e *Extractor) extractComparisons(masked string, refs []card.FieldRef, bag *EntityBag) string {
	type opMatch struct {
		op   Operator
		re   *regexp.Regexp
		date bool
	}
	// Range and phrase operators before single-symbol ones.
	ordered := []opMatch{
		{OpBetween, betweenRegex, false},
		{OpGe, geRegex, false},
		{OpLe, leRegex, false},
		{OpGt, gtRegex, false},
		{OpLt, ltRegex, false},
		{OpEq, eqNumRegex, false},
		{OpLt, beforeDateRegex, true},
		{OpGt, afterDateRegex, true},
	}

	for _, om := range ordered {
		for {
			m := om.re.FindStringSubmatchIndex(masked)
			if m == nil {
				break
			}
			pos := m[0]
			cond := Condition{Op: om.op, Pos: pos}
			if om.date {
				t, err := time.Parse("2006-01-02", masked[m[2]:m[3]])
				if err == nil {
					cond.Value = Literal{Kind: LiteralDate, Text: masked[m[2]:m[3]], Time: t}
				}
			} else {
				lits := submatchLiterals(masked, m)
				if len(lits) == 0 {
					masked = maskSpans(masked, [][2]int{{m[0], m[1]}})
					continue
				}
				cond.Value = lits[0]
				if om.op == OpBetween && len(lits) > 1 {
					high := lits[1]
					cond.High = &high
				}
			}
			cond.Field = nearestField(refs, pos)
			if cond.Field == "" {
				if tok := unresolvedTokenBefore(masked, pos); tok != "" {
					bag.UnresolvedTokens = append(bag.UnresolvedTokens, tok)
				}
			} else {
				bag.Conditions = append(bag.Conditions, cond)
			}
			masked = maskSpans(masked, [][2]int{{m[0], m[1]}})
		}
	}

	sort.SliceStable(bag.Conditions, func(i, j int) bool { return bag.Conditions[i].Pos < bag.Conditions[j].Pos })
	return masked
}

func (e *Extractor) extractVerbs(masked string, refs []card.FieldRef, bag *EntityBag) {
	// Distinct phrasing like "how many different issuers" is a distinct
	// request, not a count; skip the count verb in that case.
	hasDistinct := distinctRegex.MatchString(masked)

	add := func(v Verb) {
		for _, seen := range bag.Verbs {
			if seen == v {
				return
			}
		}
		bag.Verbs = append(bag.Verbs, v)
	}

	if sumRegex.MatchString(masked) {
		add(VerbSum)
	}
	if avgRegex.MatchString(masked) {
		add(VerbAvg)
	}
	if countRegex.MatchString(masked) && !hasDistinct {
		add(VerbCount)
	}
	if maxRegex.MatchString(masked) {
		add(VerbMax)
	}
	if minRegex.MatchString(masked) {
		add(VerbMin)
	}

	if len(bag.Verbs) == 0 {
		return
	}

	// Aggregation target: the first numeric field reference; count falls
	// back to card_name so "how many cards" counts every record.
	for _, ref := range refs {
		if card.FieldKind(ref.Field) == card.KindNumber {
			bag.AggField = ref.Field
			return
		}
	}
	if bag.Verbs[0] == VerbCount {
		bag.AggField = card.FieldCardName
	}
}

func (e *Extractor) extractSortLimit(masked string, refs []card.FieldRef, bag *EntityBag) {
	if m := topNRegex.FindStringSubmatch(masked); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			bag.Limit = &LimitSpec{N: n}
		}
	}

	sortField := card.Field("")
	if loc := sortedByRegex.FindStringIndex(masked); loc != nil {
		for _, ref := range refs {
			if ref.Pos > loc[1] {
				sortField = ref.Field
				break
			}
		}
	} else if bag.Limit != nil {
		// "top N" without an explicit sort orders by the first numeric
		// field descending.
		for _, ref := range refs {
			if card.FieldKind(ref.Field) == card.KindNumber {
				sortField = ref.Field
				break
			}
		}
	}
	if sortField != "" {
		desc := bag.Limit != nil || descRegex.MatchString(masked)
		bag.Sort = &SortSpec{Field: sortField, Desc: desc}
	}
}

// nearestField pairs a comparison with the closest field reference,
// preferring the nearest one before the operator. Bare card-name
// references ("cards") are the query subject, not a comparison target.
func nearestField(refs []card.FieldRef, pos int) card.Field {
	best := card.Field("")
	bestDist := 1 << 30
	for _, ref := range refs {
		if ref.Field == card.FieldCardName {
			continue
		}
		dist := pos - ref.Pos
		if dist < 0 {
			dist = (ref.Pos - pos) + 1000 // strongly prefer preceding refs
		}
		if dist < bestDist {
			bestDist = dist
			best = ref.Field
		}
	}
	return best
}

func unresolvedTokenBefore(masked string, pos int) string {
	prefix := strings.TrimRight(masked[:pos], " ")
	m := wordBeforeRegex.FindStringSubmatch(prefix)
	if m == nil {
		return ""
	}
	if conditionStopwords[m[1]] {
		return ""
	}
	return m[1]
}

func firstNonNameField(refs []card.FieldRef) card.Field {
	for _, ref := range refs {
		if ref.Field != card.FieldCardName {
			return ref.Field
		}
	}
	return ""
}

func submatchLiterals(s string, m []int) []Literal {
	var lits []Literal
	for i := 2; i+1 < len(m); i += 2 {
		if m[i] < 0 {
			continue
		}
		raw := strings.ReplaceAll(s[m[i]:m[i+1]], ",", "")
		num, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		kind := LiteralNumber
		if m[i] > 0 && strings.Contains(s[max(0, m[i]-3):m[i]], "$") {
			kind = LiteralMoney
		}
		lits = append(lits, Literal{Kind: kind, Text: raw, Number: num})
	}
	return lits
}

func refSpans(refs []card.FieldRef) [][2]int {
	spans := make([][2]int, 0, len(refs))
	for _, ref := range refs {
		spans = append(spans, [2]int{ref.Pos, ref.Pos + len(ref.Token)})
	}
	return spans
}

func maskSpans(s string, spans [][2]int) string {
	b := []byte(s)
	for _, span := range spans {
		for i := span[0]; i < span[1] && i < len(b); i++ {
			b[i] = ' '
		}
	}
	return string(b)
}

// indexWord returns the index of token in s at a word boundary, or -1.
func indexWord(s, token string) int {
	start := 0
	for {
		idx := strings.Index(s[start:], token)
		if idx < 0 {
			return -1
		}
		pos := start + idx
		end := pos + len(token)
		beforeOK := pos == 0 || !isWordByte(s[pos-1])
		afterOK := end >= len(s) || !isWordByte(s[end])
		if beforeOK && afterOK {
			return pos
		}
		start = pos + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
