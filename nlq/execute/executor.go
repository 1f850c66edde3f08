package execute

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/hrygo/cardsense/card"
	"github.com/hrygo/cardsense/nlq/decompose"
	"github.com/hrygo/cardsense/nlq/extract"
)

// Execute evaluates a structured query against a record collection.
// The collection is never mutated. A malformed query is the only error
// path; empty results and coercion mismatches are reported on the
// Result itself.
func Execute(query *decompose.StructuredQuery, records []*card.Card) (*Result, error) {
	if err := query.Validate(); err != nil {
		return nil, errors.Wrap(err, "refusing to execute malformed query")
	}

	start := time.Now()
	var result *Result
	switch query.Kind {
	case decompose.KindDistinct:
		result = executeDistinct(query.Distinct, records)
	case decompose.KindAggregate:
		result = executeAggregate(query.Aggregate, records)
	case decompose.KindGroupedAggregate:
		result = executeGrouped(query.Grouped, records)
	case decompose.KindFilter:
		result = executeFilter(query.Filter, records)
	default:
		return nil, errors.Errorf("unknown query kind %q", query.Kind)
	}

	result.Kind = query.Kind
	result.Format = query.OutputFormat
	result.Metadata.Latency = time.Since(start)
	return result, nil
}

func executeDistinct(spec *decompose.DistinctSpec, records []*card.Card) *Result {
	counts := make(map[string]int)
	display := make(map[string]string)

	for _, rec := range records {
		v := rec.Value(spec.Field)
		if v.IsNull() {
			continue
		}
		key := v.NormKey()
		if _, seen := display[key]; !seen {
			display[key] = v.Display()
		}
		counts[key]++
	}

	values := make([]DistinctValue, 0, len(counts))
	matched := 0
	for key, n := range counts {
		values = append(values, DistinctValue{Value: display[key], Count: n})
		matched += n
	}
	// Count descending, ties alphabetical.
	sort.Slice(values, func(i, j int) bool {
		if values[i].Count != values[j].Count {
			return values[i].Count > values[j].Count
		}
		return strings.ToLower(values[i].Value) < strings.ToLower(values[j].Value)
	})

	if !spec.IncludeCount {
		for i := range values {
			values[i].Count = 0
		}
	}

	return &Result{
		Values:   values,
		Metadata: Metadata{MatchedCount: matched},
	}
}

func executeAggregate(spec *decompose.AggregateSpec, records []*card.Card) *Result {
	if spec.Verb == extract.VerbCount {
		n := 0
		for _, rec := range records {
			if !rec.Value(spec.Field).IsNull() {
				n++
			}
		}
		return &Result{
			Scalar: &Scalar{
				Verb:            spec.Verb,
				Field:           spec.Field,
				Value:           decimal.NewFromInt(int64(n)),
				ConsideredCount: n,
			},
			Metadata: Metadata{MatchedCount: n, ExcludedCount: len(records) - n},
		}
	}

	value, considered, excluded := aggregateNumeric(spec.Verb, spec.Field, records)
	return &Result{
		Scalar: &Scalar{
			Verb:            spec.Verb,
			Field:           spec.Field,
			Value:           value,
			ConsideredCount: considered,
		},
		Metadata: Metadata{MatchedCount: considered, ExcludedCount: excluded},
	}
}

// aggregateNumeric applies verb over field. Null and non-numeric values
// are excluded from the computation and counted.
func aggregateNumeric(verb extract.Verb, field card.Field, records []*card.Card) (decimal.Decimal, int, int) {
	var sum decimal.Decimal
	var best decimal.Decimal
	considered, excluded := 0, 0

	for _, rec := range records {
		num, ok := rec.Value(field).Numeric()
		if !ok {
			excluded++
			continue
		}
		switch verb {
		case extract.VerbSum, extract.VerbAvg:
			sum = sum.Add(num)
		case extract.VerbMin:
			if considered == 0 || num.LessThan(best) {
				best = num
			}
		case extract.VerbMax:
			if considered == 0 || num.GreaterThan(best) {
				best = num
			}
		}
		considered++
	}

	switch verb {
	case extract.VerbSum:
		return sum, considered, excluded
	case extract.VerbAvg:
		if considered == 0 {
			return decimal.Zero, 0, excluded
		}
		return sum.Div(decimal.NewFromInt(int64(considered))), considered, excluded
	default:
		return best, considered, excluded
	}
}

func executeGrouped(spec *decompose.GroupedSpec, records []*card.Card) *Result {
	partitions := make(map[string][]*card.Card)
	display := make(map[string]string)
	excluded := 0

	for _, rec := range records {
		g := rec.Value(spec.GroupField)
		if g.IsNull() {
			excluded++
			continue
		}
		key := g.NormKey()
		if _, seen := display[key]; !seen {
			display[key] = g.Display()
		}
		partitions[key] = append(partitions[key], rec)
	}

	rows := make([]GroupRow, 0, len(partitions))
	matched := 0
	for key, part := range partitions {
		var value decimal.Decimal
		var considered int
		if spec.Verb == extract.VerbCount {
			for _, rec := range part {
				if !rec.Value(spec.Field).IsNull() {
					considered++
				}
			}
			value = decimal.NewFromInt(int64(considered))
			excluded += len(part) - considered
		} else {
			var partExcluded int
			value, considered, partExcluded = aggregateNumeric(spec.Verb, spec.Field, part)
			excluded += partExcluded
		}
		rows = append(rows, GroupRow{Group: display[key], Value: value, Count: considered})
		matched += considered
	}

	// Groups ordered by aggregate value descending, ties alphabetical
	// for determinism.
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Value.Equal(rows[j].Value) {
			return rows[i].Value.GreaterThan(rows[j].Value)
		}
		return strings.ToLower(rows[i].Group) < strings.ToLower(rows[j].Group)
	})

	return &Result{
		Groups:   rows,
		Metadata: Metadata{MatchedCount: matched, ExcludedCount: excluded},
	}
}

func executeFilter(spec *decompose.FilterSpec, records []*card.Card) *Result {
	matched := make([]*card.Card, 0, len(records))
	excluded := 0

	for _, rec := range records {
		keep, comparable := evalPredicates(spec, rec)
		if !comparable {
			// Coercion mismatch: exclude the record and account for it,
			// never crash.
			excluded++
			continue
		}
		if keep {
			matched = append(matched, rec)
		}
	}

	if spec.Sort != nil {
		sortRecords(matched, spec.Sort)
	}
	if spec.Limit > 0 && len(matched) > spec.Limit {
		matched = matched[:spec.Limit]
	}

	return &Result{
		Records:  matched,
		Metadata: Metadata{MatchedCount: len(matched), ExcludedCount: excluded},
	}
}

// evalPredicates combines predicate outcomes per the connector. A
// record any of whose predicates cannot be coerced is reported as not
// comparable.
func evalPredicates(spec *decompose.FilterSpec, rec *card.Card) (keep bool, comparable bool) {
	if len(spec.Predicates) == 0 {
		return true, true
	}

	keep = spec.Connector == decompose.ConnectorAnd
	for _, p := range spec.Predicates {
		match, ok := evalPredicate(p, rec)
		if !ok {
			return false, false
		}
		if spec.Connector == decompose.ConnectorAnd {
			keep = keep && match
		} else {
			keep = keep || match
		}
	}
	return keep, true
}

func evalPredicate(p decompose.Predicate, rec *card.Card) (bool, bool) {
	v := rec.Value(p.Field)
	if v.IsNull() {
		// Absent values never match; the record stays comparable.
		return false, true
	}

	switch p.Value.Kind {
	case extract.LiteralNumber, extract.LiteralMoney:
		num, ok := v.Numeric()
		if !ok {
			return false, false
		}
		return compareNumeric(num, p), true
	case extract.LiteralDate:
		if v.Kind != card.KindTime {
			return false, false
		}
		return compareTime(v.Time, p), true
	default:
		// String comparisons are case-insensitive.
		want := strings.ToLower(p.Value.Text)
		got := v.NormKey()
		switch p.Op {
		case extract.OpEq:
			return got == want, true
		case extract.OpNe:
			return got != want, true
		default:
			return false, false
		}
	}
}

func compareNumeric(got decimal.Decimal, p decompose.Predicate) bool {
	want := p.Value.Number
	switch p.Op {
	case extract.OpEq:
		return got.Equal(want)
	case extract.OpNe:
		return !got.Equal(want)
	case extract.OpLt:
		return got.LessThan(want)
	case extract.OpLe:
		return got.LessThanOrEqual(want)
	case extract.OpGt:
		return got.GreaterThan(want)
	case extract.OpGe:
		return got.GreaterThanOrEqual(want)
	case extract.OpBetween:
		if p.High == nil {
			return false
		}
		return got.GreaterThanOrEqual(want) && got.LessThanOrEqual(p.High.Number)
	default:
		return false
	}
}

func compareTime(got time.Time, p decompose.Predicate) bool {
	want := p.Value.Time
	switch p.Op {
	case extract.OpEq:
		return got.Equal(want)
	case extract.OpNe:
		return !got.Equal(want)
	case extract.OpLt:
		return got.Before(want)
	case extract.OpLe:
		return !got.After(want)
	case extract.OpGt:
		return got.After(want)
	case extract.OpGe:
		return !got.Before(want)
	case extract.OpBetween:
		if p.High == nil {
			return false
		}
		return !got.Before(want) && !got.After(p.High.Time)
	default:
		return false
	}
}

func sortRecords(records []*card.Card, spec *decompose.SortSpec) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Value(spec.Field), records[j].Value(spec.Field)
		// Nulls sort last regardless of direction.
		if a.IsNull() || b.IsNull() {
			return !a.IsNull() && b.IsNull()
		}
		if spec.Desc {
			return lessValue(b, a)
		}
		return lessValue(a, b)
	})
}

func lessValue(a, b card.Value) bool {
	an, aok := a.Numeric()
	bn, bok := b.Numeric()
	if aok && bok {
		return an.LessThan(bn)
	}
	if a.Kind == card.KindTime && b.Kind == card.KindTime {
		return a.Time.Before(b.Time)
	}
	return a.NormKey() < b.NormKey()
}
