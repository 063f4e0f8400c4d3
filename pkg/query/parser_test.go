package query_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/baltar/lamina/pkg/query"
)

var _ = Describe("Parse", func() {
	It("reads a pattern followed by a field chain", func() {
		desc, err := query.Parse("sensors.x.y")
		Expect(err).To(BeNil())
		Expect(desc.Pattern).To(Equal("sensors"))
		Expect(desc.Operators).To(HaveLen(1))
		Expect(desc.Operators[0].Kind).To(Equal(query.KindLookup))
		Expect(desc.Operators[0].Path).To(Equal([]string{"x", "y"}))
	})

	It("leaves the pattern empty for a leading dot", func() {
		desc, err := query.Parse(".x.y")
		Expect(err).To(BeNil())
		Expect(desc.Pattern).To(BeEmpty())
		Expect(desc.Operators).To(Equal([]query.Operator{query.Lookup("x", "y")}))
	})

	It("reads a named literal stream", func() {
		desc, err := query.Parse("&requests")
		Expect(err).To(BeNil())
		Expect(desc.Name).To(Equal("requests"))
		Expect(desc.IsNamed()).To(BeTrue())
	})

	It("reads where conditions", func() {
		desc, err := query.Parse("sensors.where(x.y > 1).x.y.sum()")
		Expect(err).To(BeNil())
		Expect(desc.Operators).To(HaveLen(3))

		where := desc.Operators[0]
		Expect(where.Kind).To(Equal(query.KindWhere))
		Expect(where.Cond.Path).To(Equal([]string{"x", "y"}))
		Expect(where.Cond.Op).To(Equal(query.CmpGt))
		Expect(where.Cond.Operand).To(Equal(1.0))

		Expect(desc.Operators[1]).To(Equal(query.Lookup("x", "y")))
		Expect(desc.Operators[2].Kind).To(Equal(query.KindSum))
	})

	It("reads the current-value placeholder", func() {
		desc, err := query.Parse("sensors.x.y.where(_ < 4)")
		Expect(err).To(BeNil())

		where := desc.Operators[1]
		Expect(where.Cond.Path).To(BeEmpty())
		Expect(where.Cond.Op).To(Equal(query.CmpLt))
	})

	It("reads the pattern-match comparison", func() {
		desc, err := query.Parse("sensors.where(foo ~= a)")
		Expect(err).To(BeNil())
		Expect(desc.Operators[0].Cond.Op).To(Equal(query.CmpMatch))
		Expect(desc.Operators[0].Cond.Operand).To(Equal("a"))
	})

	It("reads ordered select bindings", func() {
		desc, err := query.Parse("sensors.select(a: x.y, b: x)")
		Expect(err).To(BeNil())

		sel := desc.Operators[0]
		Expect(sel.Kind).To(Equal(query.KindSelect))
		Expect(sel.Bindings).To(Equal([]query.Binding{
			{Name: "a", Path: []string{"x", "y"}},
			{Name: "b", Path: []string{"x"}},
		}))
	})

	It("reads single and composite group keys", func() {
		desc, err := query.Parse("sensors.group-by(foo)")
		Expect(err).To(BeNil())
		Expect(desc.Operators[0].Keys).To(Equal([][]string{{"foo"}}))

		desc, err = query.Parse("sensors.group-by([foo bar])")
		Expect(err).To(BeNil())
		Expect(desc.Operators[0].Keys).To(Equal([][]string{{"foo"}, {"bar"}}))
	})

	It("reads aggregations with a period override", func() {
		desc, err := query.Parse("sensors.x.moving-average(period: 75)")
		Expect(err).To(BeNil())

		avg := desc.Operators[1]
		Expect(avg.Kind).To(Equal(query.KindMovingAverage))
		Expect(avg.Period).To(Equal(75 * time.Millisecond))
	})

	It("reads merge subqueries recursively", func() {
		desc, err := query.Parse("sensors.merge(.x.y, .x.y).sum()")
		Expect(err).To(BeNil())
		Expect(desc.Pattern).To(Equal("sensors"))
		Expect(desc.Operators).To(HaveLen(2))

		merge := desc.Operators[0]
		Expect(merge.Kind).To(Equal(query.KindMerge))
		Expect(merge.Subqueries).To(HaveLen(2))
		Expect(merge.Subqueries[0].Operators).To(Equal([]query.Operator{query.Lookup("x", "y")}))
	})

	Context("malformed input", func() {
		It("rejects an empty query", func() {
			_, err := query.Parse("")
			Expect(errors.Is(err, query.ErrMalformedQuery)).To(BeTrue())
		})

		It("rejects unbalanced parentheses", func() {
			_, err := query.Parse("sensors.where(x > 1")
			Expect(errors.Is(err, query.ErrMalformedQuery)).To(BeTrue())
		})

		It("rejects an unknown operator", func() {
			_, err := query.Parse("sensors.frobnicate(x)")
			Expect(errors.Is(err, query.ErrUnknownOperator)).To(BeTrue())
		})

		It("rejects misapplied arguments", func() {
			_, err := query.Parse("sensors.sum(window: 5)")
			Expect(errors.Is(err, query.ErrInvalidOperatorArgs)).To(BeTrue())

			_, err = query.Parse("sensors.select()")
			Expect(errors.Is(err, query.ErrInvalidOperatorArgs)).To(BeTrue())
		})
	})
})

var _ = Describe("ParseDescriptor", func() {
	It("accepts strings and structured descriptors alike", func() {
		fromString, err := query.ParseDescriptor("sensors.x.y.sum()", query.Options{})
		Expect(err).To(BeNil())

		structured := query.Descriptor{
			Pattern:   "sensors",
			Operators: []query.Operator{query.Lookup("x", "y"), query.Sum(0)},
		}
		fromStruct, err := query.ParseDescriptor(structured, query.Options{})
		Expect(err).To(BeNil())

		Expect(fromStruct.CanonicalKey()).To(Equal(fromString.CanonicalKey()))
	})

	It("lets explicit options win over parsed defaults", func() {
		desc, err := query.ParseDescriptor("sensors.x.sum()", query.Options{Period: 250 * time.Millisecond})
		Expect(err).To(BeNil())
		Expect(desc.Period).To(Equal(250 * time.Millisecond))
	})

	It("fails fast on a malformed string", func() {
		_, err := query.ParseDescriptor("sensors.where(", query.Options{})
		Expect(errors.Is(err, query.ErrMalformedQuery)).To(BeTrue())
	})

	It("rejects unsupported topic types", func() {
		_, err := query.ParseDescriptor(42, query.Options{})
		Expect(errors.Is(err, query.ErrMalformedQuery)).To(BeTrue())
	})
})

var _ = Describe("CanonicalKey", func() {
	It("is stable across construction paths", func() {
		parsed, err := query.Parse("sensors.where(x.y > 1).x.y.sum()")
		Expect(err).To(BeNil())

		built := query.Descriptor{
			Pattern: "sensors",
			Operators: []query.Operator{
				query.Where(query.Condition{Path: []string{"x", "y"}, Op: query.CmpGt, Operand: 1.0}),
				query.Lookup("x", "y"),
				query.Sum(0),
			},
		}

		Expect(built.CanonicalKey()).To(Equal(parsed.CanonicalKey()))
	})

	It("distinguishes named streams from chains", func() {
		named := query.Descriptor{Name: "requests"}
		chain := query.Descriptor{Pattern: "requests"}
		Expect(named.CanonicalKey()).ToNot(Equal(chain.CanonicalKey()))
	})

	It("renders the operator chain of a named stream", func() {
		plain, err := query.Parse("&sensors")
		Expect(err).To(BeNil())
		tail, err := query.Parse("&sensors.x.y.sum()")
		Expect(err).To(BeNil())

		Expect(plain.CanonicalKey()).To(Equal("&sensors"))
		Expect(tail.CanonicalKey()).To(Equal("&sensors.x.y.sum()"))
		Expect(tail.CanonicalKey()).ToNot(Equal(plain.CanonicalKey()))
	})

	It("includes the sampling period", func() {
		a := query.Descriptor{Pattern: "sensors", Period: 100 * time.Millisecond}
		b := query.Descriptor{Pattern: "sensors", Period: 200 * time.Millisecond}
		Expect(a.CanonicalKey()).ToNot(Equal(b.CanonicalKey()))
	})
})
