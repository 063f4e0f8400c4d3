// Package query holds the canonical representation of a lamina query: the
// descriptor model, the dotted-chain parser, and the classification of
// operator chains into distributable and non-distributable parts.
package query

import (
	"fmt"
	"strings"
	"time"
)

// Descriptor is the canonical, immutable form of a query topic. Two
// descriptors built from equivalent inputs compare equal through
// CanonicalKey, which is the subscription cache's identity.
type Descriptor struct {
	// Pattern selects the source probes; resolved externally by the probe
	// registry.
	Pattern string
	// Operators run left to right; order is semantically significant.
	Operators []Operator
	// Name marks a literal named stream. A named descriptor is not an
	// operator chain and is never decomposed.
	Name string
	// Endpoint is set only by the aggregating router: the sub-query to run
	// against each downstream router.
	Endpoint *Descriptor
	// Period is the sampling interval applied to windowed operators that
	// carry no override of their own. Zero means the engine default.
	Period time.Duration
}

// Options carry caller-side overrides merged into a parsed descriptor.
// Explicit options win over parsed defaults.
type Options struct {
	Period time.Duration
	Name   string
}

// ParseDescriptor normalizes a query into its canonical descriptor. The
// query is either a raw query string or an already-structured Descriptor,
// with opts merged in. String inputs that do not parse fail with an
// ErrMalformedQuery-wrapped error.
func ParseDescriptor(q any, opts Options) (Descriptor, error) {
	var (
		desc Descriptor
		err  error
	)

	switch v := q.(type) {
	case string:
		desc, err = Parse(v)
		if err != nil {
			return Descriptor{}, err
		}
	case Descriptor:
		desc = v
	case *Descriptor:
		desc = *v
	default:
		return Descriptor{}, fmt.Errorf("%w: unsupported query type %T", ErrMalformedQuery, q)
	}

	if opts.Period > 0 {
		desc.Period = opts.Period
	}
	if opts.Name != "" {
		desc.Name = opts.Name
	}

	return desc, nil
}

// IsNamed reports whether the descriptor refers to a literal named stream
// rather than an operator chain.
func (d Descriptor) IsNamed() bool {
	return d.Name != ""
}

// WithoutLastOperator returns a copy of the descriptor with the trailing
// operator dropped, and that operator. It is the decomposition step that
// lets different query tails share one upstream chain.
func (d Descriptor) WithoutLastOperator() (Descriptor, Operator) {
	last := d.Operators[len(d.Operators)-1]
	prefix := d
	prefix.Operators = d.Operators[:len(d.Operators)-1]
	return prefix, last
}

// CanonicalKey renders the descriptor into its single canonical string
// form. Descriptors built from equivalent inputs via different paths render
// identically.
func (d Descriptor) CanonicalKey() string {
	var b strings.Builder

	if d.Name != "" {
		b.WriteString("&")
		b.WriteString(d.Name)
	} else {
		b.WriteString(d.Pattern)
	}
	for _, op := range d.Operators {
		b.WriteString(".")
		op.render(&b)
	}
	if d.Period > 0 {
		fmt.Fprintf(&b, "@%dms", d.Period.Milliseconds())
	}
	if d.Endpoint != nil {
		fmt.Fprintf(&b, "=>{%s}", d.Endpoint.CanonicalKey())
	}

	return b.String()
}

func (d Descriptor) String() string {
	return d.CanonicalKey()
}
