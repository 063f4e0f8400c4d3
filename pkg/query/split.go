package query

// Split partitions an operator chain into the prefix that may run
// identically on every shard and the suffix that must run centrally after
// shard outputs are merged.
//
// Value-local operators (lookup, where, select) commute with merging and
// pass through. The first group-by, sum or rate is still distributable,
// since per-key groups merge key-wise and sums of sums (or counts of
// counts) are the shard-merged totals; it closes the prefix, and everything
// after it is the suffix. moving-average and merge close the prefix without
// joining it: a mean of shard means is not the global mean, and merge fans
// in other subscriptions.
//
// A chain with no aggregation at all is entirely distributable.
func Split(ops []Operator) (distributable, rest []Operator) {
	for i, op := range ops {
		switch op.Kind {
		case KindLookup, KindWhere, KindSelect:
			continue
		case KindGroupBy, KindSum, KindRate:
			return ops[:i+1], ops[i+1:]
		default:
			return ops[:i], ops[i:]
		}
	}
	return ops, nil
}

// SplitDescriptor rewrites a descriptor for aggregated execution: the
// distributable prefix becomes the endpoint sub-query run against each
// downstream router, the non-distributable suffix stays with the
// aggregating router's own pipeline. A named descriptor splits the same
// way, with the name carried onto the endpoint so every downstream serves
// the named stream directly. Descriptors that already carry an endpoint
// are returned unchanged.
func SplitDescriptor(d Descriptor) Descriptor {
	if d.Endpoint != nil {
		return d
	}

	prefix, suffix := Split(d.Operators)
	endpoint := &Descriptor{
		Pattern:   d.Pattern,
		Name:      d.Name,
		Operators: prefix,
		Period:    d.Period,
	}

	return Descriptor{
		Pattern:   d.Pattern,
		Name:      d.Name,
		Operators: suffix,
		Endpoint:  endpoint,
		Period:    d.Period,
	}
}
