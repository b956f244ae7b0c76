package models

// Set operations over recipient lists. Order follows the first operand and
// duplicates (by Key) are collapsed.

func Dedupe(addrs []Address) []Address {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a.Key()]; ok {
			continue
		}
		seen[a.Key()] = struct{}{}
		out = append(out, a)
	}
	return out
}

func Contains(addrs []Address, target Address) bool {
	for _, a := range addrs {
		if a.Equal(target) {
			return true
		}
	}
	return false
}

func Intersect(a, b []Address) []Address {
	index := keySet(b)
	out := make([]Address, 0, len(a))
	for _, addr := range Dedupe(a) {
		if _, ok := index[addr.Key()]; ok {
			out = append(out, addr)
		}
	}
	return out
}

func Union(a, b []Address) []Address {
	out := make([]Address, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return Dedupe(out)
}

func Difference(a, b []Address) []Address {
	index := keySet(b)
	out := make([]Address, 0, len(a))
	for _, addr := range Dedupe(a) {
		if _, ok := index[addr.Key()]; !ok {
			out = append(out, addr)
		}
	}
	return out
}

func keySet(addrs []Address) map[string]struct{} {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		set[a.Key()] = struct{}{}
	}
	return set
}
