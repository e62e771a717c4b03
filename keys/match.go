package keys

import "github.com/huykn/entity-sync/types"

// Predicate selects keys.
type Predicate func(Key) bool

// Matches reports whether key satisfies p.
func Matches(key Key, p Predicate) bool {
	if p == nil {
		return false
	}
	return p(key)
}

// InFamily selects every key of kind/view regardless of params.
func InFamily(kind types.Kind, view ViewKind) Predicate {
	return func(k Key) bool { return k.kind == kind && k.view == view }
}

// OfKind selects every key of kind.
func OfKind(kind types.Kind) Predicate {
	return func(k Key) bool { return k.kind == kind }
}

// References selects byRelation keys of kind whose params reference rel.
func References(kind types.Kind, rel types.Relation) Predicate {
	id := normalizeString(rel.ID)
	name := normalizeString(rel.Name)
	return func(k Key) bool {
		if k.kind != kind || k.view != ViewByRelation || id == "" {
			return false
		}
		for _, v := range k.params[name] {
			if v == id {
				return true
			}
		}
		return false
	}
}

// DetailOf selects the detail key of one entity.
func DetailOf(kind types.Kind, id string) Predicate {
	want := Detail(kind, id)
	return func(k Key) bool { return k.canon == want.canon }
}

// Any matches when at least one predicate matches.
func Any(ps ...Predicate) Predicate {
	return func(k Key) bool {
		for _, p := range ps {
			if p != nil && p(k) {
				return true
			}
		}
		return false
	}
}

// All matches when every predicate matches.
func All(ps ...Predicate) Predicate {
	return func(k Key) bool {
		for _, p := range ps {
			if p == nil || !p(k) {
				return false
			}
		}
		return true
	}
}
