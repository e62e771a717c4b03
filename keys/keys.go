// Package keys defines the hierarchical cache key space. A Key is the
// triple (entity kind, view kind, canonical params); two keys are equal iff
// their canonical strings are equal, and that string is the unit of
// invalidation.
package keys

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/huykn/entity-sync/types"
)

// ViewKind is the shape of a cached view.
type ViewKind string

const (
	ViewList       ViewKind = "list"
	ViewDetail     ViewKind = "detail"
	ViewByRelation ViewKind = "byRelation"
	ViewAggregate  ViewKind = "aggregate"
)

// Reserved param names.
const (
	ParamID     = "id"
	ParamMetric = "metric"
)

// Params are the filters or identifiers of a view before canonicalization.
// Values may be strings, string slices, integers, booleans, fmt.Stringers or
// time values; nil, empty strings and empty slices are treated as absent.
type Params map[string]any

// Family is the (entity kind, view kind) pair used for policy lookup.
type Family struct {
	Kind types.Kind
	View ViewKind
}

func (f Family) String() string { return string(f.Kind) + ":" + string(f.View) }

// Key identifies one queryable view.
type Key struct {
	kind   types.Kind
	view   ViewKind
	params map[string][]string
	canon  string
}

// For builds the canonical key for kind/view/params.
func For(kind types.Kind, view ViewKind, params Params) Key {
	p := canonicalParams(params)
	return Key{
		kind:   kind,
		view:   view,
		params: p,
		canon:  encode(kind, view, p),
	}
}

// List is the key of a filtered list view.
func List(kind types.Kind, filters Params) Key { return For(kind, ViewList, filters) }

// Detail is the key of a single entity.
func Detail(kind types.Kind, id string) Key {
	return For(kind, ViewDetail, Params{ParamID: id})
}

// ByRelation is the key of the entities of kind referencing rel, e.g. all
// orders for table T. Extra filters narrow the view further.
func ByRelation(kind types.Kind, rel types.Relation, filters Params) Key {
	p := make(Params, len(filters)+1)
	for k, v := range filters {
		p[k] = v
	}
	p[rel.Name] = rel.ID
	return For(kind, ViewByRelation, p)
}

// Aggregate is the key of a metric computed over entities of kind.
func Aggregate(kind types.Kind, metric string, params Params) Key {
	p := make(Params, len(params)+1)
	for k, v := range params {
		p[k] = v
	}
	p[ParamMetric] = metric
	return For(kind, ViewAggregate, p)
}

// Kind returns the entity kind.
func (k Key) Kind() types.Kind { return k.kind }

// View returns the view kind.
func (k Key) View() ViewKind { return k.view }

// Family returns the (kind, view) pair, ignoring params.
func (k Key) Family() Family { return Family{Kind: k.kind, View: k.view} }

// String returns the canonical form.
func (k Key) String() string { return k.canon }

// IsZero reports whether k was never built.
func (k Key) IsZero() bool { return k.canon == "" }

// Equal compares canonical forms.
func (k Key) Equal(other Key) bool { return k.canon == other.canon }

// Param returns the canonical values of name; ok is false when absent.
func (k Key) Param(name string) ([]string, bool) {
	v, ok := k.params[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), v...), true
}

// ParamNames returns the present param names, sorted.
func (k Key) ParamNames() []string {
	names := make([]string, 0, len(k.params))
	for n := range k.params {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FamilyOf returns the family of key.
func FamilyOf(key Key) Family { return key.Family() }

func encode(kind types.Kind, view ViewKind, params map[string][]string) string {
	// encoding/json sorts map keys, which makes the encoding canonical once
	// every value slice is sorted.
	b, err := json.Marshal(params)
	if err != nil {
		// map[string][]string always marshals
		panic(err)
	}
	return string(kind) + ":" + string(view) + ":" + string(b)
}

func canonicalParams(params Params) map[string][]string {
	out := make(map[string][]string, len(params))
	for name, raw := range params {
		name = normalizeString(name)
		if name == "" {
			continue
		}
		values := canonicalValues(raw)
		if len(values) == 0 {
			continue
		}
		out[name] = values
	}
	return out
}

func canonicalValues(raw any) []string {
	var values []string
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		values = []string{v}
	case []string:
		values = append(values, v...)
	case []any:
		for _, elem := range v {
			values = append(values, canonicalValues(elem)...)
		}
	case bool:
		values = []string{strconv.FormatBool(v)}
	case int:
		values = []string{strconv.Itoa(v)}
	case int64:
		values = []string{strconv.FormatInt(v, 10)}
	case time.Time:
		if v.IsZero() {
			return nil
		}
		values = []string{v.UTC().Format(time.RFC3339Nano)}
	case *string:
		if v == nil {
			return nil
		}
		values = []string{*v}
	case *int:
		if v == nil {
			return nil
		}
		values = []string{strconv.Itoa(*v)}
	case fmt.Stringer:
		values = []string{v.String()}
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				values = append(values, canonicalValues(rv.Index(i).Interface())...)
			}
		case reflect.String:
			values = []string{rv.String()}
		default:
			values = []string{fmt.Sprint(v)}
		}
	}

	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, s := range values {
		s = normalizeString(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func normalizeString(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
