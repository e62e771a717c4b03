package policy

import (
	"sort"
	"time"

	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/types"
)

// Volatility tiers. Live operational views are re-queried while displayed;
// reference data almost never is.
const (
	LiveStale        = 15 * time.Second
	OperationalStale = 30 * time.Second
	AnalyticsStale   = 2 * time.Minute
	AnalyticsPoll    = 5 * time.Minute
	ReferenceStale   = 10 * time.Minute
	DefaultRetention = 5 * time.Minute
)

// Live is the policy of the kitchen queue and other second-by-second views.
func Live() Policy {
	return Policy{Stale: LiveStale, RefetchInterval: LiveStale, Retention: DefaultRetention, Retry: DefaultRetry()}
}

// Operational is the policy of active table orders and reservation boards.
func Operational() Policy {
	return Policy{Stale: OperationalStale, RefetchInterval: OperationalStale, Retention: DefaultRetention, Retry: DefaultRetry()}
}

// Detail is the policy of single-entity views: fresh for the operational
// window, refreshed only on demand.
func Detail() Policy {
	return Policy{Stale: OperationalStale, Retention: DefaultRetention, Retry: DefaultRetry()}
}

// Analytics is the policy of metrics and aggregate views.
func Analytics() Policy {
	return Policy{Stale: AnalyticsStale, RefetchInterval: AnalyticsPoll, Retention: DefaultRetention, Retry: DefaultRetry()}
}

// Reference is the policy of semi-static data such as stations and tables.
func Reference() Policy {
	return Policy{Stale: ReferenceStale, Retention: DefaultRetention, Retry: DefaultRetry()}
}

// DefaultTable returns the built-in policy assignment.
func DefaultTable() *Table {
	t := NewTable(Detail())

	live := Live()
	t.Set(keys.Family{Kind: types.KindKitchenOrder, View: keys.ViewList}, live)
	t.Set(keys.Family{Kind: types.KindKitchenOrder, View: keys.ViewByRelation}, live)
	kitchenDetail := Detail()
	kitchenDetail.Stale = LiveStale
	t.Set(keys.Family{Kind: types.KindKitchenOrder, View: keys.ViewDetail}, kitchenDetail)

	for _, kind := range []types.Kind{types.KindOrder, types.KindReservation} {
		t.Set(keys.Family{Kind: kind, View: keys.ViewList}, Operational())
		t.Set(keys.Family{Kind: kind, View: keys.ViewByRelation}, Operational())
		t.Set(keys.Family{Kind: kind, View: keys.ViewDetail}, Detail())
	}

	for _, kind := range []types.Kind{types.KindOrder, types.KindKitchenOrder, types.KindReservation, types.KindInventoryItem} {
		t.Set(keys.Family{Kind: kind, View: keys.ViewAggregate}, Analytics())
	}

	for _, kind := range []types.Kind{types.KindStation, types.KindTable} {
		for _, view := range []keys.ViewKind{keys.ViewList, keys.ViewDetail, keys.ViewByRelation} {
			t.Set(keys.Family{Kind: kind, View: view}, Reference())
		}
	}

	inventory := Analytics()
	t.Set(keys.Family{Kind: types.KindInventoryItem, View: keys.ViewList}, inventory)
	t.Set(keys.Family{Kind: types.KindInventoryItem, View: keys.ViewDetail}, Detail())

	return t
}

func sortFamilies(fs []keys.Family) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].Kind != fs[j].Kind {
			return fs[i].Kind < fs[j].Kind
		}
		return fs[i].View < fs[j].View
	})
}
