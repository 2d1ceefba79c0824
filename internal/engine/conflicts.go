package engine

import (
	"sort"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

// ConflictingOrders returns the open orders that become inconsistent if
// candidate is placed: same wallet, same pair, same side, and a displayed
// price strictly lower than the candidate's.
func ConflictingOrders(open []domain.Order, candidate domain.Order) []domain.Order {
	var out []domain.Order
	for _, o := range open {
		if o.ID != "" && o.ID == candidate.ID {
			continue
		}
		if o.Sender != candidate.Sender || !o.State.Reserving() || o.Side != candidate.Side {
			continue
		}
		if o.Src.Address != candidate.Src.Address || o.Dest.Address != candidate.Dest.Address {
			continue
		}
		if worsePrice(o, candidate) {
			out = append(out, o)
		}
	}
	return out
}

// worsePrice reports whether old's displayed price is strictly below
// candidate's. Sell prices are the stored rate; buy prices are its inverse,
// so the comparison flips instead of dividing.
func worsePrice(old, candidate domain.Order) bool {
	if old.TargetRate == nil || candidate.TargetRate == nil || old.TargetRate.Sign() <= 0 || candidate.TargetRate.Sign() <= 0 {
		return false
	}
	c := old.TargetRate.Cmp(candidate.TargetRate)
	if candidate.Side == domain.OrderSideBuy {
		return c > 0
	}
	return c < 0
}

// GroupByDay groups orders by UTC creation date, newest day first and
// newest order first within a day.
func GroupByDay(orders []domain.Order) []domain.OrderDayGroup {
	sorted := make([]domain.Order, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	var groups []domain.OrderDayGroup
	for _, o := range sorted {
		day := o.CreatedAt.UTC().Format("2006-01-02")
		if n := len(groups); n > 0 && groups[n-1].Day == day {
			groups[n-1].Orders = append(groups[n-1].Orders, o)
			continue
		}
		groups = append(groups, domain.OrderDayGroup{Day: day, Orders: []domain.Order{o}})
	}
	return groups
}
