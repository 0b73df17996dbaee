// Package paperadapter is an in-memory demo implementation of
// broker.Adapter, generalizing the teacher's broker_paper.go from a
// single-product quote-order simulator into a multi-symbol adapter
// that answers FetchCash/FetchPosition/FetchPrice/FetchPendingOrders
// and submits orders against a mutable price book, all held behind one
// mutex exactly like the teacher's PaperBroker.
package paperadapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantada/brokercore/internal/broker"
)

const defaultPrice = 100.0

// Adapter is a deterministic, network-free broker.Adapter for demos
// and tests. It fills every accepted order immediately at the last-seen
// price, falling back to the order's reference price and then to
// defaultPrice. It rejects a BUY whose value exceeds cash and a SELL
// larger than the available position.
type Adapter struct {
	mu sync.Mutex

	cash      float64
	prices    map[string]float64
	positions map[string]broker.Position
	pending   map[string]broker.PendingOrder
}

func New(startingCash float64) *Adapter {
	return &Adapter{
		cash:      startingCash,
		prices:    make(map[string]float64),
		positions: make(map[string]broker.Position),
		pending:   make(map[string]broker.PendingOrder),
	}
}

func (a *Adapter) Name() string { return "paper" }

func (a *Adapter) IsLiveMode() bool { return false }

// SetPrice lets a test or demo driver move the simulated market.
func (a *Adapter) SetPrice(symbol string, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices[symbol] = price
}

func (a *Adapter) FetchCash(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash, nil
}

func (a *Adapter) FetchPosition(ctx context.Context, symbol string) (broker.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[symbol], nil
}

func (a *Adapter) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.prices[symbol]; ok && p > 0 {
		return p, nil
	}
	return defaultPrice, nil
}

func (a *Adapter) FetchPendingOrders(ctx context.Context) ([]broker.PendingOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]broker.PendingOrder, 0, len(a.pending))
	for _, po := range a.pending {
		out = append(out, po)
	}
	return out, nil
}

// SubmitOrder fills immediately: BUY increases the position and spends
// cash, SELL decreases the position and credits cash. size is in
// shares/units of the underlying, not USD, matching the Adapter
// contract (SPEC_FULL.md §6).
func (a *Adapter) SubmitOrder(ctx context.Context, symbol string, side broker.Side, size float64, referencePrice float64) (*broker.OrderHandle, error) {
	if size <= 0 {
		return nil, errors.New("paperadapter: size must be > 0")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	price := a.prices[symbol]
	if price <= 0 {
		price = referencePrice
	}
	if price <= 0 {
		price = defaultPrice
	}
	value := size * price

	pos := a.positions[symbol]
	switch side {
	case broker.SideBuy:
		if value > a.cash {
			return &broker.OrderHandle{
				ID:       uuid.New().String(),
				Symbol:   symbol,
				Side:     side,
				Rejected: true,
			}, nil
		}
		a.cash -= value
		pos.Size += size
		pos.AvailableSize += size
		pos.AvgPrice = price
	case broker.SideSell:
		if size > pos.AvailableSize {
			return &broker.OrderHandle{
				ID:       uuid.New().String(),
				Symbol:   symbol,
				Side:     side,
				Rejected: true,
			}, nil
		}
		a.cash += value
		pos.Size -= size
		pos.AvailableSize -= size
	}
	a.positions[symbol] = pos

	return &broker.OrderHandle{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		Side:        side,
		Completed:   true,
		FilledSize:  size,
		AvgPrice:    price,
		Value:       value,
		SubmittedAt: time.Now().UTC(),
	}, nil
}
