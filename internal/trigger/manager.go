package trigger

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager owns the trigger exchanges and drives their shared lifecycle.
type Manager struct {
	exchanges []*Exchange
	logger    *zap.Logger
}

func NewManager(logger *zap.Logger, exchanges ...*Exchange) *Manager {
	return &Manager{
		exchanges: exchanges,
		logger:    logger,
	}
}

// Init seeds the novelty sets of every exchange concurrently.
func (m *Manager) Init(ctx context.Context) {
	var g errgroup.Group
	for _, e := range m.exchanges {
		e := e
		g.Go(func() error {
			e.Init(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Run schedules every exchange's part loops.
func (m *Manager) Run(ctx context.Context) {
	for _, e := range m.exchanges {
		e.Run(ctx)
	}
}

// Close logs the shutdown per exchange. The part loops stop with the root
// context; network resources live in the shared HTTP client.
func (m *Manager) Close() {
	for _, e := range m.exchanges {
		m.logger.Info("Closing sessions", zap.String("trigger", e.Name()))
	}
}

// Exchanges returns the managed exchanges in registration order.
func (m *Manager) Exchanges() []*Exchange {
	out := make([]*Exchange, len(m.exchanges))
	copy(out, m.exchanges)
	return out
}

// Exchange returns the exchange with the given name, nil when unknown.
func (m *Manager) Exchange(name string) *Exchange {
	for _, e := range m.exchanges {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

// DropCoin forgets a code on one exchange. It reports whether the exchange
// exists and tracked the code.
func (m *Manager) DropCoin(exchange, code string) bool {
	e := m.Exchange(exchange)
	if e == nil {
		return false
	}
	return e.DropCoin(code)
}

// DropCoinAll forgets a code everywhere and returns the names of the
// exchanges that tracked it.
func (m *Manager) DropCoinAll(code string) []string {
	var had []string
	for _, e := range m.exchanges {
		if e.DropCoin(code) {
			had = append(had, e.Name())
		}
	}
	return had
}
