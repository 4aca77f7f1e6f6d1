package usecase_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vitos/grid_ledger/internal/domain"
	"github.com/vitos/grid_ledger/internal/infrastructure/storage"
)

// MockGateway is a scriptable MarketGateway. Submitted orders rest as "new"
// until the test changes Statuses.
type MockGateway struct {
	mu sync.Mutex

	Price       float64
	PriceErr    error
	Position    int64
	PositionErr error
	Equity      float64
	EquityErr   error
	SubmitErr   error
	StatusErr   error
	CancelErr   error

	Statuses  map[string]domain.OrderStatus
	Submitted []domain.OrderRequest
	Canceled  []string
}

func NewMockGateway(price float64, equity float64) *MockGateway {
	return &MockGateway{
		Price:    price,
		Equity:   equity,
		Statuses: make(map[string]domain.OrderStatus),
	}
}

func (m *MockGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PriceErr != nil {
		return 0, m.PriceErr
	}
	return m.Price, nil
}

func (m *MockGateway) GetPosition(ctx context.Context, symbol string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PositionErr != nil {
		return 0, m.PositionErr
	}
	return m.Position, nil
}

func (m *MockGateway) GetAccountEquity(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EquityErr != nil {
		return 0, m.EquityErr
	}
	return m.Equity, nil
}

func (m *MockGateway) SubmitLimitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submitted = append(m.Submitted, req)
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	m.Statuses[req.ClientOrderID] = domain.OrderNew
	return &domain.OrderAck{
		ClientOrderID: req.ClientOrderID,
		BrokerOrderID: fmt.Sprintf("broker-%d", len(m.Submitted)),
		Status:        domain.OrderNew,
	}, nil
}

func (m *MockGateway) GetOrderStatus(ctx context.Context, clientOrderID string) (domain.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatusErr != nil {
		return "", m.StatusErr
	}
	s, ok := m.Statuses[clientOrderID]
	if !ok {
		return "", domain.ErrOrderNotFound
	}
	return s, nil
}

func (m *MockGateway) CancelOrder(ctx context.Context, clientOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Canceled = append(m.Canceled, clientOrderID)
	if m.CancelErr != nil {
		return m.CancelErr
	}
	if _, ok := m.Statuses[clientOrderID]; ok {
		m.Statuses[clientOrderID] = domain.OrderCanceled
	}
	return nil
}

// Fill marks the order filled and moves the position.
func (m *MockGateway) Fill(clientOrderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.Submitted {
		if req.ClientOrderID != clientOrderID {
			continue
		}
		m.Statuses[clientOrderID] = domain.OrderFilled
		if req.Side == domain.SideBuy {
			m.Position += req.Qty
		} else {
			m.Position -= req.Qty
		}
		return
	}
}

func (m *MockGateway) SetStatus(clientOrderID string, status domain.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[clientOrderID] = status
}

func (m *MockGateway) SetPrice(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Price = price
}

func (m *MockGateway) SubmittedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Submitted)
}

func (m *MockGateway) LastSubmitted() domain.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Submitted[len(m.Submitted)-1]
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func lotByLevel(t *testing.T, lots []*domain.Lot, level int) *domain.Lot {
	t.Helper()
	for _, l := range lots {
		if l.Level == level {
			return l
		}
	}
	t.Fatalf("level %d not found", level)
	return nil
}
