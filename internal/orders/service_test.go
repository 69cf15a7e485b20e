package orders

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/config"
	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBaskets struct {
	baskets map[int]*models.Basket
}

func (f *fakeBaskets) GetWithItems(_ context.Context, basketID int) (*models.Basket, error) {
	basket, ok := f.baskets[basketID]
	if !ok {
		return nil, apperr.Errorf(apperr.NotFound, "GetWithItems", "basket %d not found", basketID)
	}
	return basket, nil
}

type fakeCatalog struct {
	items []models.CatalogItem
	calls int
}

func (f *fakeCatalog) ListByIDs(_ context.Context, ids []int) ([]models.CatalogItem, error) {
	f.calls++
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.CatalogItem
	for _, item := range f.items {
		if want[item.ID] {
			out = append(out, item)
		}
	}
	return out, nil
}

type mark struct {
	orderID int
	kind    models.DispatchKind
	itemIDs []int
}

type fakeOrders struct {
	mu         sync.Mutex
	nextOrder  int
	nextItem   int
	stored     map[int]*models.Order
	addErr     error
	marks      []mark
	pending    []models.PendingDispatch
	pendingCut time.Time
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{nextOrder: 1, nextItem: 100, stored: make(map[int]*models.Order)}
}

func (f *fakeOrders) Add(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	order.ID = f.nextOrder
	f.nextOrder++
	for i := range order.Items {
		order.Items[i].ID = f.nextItem
		f.nextItem++
	}
	copied := *order
	copied.Items = append([]models.OrderItem(nil), order.Items...)
	f.stored[order.ID] = &copied
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, orderID int) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.stored[orderID]
	if !ok {
		return nil, apperr.Errorf(apperr.NotFound, "GetByID", "order %d not found", orderID)
	}
	return order, nil
}

func (f *fakeOrders) MarkDispatched(_ context.Context, orderID int, kind models.DispatchKind, itemIDs ...int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, mark{orderID: orderID, kind: kind, itemIDs: itemIDs})
	return nil
}

func (f *fakeOrders) PendingDispatches(_ context.Context, olderThan time.Time, _ int) ([]models.PendingDispatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingCut = olderThan
	return f.pending, nil
}

func (f *fakeOrders) marked(kind models.DispatchKind) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int
	for _, m := range f.marks {
		if m.kind == kind {
			if kind == models.DispatchDelivery {
				ids = append(ids, m.orderID)
				continue
			}
			ids = append(ids, m.itemIDs...)
		}
	}
	return ids
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []models.ReservationRequest
	failFor  map[string]error
	block    bool
}

func (f *fakePublisher) PublishReservation(ctx context.Context, body []byte) error {
	var req models.ReservationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return err
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := f.failFor[req.ItemID]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, req)
	return nil
}

func (f *fakePublisher) sent() []models.ReservationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ReservationRequest(nil), f.messages...)
}

type fakeDelivery struct {
	mu       sync.Mutex
	requests []map[string]any
	err      error
}

func (f *fakeDelivery) Send(_ context.Context, body []byte) error {
	if f.err != nil {
		return f.err
	}
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

type fixture struct {
	baskets   *fakeBaskets
	catalog   *fakeCatalog
	orders    *fakeOrders
	publisher *fakePublisher
	delivery  *fakeDelivery
	cfg       *config.Config
	service   *OrderService
}

var testAddress = models.Address{Street: "1 Main St", City: "Redmond", State: "WA", Country: "US", ZipCode: "98052"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		baskets: &fakeBaskets{baskets: map[int]*models.Basket{
			1: {ID: 1, BuyerID: "U1", Items: []models.BasketItem{
				{CatalogItemID: 7, UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
			}},
			2: {ID: 2, BuyerID: "U2", Items: []models.BasketItem{
				{CatalogItemID: 7, UnitPrice: decimal.RequireFromString("10.00"), Quantity: 1},
				{CatalogItemID: 8, UnitPrice: decimal.RequireFromString("0.10"), Quantity: 3},
				{CatalogItemID: 9, UnitPrice: decimal.RequireFromString("19.99"), Quantity: 4},
			}},
			3: {ID: 3, BuyerID: "U3"},
			4: {ID: 4, BuyerID: "U4", Items: []models.BasketItem{
				{CatalogItemID: 7, UnitPrice: decimal.RequireFromString("1.00"), Quantity: 1},
				{CatalogItemID: 404, UnitPrice: decimal.RequireFromString("1.00"), Quantity: 1},
			}},
		}},
		catalog: &fakeCatalog{items: []models.CatalogItem{
			{ID: 7, Name: "Widget", PictureURI: "/img/7"},
			{ID: 8, Name: "Sprocket", PictureURI: CatalogBaseURLPlaceholder + "/img/8"},
			{ID: 9, Name: "Gizmo", PictureURI: "/img/9"},
		}},
		orders:    newFakeOrders(),
		publisher: &fakePublisher{failFor: map[string]error{}},
		delivery:  &fakeDelivery{},
		cfg: &config.Config{
			PublishTimeout:   time.Second,
			DeliveryTimeout:  time.Second,
			RedriveMinAge:    time.Minute,
			RedriveBatchSize: 100,
		},
	}
	f.service = f.build()
	return f
}

func (f *fixture) build() *OrderService {
	return NewOrderService(f.baskets, f.catalog, f.orders, f.orders, NewURIComposer("http://cdn.local/"),
		f.publisher, f.delivery, f.cfg, zap.NewNop())
}

func (f *fixture) assertNoSideEffects(t *testing.T) {
	t.Helper()
	assert.Empty(t, f.orders.stored, "no order persisted")
	assert.Empty(t, f.publisher.sent(), "no reservation dispatched")
	assert.Empty(t, f.delivery.requests, "no delivery call")
}

func TestCreateOrder_SingleItemScenario(t *testing.T) {
	f := newFixture(t)

	orderID, err := f.service.CreateOrder(context.Background(), 1, testAddress)
	require.NoError(t, err)

	order := f.orders.stored[orderID]
	require.NotNil(t, order)
	assert.Equal(t, "U1", order.BuyerID)
	assert.Equal(t, testAddress, order.ShipToAddr)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Widget", order.Items[0].ItemOrdered.ProductName)
	assert.Equal(t, "/img/7", order.Items[0].ItemOrdered.PictureURI)

	sent := f.publisher.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.ReservationRequest{ItemID: strconv.Itoa(order.Items[0].ID), Quantity: 2}, sent[0])

	require.Len(t, f.delivery.requests, 1)
	delivery := f.delivery.requests[0]
	assert.Equal(t, strconv.Itoa(orderID), delivery["id"])
	assert.Equal(t, 20.0, delivery["finalPrice"])
	assert.Len(t, delivery["items"], 1)

	assert.Equal(t, []int{order.Items[0].ID}, f.orders.marked(models.DispatchReservation))
	assert.Equal(t, []int{orderID}, f.orders.marked(models.DispatchDelivery))
}

func TestCreateOrder_ItemsMirrorBasket(t *testing.T) {
	f := newFixture(t)

	orderID, err := f.service.CreateOrder(context.Background(), 2, testAddress)
	require.NoError(t, err)

	order := f.orders.stored[orderID]
	basket := f.baskets.baskets[2]
	require.Len(t, order.Items, len(basket.Items))
	for i, item := range order.Items {
		assert.True(t, basket.Items[i].UnitPrice.Equal(item.UnitPrice))
		assert.Equal(t, basket.Items[i].Quantity, item.Units)
		assert.Equal(t, basket.Items[i].CatalogItemID, item.ItemOrdered.CatalogItemID)
	}
	assert.Equal(t, "http://cdn.local/img/8", order.Items[1].ItemOrdered.PictureURI)
	assert.Equal(t, 1, f.catalog.calls, "catalog resolved in one bulk lookup")

	// 10.00 + 0.30 + 79.96
	assert.Equal(t, 90.26, f.delivery.requests[0]["finalPrice"])
}

func TestCreateOrder_FanOutCardinality(t *testing.T) {
	f := newFixture(t)

	orderID, err := f.service.CreateOrder(context.Background(), 2, testAddress)
	require.NoError(t, err)

	order := f.orders.stored[orderID]
	want := make([]models.ReservationRequest, len(order.Items))
	for i, item := range order.Items {
		want[i] = models.ReservationRequest{ItemID: strconv.Itoa(item.ID), Quantity: item.Units}
	}
	assert.ElementsMatch(t, want, f.publisher.sent())
}

func TestCreateOrder_PreconditionFailures(t *testing.T) {
	tests := []struct {
		name     string
		basketID int
		wantKind apperr.Kind
		wantMsg  string
	}{
		{name: "missing basket", basketID: 99, wantKind: apperr.NotFound, wantMsg: "basket 99 not found"},
		{name: "empty basket", basketID: 3, wantKind: apperr.InvalidState, wantMsg: "empty basket"},
		{name: "unresolved catalog item", basketID: 4, wantKind: apperr.InvalidState, wantMsg: "[404]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			orderID, err := f.service.CreateOrder(context.Background(), tt.basketID, testAddress)

			require.Error(t, err)
			assert.Zero(t, orderID)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
			f.assertNoSideEffects(t)
		})
	}
}

func TestCreateOrder_EmptyBasketSkipsCatalog(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateOrder(context.Background(), 3, testAddress)

	require.Error(t, err)
	assert.Zero(t, f.catalog.calls)
}

func TestCreateOrder_StorageFailureStopsDispatch(t *testing.T) {
	f := newFixture(t)
	f.orders.addErr = errors.New("database is locked")

	orderID, err := f.service.CreateOrder(context.Background(), 2, testAddress)

	require.Error(t, err)
	assert.Zero(t, orderID)
	assert.Equal(t, apperr.StorageFailure, apperr.KindOf(err))
	f.assertNoSideEffects(t)
}

func TestCreateOrder_PartialDispatchFailure(t *testing.T) {
	f := newFixture(t)
	nack := errors.New("broker nack")
	// Items of the first order get ids 100, 101, 102.
	f.publisher.failFor["100"] = nack
	f.publisher.failFor["102"] = nack

	orderID, err := f.service.CreateOrder(context.Background(), 2, testAddress)

	require.Error(t, err)
	assert.NotZero(t, orderID, "order stays persisted")
	assert.Contains(t, f.orders.stored, orderID)
	assert.True(t, apperr.Is(err, apperr.PartialDispatchFailure))
	assert.False(t, apperr.Is(err, apperr.DeliveryDispatchFailure))
	assert.Equal(t, []int{0, 2}, apperr.FailedIndices(err))
	assert.ErrorIs(t, err, nack)

	assert.Equal(t, []models.ReservationRequest{{ItemID: "101", Quantity: 3}}, f.publisher.sent())
	assert.Equal(t, []int{101}, f.orders.marked(models.DispatchReservation), "only accepted items leave the outbox")
	assert.Len(t, f.delivery.requests, 1, "delivery does not wait on reservations")
}

func TestCreateOrder_DeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.delivery.err = errors.New("503 Service Unavailable")

	orderID, err := f.service.CreateOrder(context.Background(), 2, testAddress)

	require.Error(t, err)
	assert.NotZero(t, orderID)
	assert.True(t, apperr.Is(err, apperr.DeliveryDispatchFailure))
	assert.False(t, apperr.Is(err, apperr.PartialDispatchFailure))
	assert.Len(t, f.publisher.sent(), 3)
	assert.Empty(t, f.orders.marked(models.DispatchDelivery))
}

func TestCreateOrder_BothBranchesFail(t *testing.T) {
	f := newFixture(t)
	f.publisher.failFor["100"] = errors.New("channel closed")
	f.delivery.err = errors.New("connection refused")

	_, err := f.service.CreateOrder(context.Background(), 1, testAddress)

	assert.True(t, apperr.Is(err, apperr.PartialDispatchFailure))
	assert.True(t, apperr.Is(err, apperr.DeliveryDispatchFailure))
}

func TestCreateOrder_PublishTimeout(t *testing.T) {
	f := newFixture(t)
	f.cfg.PublishTimeout = 20 * time.Millisecond
	f.publisher.block = true
	f.service = f.build()

	_, err := f.service.CreateOrder(context.Background(), 2, testAddress)

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.PartialDispatchFailure))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []int{0, 1, 2}, apperr.FailedIndices(err))
}

func TestRedriveDispatches_ResendsOnlyPending(t *testing.T) {
	f := newFixture(t)
	f.publisher.failFor["101"] = errors.New("broker unavailable")
	f.delivery.err = errors.New("timeout")

	orderID, err := f.service.CreateOrder(context.Background(), 2, testAddress)
	require.Error(t, err)

	// Downstream recovers; the outbox still lists item 101 and the delivery.
	f.publisher.failFor = map[string]error{}
	f.delivery.err = nil
	f.publisher.messages = nil
	f.orders.marks = nil
	f.orders.pending = []models.PendingDispatch{
		{OrderID: orderID, Kind: models.DispatchReservation, OrderItemID: 101},
		{OrderID: orderID, Kind: models.DispatchDelivery},
	}
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return now }

	n, err := f.service.RedriveDispatches(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, now.Add(-time.Minute), f.orders.pendingCut)
	assert.Equal(t, []models.ReservationRequest{{ItemID: "101", Quantity: 3}}, f.publisher.sent())
	require.Len(t, f.delivery.requests, 1)
	assert.Equal(t, 90.26, f.delivery.requests[0]["finalPrice"])
	assert.Equal(t, []int{101}, f.orders.marked(models.DispatchReservation))
	assert.Equal(t, []int{orderID}, f.orders.marked(models.DispatchDelivery))
}

func TestRedriveDispatches_FailedIndicesAreOrderPositions(t *testing.T) {
	f := newFixture(t)
	f.publisher.failFor["101"] = errors.New("broker unavailable")
	f.publisher.failFor["102"] = errors.New("broker unavailable")

	orderID, err := f.service.CreateOrder(context.Background(), 2, testAddress)
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, apperr.FailedIndices(err))

	// Item 101 recovers, item 102 (third in the order) still fails.
	delete(f.publisher.failFor, "101")
	f.orders.pending = []models.PendingDispatch{
		{OrderID: orderID, Kind: models.DispatchReservation, OrderItemID: 101},
		{OrderID: orderID, Kind: models.DispatchReservation, OrderItemID: 102},
	}

	_, err = f.service.RedriveDispatches(context.Background())

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.PartialDispatchFailure))
	assert.Equal(t, []int{2}, apperr.FailedIndices(err))
}

func TestRedriveDispatches_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.pending = []models.PendingDispatch{{OrderID: 77, Kind: models.DispatchDelivery}}

	n, err := f.service.RedriveDispatches(context.Background())

	assert.Equal(t, 1, n)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	assert.Empty(t, f.delivery.requests)
}

func TestRedriveDispatches_WithoutOutbox(t *testing.T) {
	f := newFixture(t)
	service := NewOrderService(f.baskets, f.catalog, f.orders, nil, NewURIComposer(""), f.publisher, f.delivery, f.cfg, zap.NewNop())

	n, err := service.RedriveDispatches(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = service.CreateOrder(context.Background(), 1, testAddress)
	require.NoError(t, err)
	assert.Empty(t, f.orders.marks)
}

func TestRedriver_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		NewRedriver(f.service, 5*time.Millisecond, zap.NewNop()).Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("redriver did not stop")
	}
}

func TestURIComposer(t *testing.T) {
	c := NewURIComposer("https://cdn.example.com/")

	assert.Equal(t, "https://cdn.example.com/images/1.png", c.ComposePicURI(CatalogBaseURLPlaceholder+"/images/1.png"))
	assert.Equal(t, "/img/7", c.ComposePicURI("/img/7"))
}
