package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/domain/checkout"
	"storefront/internal/domain/discount"
	"storefront/internal/domain/notification"
	"storefront/internal/domain/order"
	"storefront/internal/domain/payment"
	"storefront/internal/domain/pricing"
	"storefront/internal/domain/stock"
	"storefront/internal/pkg/clock"
	"storefront/internal/usecase/shared"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrDuplicateProviderRef = errors.New("duplicate order provider reference")

type Product struct {
	ID                uuid.UUID
	Name              string
	Price             decimal.Decimal
	Stock             int
	Active            bool
	LowStockThreshold int
}

type Discount struct {
	ID          uuid.UUID
	Code        string
	Percentage  int
	Active      bool
	ExpiresAt   *time.Time
	MaxUses     *int
	CurrentUses int
}

type OrderRecord struct {
	ID                uuid.UUID
	UserID            *uuid.UUID
	Owner             string
	Status            order.Status
	PaymentType       payment.Provider
	ProviderRef       string
	Items             []order.Item
	Quote             pricing.Quote
	Currency          string
	DiscountCode      *string
	TrackingNumber    *string
	CourierService    *string
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
	History           []order.HistoryEntry
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type state struct {
	products     map[uuid.UUID]Product
	discounts    map[uuid.UUID]Discount
	attempts     map[string]checkout.Attempt
	reservations map[uuid.UUID]stock.Reservation
	orders       map[uuid.UUID]OrderRecord
	outbox       []notification.Event
	cases        []shared.ReconciliationCase
}

func (s state) clone() state {
	out := state{
		products:     make(map[uuid.UUID]Product, len(s.products)),
		discounts:    make(map[uuid.UUID]Discount, len(s.discounts)),
		attempts:     make(map[string]checkout.Attempt, len(s.attempts)),
		reservations: make(map[uuid.UUID]stock.Reservation, len(s.reservations)),
		orders:       make(map[uuid.UUID]OrderRecord, len(s.orders)),
		outbox:       append([]notification.Event(nil), s.outbox...),
		cases:        append([]shared.ReconciliationCase(nil), s.cases...),
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.discounts {
		out.discounts[k] = v
	}
	for k, v := range s.attempts {
		out.attempts[k] = v
	}
	for k, v := range s.reservations {
		out.reservations[k] = v
	}
	for k, v := range s.orders {
		v.History = append([]order.HistoryEntry(nil), v.History...)
		out.orders[k] = v
	}
	return out
}

// Store is an in-memory UnitOfWork. Transactions run one at a time and roll
// back every change when fn returns an error.
type Store struct {
	mu    sync.Mutex
	st    state
	clock clock.Clock

	createFailures int
	createErr      error
}

var _ shared.UnitOfWork = (*Store)(nil)

func NewStore(clk clock.Clock) *Store {
	return &Store{
		clock: clk,
		st: state{
			products:     map[uuid.UUID]Product{},
			discounts:    map[uuid.UUID]Discount{},
			attempts:     map[string]checkout.Attempt{},
			reservations: map[uuid.UUID]stock.Reservation{},
			orders:       map[uuid.UUID]OrderRecord{},
		},
	}
}

func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx shared.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) CommandReads() shared.CommandReads {
	return &memReads{s: s, lock: true}
}

func (s *Store) AddProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

func (s *Store) AddDiscount(d Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.discounts[d.ID] = d
}

// FailOrderCreates makes the next n order inserts fail with err.
func (s *Store) FailOrderCreates(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFailures = n
	s.createErr = err
}

func (s *Store) Product(id uuid.UUID) Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[id]
}

func (s *Store) Discount(id uuid.UUID) Discount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.discounts[id]
}

func (s *Store) Attempt(key string) (checkout.Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.attempts[key]
	return a, ok
}

func (s *Store) Order(id uuid.UUID) (OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	return o, ok
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *Store) Reservations() []stock.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stock.Reservation, 0, len(s.st.reservations))
	for _, r := range s.st.reservations {
		out = append(out, r)
	}
	return out
}

func (s *Store) Outbox() []notification.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Event(nil), s.st.outbox...)
}

func (s *Store) Cases() []shared.ReconciliationCase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.ReconciliationCase(nil), s.st.cases...)
}

type memTx struct {
	s *Store
}

func (t *memTx) Stock() shared.StockLedger                       { return (*ledger)(t.s) }
func (t *memTx) Discounts() shared.DiscountRepository            { return (*discounts)(t.s) }
func (t *memTx) Attempts() shared.AttemptRepository              { return (*attempts)(t.s) }
func (t *memTx) Orders() shared.OrderRepository                  { return (*orders)(t.s) }
func (t *memTx) Outbox() shared.OutboxRepository                 { return (*outbox)(t.s) }
func (t *memTx) Reconciliation() shared.ReconciliationRepository { return (*cases)(t.s) }
func (t *memTx) Reads() shared.CommandReads                      { return &memReads{s: t.s} }

type ledger Store

func (l *ledger) Reserve(_ context.Context, req stock.ReserveRequest) (*stock.Reservation, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	for _, r := range l.st.reservations {
		if r.AttemptKey == req.AttemptKey && r.Generation == req.Generation {
			out := r
			return &out, nil
		}
	}

	var shortages []stock.Shortage
	for _, line := range req.Lines {
		p, ok := l.st.products[line.ProductID]
		available := 0
		if ok && p.Active {
			available = p.Stock
		}
		if available < line.Quantity {
			shortages = append(shortages, stock.Shortage{ProductID: line.ProductID, Requested: line.Quantity, Available: available})
		}
	}
	if len(shortages) > 0 {
		return nil, &stock.InsufficientStockError{Shortages: shortages}
	}

	now := l.clock.Now()
	res := stock.Reservation{
		ID:         uuid.New(),
		AttemptKey: req.AttemptKey,
		Generation: req.Generation,
		Status:     stock.StatusReserved,
		DiscountID: req.DiscountID,
		ExpiresAt:  req.ExpiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, line := range req.Lines {
		p := l.st.products[line.ProductID]
		p.Stock -= line.Quantity
		l.st.products[p.ID] = p
		res.Lines = append(res.Lines, stock.Line{ProductID: p.ID, Quantity: line.Quantity, UnitPrice: p.Price})
	}
	l.st.reservations[res.ID] = res
	return &res, nil
}

func (l *ledger) Commit(_ context.Context, reservationID, orderID uuid.UUID) error {
	res, ok := l.st.reservations[reservationID]
	if !ok {
		return stock.ErrReservationNotFound
	}
	switch res.Status {
	case stock.StatusReserved:
	case stock.StatusCommitted:
		if res.OrderID != nil && *res.OrderID == orderID {
			return nil
		}
		return stock.ErrNotReserved
	case stock.StatusReleased:
		var shortages []stock.Shortage
		for _, line := range res.Lines {
			if p := l.st.products[line.ProductID]; p.Stock < line.Quantity {
				shortages = append(shortages, stock.Shortage{ProductID: line.ProductID, Requested: line.Quantity, Available: p.Stock})
			}
		}
		if len(shortages) > 0 {
			return &stock.InsufficientStockError{Shortages: shortages}
		}
		l.adjust(res, -1)
	default:
		return stock.ErrNotReserved
	}
	res.Status = stock.StatusCommitted
	res.OrderID = &orderID
	res.UpdatedAt = l.clock.Now()
	l.st.reservations[res.ID] = res
	return nil
}

func (l *ledger) Release(_ context.Context, reservationID uuid.UUID) (bool, error) {
	res, ok := l.st.reservations[reservationID]
	if !ok {
		return false, stock.ErrReservationNotFound
	}
	if res.Status != stock.StatusReserved {
		return false, nil
	}
	l.adjust(res, 1)
	res.Status = stock.StatusReleased
	res.UpdatedAt = l.clock.Now()
	l.st.reservations[res.ID] = res
	return true, nil
}

func (l *ledger) ReturnOrderStock(_ context.Context, orderID uuid.UUID) (bool, error) {
	returned := false
	for id, res := range l.st.reservations {
		if res.Status != stock.StatusCommitted || res.OrderID == nil || *res.OrderID != orderID {
			continue
		}
		l.adjust(res, 1)
		res.Status = stock.StatusReturned
		res.UpdatedAt = l.clock.Now()
		l.st.reservations[id] = res
		returned = true
	}
	return returned, nil
}

func (l *ledger) Expired(_ context.Context, before time.Time, limit int) ([]stock.Reservation, error) {
	var out []stock.Reservation
	for _, res := range l.st.reservations {
		if res.Status == stock.StatusReserved && !res.ExpiresAt.After(before) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *ledger) adjust(res stock.Reservation, sign int) {
	for _, line := range res.Lines {
		p := l.st.products[line.ProductID]
		p.Stock += sign * line.Quantity
		l.st.products[p.ID] = p
	}
}

type discounts Store

func (d *discounts) LockForHold(_ context.Context, code discount.Code) (*discount.DiscountCode, error) {
	return (*Store)(d).discountByCode(code)
}

func (d *discounts) IncrementUsage(_ context.Context, id uuid.UUID) (bool, error) {
	row, ok := d.st.discounts[id]
	if !ok {
		return false, discount.ErrNotFound
	}
	if row.MaxUses != nil && row.CurrentUses >= *row.MaxUses {
		return false, nil
	}
	row.CurrentUses++
	d.st.discounts[id] = row
	return true, nil
}

func (s *Store) discountByCode(code discount.Code) (*discount.DiscountCode, error) {
	for _, row := range s.st.discounts {
		if !strings.EqualFold(row.Code, code.String()) {
			continue
		}
		holds := 0
		for _, res := range s.st.reservations {
			if res.Status == stock.StatusReserved && res.DiscountID != nil && *res.DiscountID == row.ID {
				holds++
			}
		}
		return discount.Reconstruct(row.ID, row.Code, row.Percentage, row.Active, row.ExpiresAt, row.MaxUses, row.CurrentUses, holds)
	}
	return nil, discount.ErrNotFound
}

type attempts Store

func (a *attempts) Insert(_ context.Context, at *checkout.Attempt) (bool, error) {
	if _, ok := a.st.attempts[at.Key]; ok {
		return false, nil
	}
	a.st.attempts[at.Key] = *at
	return true, nil
}

func (a *attempts) LockByKey(_ context.Context, key string) (*checkout.Attempt, error) {
	at, ok := a.st.attempts[key]
	if !ok {
		return nil, checkout.ErrAttemptNotFound
	}
	return &at, nil
}

func (a *attempts) Update(_ context.Context, at *checkout.Attempt, from checkout.State) (bool, error) {
	cur, ok := a.st.attempts[at.Key]
	if !ok || cur.Generation != at.Generation || cur.State != from {
		return false, nil
	}
	a.st.attempts[at.Key] = *at
	return true, nil
}

func (a *attempts) Rearm(_ context.Context, at *checkout.Attempt) error {
	if _, ok := a.st.attempts[at.Key]; !ok {
		return checkout.ErrAttemptNotFound
	}
	a.st.attempts[at.Key] = *at
	return nil
}

type orders Store

func (o *orders) Create(_ context.Context, ord *order.Order) error {
	if o.createFailures > 0 {
		o.createFailures--
		return o.createErr
	}
	for _, row := range o.st.orders {
		if row.PaymentType == ord.PaymentType() && row.ProviderRef == ord.ProviderRef() {
			return ErrDuplicateProviderRef
		}
	}
	o.st.orders[ord.ID()] = OrderRecord{
		ID:           ord.ID(),
		UserID:       ord.UserID(),
		Owner:        ord.Owner(),
		Status:       ord.Status(),
		PaymentType:  ord.PaymentType(),
		ProviderRef:  ord.ProviderRef(),
		Items:        ord.Items(),
		Quote:        ord.Quote(),
		Currency:     ord.Currency(),
		DiscountCode: ord.DiscountCode(),
		History:      append([]order.HistoryEntry(nil), ord.History()...),
		CreatedAt:    ord.CreatedAt(),
		UpdatedAt:    ord.UpdatedAt(),
	}
	return nil
}

func (o *orders) IDByProviderRef(_ context.Context, provider payment.Provider, ref string) (uuid.UUID, error) {
	for _, row := range o.st.orders {
		if row.PaymentType == provider && row.ProviderRef == ref {
			return row.ID, nil
		}
	}
	return uuid.Nil, order.ErrNotFound
}

func (o *orders) LockByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	row, ok := o.st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return order.Reconstruct(row.ID, row.UserID, row.Owner, row.Status, row.PaymentType, row.ProviderRef,
		row.TrackingNumber, row.CourierService, row.EstimatedDelivery, row.ActualDelivery,
		row.CreatedAt, row.UpdatedAt), nil
}

func (o *orders) UpdateStatus(_ context.Context, ord *order.Order, from order.Status, entry order.HistoryEntry) (bool, error) {
	row, ok := o.st.orders[ord.ID()]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = ord.Status()
	row.TrackingNumber = ord.TrackingNumber()
	row.CourierService = ord.CourierService()
	row.EstimatedDelivery = ord.EstimatedDelivery()
	row.ActualDelivery = ord.ActualDelivery()
	row.UpdatedAt = ord.UpdatedAt()
	row.History = append(row.History, entry)
	o.st.orders[row.ID] = row
	return true, nil
}

type outbox Store

func (o *outbox) Enqueue(_ context.Context, ev notification.Event) error {
	o.st.outbox = append(o.st.outbox, ev)
	return nil
}

type cases Store

func (c *cases) Open(_ context.Context, rc shared.ReconciliationCase) (uuid.UUID, error) {
	c.st.cases = append(c.st.cases, rc)
	return uuid.New(), nil
}

// memReads takes the store lock only when used outside a transaction.
type memReads struct {
	s    *Store
	lock bool
}

func (r *memReads) enter() func() {
	if !r.lock {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

func (r *memReads) ProductsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]shared.ProductSnapshot, error) {
	defer r.enter()()
	out := make(map[uuid.UUID]shared.ProductSnapshot, len(ids))
	for _, id := range ids {
		p, ok := r.s.st.products[id]
		if !ok {
			continue
		}
		out[id] = shared.ProductSnapshot{
			ID:                p.ID,
			Name:              p.Name,
			Price:             p.Price,
			Active:            p.Active,
			Stock:             p.Stock,
			LowStockThreshold: p.LowStockThreshold,
		}
	}
	return out, nil
}

func (r *memReads) DiscountByCode(_ context.Context, code discount.Code) (*discount.DiscountCode, error) {
	defer r.enter()()
	return r.s.discountByCode(code)
}

func (r *memReads) AttemptByKey(_ context.Context, key string) (*checkout.Attempt, error) {
	defer r.enter()()
	a, ok := r.s.st.attempts[key]
	if !ok {
		return nil, checkout.ErrAttemptNotFound
	}
	return &a, nil
}

func (r *memReads) AttemptByIntent(_ context.Context, intentID uuid.UUID) (*checkout.Attempt, error) {
	defer r.enter()()
	for _, a := range r.s.st.attempts {
		if a.IntentID != nil && *a.IntentID == intentID {
			out := a
			return &out, nil
		}
	}
	return nil, checkout.ErrAttemptNotFound
}

func (r *memReads) ReservationByID(_ context.Context, id uuid.UUID) (*stock.Reservation, error) {
	defer r.enter()()
	res, ok := r.s.st.reservations[id]
	if !ok {
		return nil, stock.ErrReservationNotFound
	}
	return &res, nil
}
