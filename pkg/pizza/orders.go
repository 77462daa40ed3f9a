package pizza

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/contoso/sofia/internal/observability"
)

// Order statuses, in kitchen order.
const (
	StatusReceived       = "received"
	StatusPreparing      = "preparing"
	StatusBaking         = "baking"
	StatusOutForDelivery = "out-for-delivery"
	StatusDelivered      = "delivered"
	StatusCancelled      = "cancelled"
)

// The kitchen timeline: an order advances through these stages by elapsed
// time since placement.
var statusLadder = []struct {
	after  time.Duration
	status string
}{
	{0, StatusReceived},
	{2 * time.Minute, StatusPreparing},
	{8 * time.Minute, StatusBaking},
	{15 * time.Minute, StatusOutForDelivery},
	{25 * time.Minute, StatusDelivered},
}

// deliveryTime is when an order is considered delivered.
const deliveryTime = 25 * time.Minute

var (
	// ErrOrderNotFound is returned for an unknown order ID.
	ErrOrderNotFound = errors.New("order not found")

	// ErrCannotCancel is returned when an order is too far along to cancel.
	ErrCannotCancel = errors.New("order can no longer be cancelled")
)

// OrderLine is one requested menu item.
type OrderLine struct {
	Item     string `json:"item"`
	Size     string `json:"size,omitempty"`
	Quantity int    `json:"quantity"`
}

// OrderRequest is the input for placing an order.
type OrderRequest struct {
	Customer string      `json:"customer"`
	Items    []OrderLine `json:"items"`
	Notes    string      `json:"notes,omitempty"`
}

// OrderItem is a priced line on a placed order.
type OrderItem struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"name"`
	Size     string  `json:"size"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is a placed order with its derived kitchen status.
type Order struct {
	ID        string      `json:"id"`
	Customer  string      `json:"customer"`
	Items     []OrderItem `json:"items"`
	Pizzas    int         `json:"pizzas"`
	Total     float64     `json:"total"`
	Notes     string      `json:"notes,omitempty"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ETA       time.Time   `json:"eta"`
}

// OrderEvent marks one status transition, consumed by the order feed.
type OrderEvent struct {
	OrderID string    `json:"order_id"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
}

// OrderStore persists orders in SQLite and advances their status along
// the kitchen timeline on read.
type OrderStore struct {
	db     *sql.DB
	logger zerolog.Logger
	events chan OrderEvent

	// now is swappable in tests to steer the kitchen clock.
	now func() time.Time
}

// NewOrderStore opens (or creates) the order database at dbPath.
func NewOrderStore(dbPath string, logger zerolog.Logger) (*OrderStore, error) {
	if dbPath == "" {
		return nil, errors.New("order database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open order database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &OrderStore{
		db:     db,
		logger: logger,
		events: make(chan OrderEvent, 64),
		now:    time.Now,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize order schema: %w", err)
	}

	s.refreshOpenGauge(context.Background())
	logger.Info().Str("db", dbPath).Msg("Order store initialized")
	return s, nil
}

func (s *OrderStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			customer TEXT NOT NULL,
			items TEXT NOT NULL,
			pizzas INTEGER NOT NULL,
			total REAL NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
		CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Events exposes the transition stream. The channel is buffered and
// never blocks the store; a slow consumer loses events.
func (s *OrderStore) Events() <-chan OrderEvent {
	return s.events
}

func (s *OrderStore) emit(event OrderEvent) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn().Str("order_id", event.OrderID).Msg("Order event dropped, feed buffer full")
	}
}

// PlaceOrder validates the request against the menu, prices it, and
// stores it with status received.
func (s *OrderStore) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Customer == "" {
		return nil, errors.New("customer name is required")
	}
	if len(req.Items) == 0 {
		return nil, errors.New("order needs at least one item")
	}

	var items []OrderItem
	var total float64
	var pizzas int
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("quantity for %q must be at least 1", line.Item)
		}
		menuItem, ok := FindItem(line.Item)
		if !ok {
			return nil, fmt.Errorf("unknown menu item %q", line.Item)
		}
		size := line.Size
		if size == "" {
			size = "medium"
		}
		price, ok := PriceFor(menuItem, size)
		if !ok {
			return nil, fmt.Errorf("unknown size %q for %s", line.Size, menuItem.Name)
		}

		items = append(items, OrderItem{
			ItemID:   menuItem.ID,
			Name:     menuItem.Name,
			Size:     size,
			Quantity: line.Quantity,
			Price:    price,
		})
		total += price * float64(line.Quantity)
		pizzas += line.Quantity
	}

	suffix, err := gonanoid.New(12)
	if err != nil {
		return nil, fmt.Errorf("failed to generate order id: %w", err)
	}

	now := s.now()
	order := &Order{
		ID:        "ord_" + suffix,
		Customer:  req.Customer,
		Items:     items,
		Pizzas:    pizzas,
		Total:     total,
		Notes:     req.Notes,
		Status:    StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
		ETA:       now.Add(deliveryTime),
	}

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, customer, items, pizzas, total, notes, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.Customer, string(itemsJSON), order.Pizzas, order.Total,
		order.Notes, order.Status, now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store order: %w", err)
	}

	s.logger.Info().
		Str("order_id", order.ID).
		Str("customer", order.Customer).
		Int("pizzas", order.Pizzas).
		Float64("total", order.Total).
		Msg("Order placed")

	observability.RecordOrder(StatusReceived)
	observability.RecordOrderAudit(ctx, "place", order.ID, StatusReceived, map[string]interface{}{
		"customer": order.Customer,
		"pizzas":   order.Pizzas,
		"total":    order.Total,
	})
	s.emit(OrderEvent{OrderID: order.ID, Status: StatusReceived, At: now})
	s.refreshOpenGauge(ctx)

	return order, nil
}

// GetOrder returns the order, advancing its status along the kitchen
// timeline first.
func (s *OrderStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.advance(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns orders newest first, optionally filtered by status.
// limit <= 0 means no limit.
func (s *OrderStore) ListOrders(ctx context.Context, status string, limit int) ([]Order, error) {
	query := "SELECT id FROM orders ORDER BY created_at DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit*4) // headroom: the status filter applies post-advance
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var orders []Order
	for _, id := range ids {
		order, err := s.GetOrder(ctx, id)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				continue
			}
			return nil, err
		}
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, *order)
		if limit > 0 && len(orders) >= limit {
			break
		}
	}
	return orders, nil
}

// CancelOrder cancels the order if the kitchen has not started baking.
func (s *OrderStore) CancelOrder(ctx context.Context, id string) (*Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if order.Status != StatusReceived && order.Status != StatusPreparing {
		return nil, fmt.Errorf("%w: order %s is %s", ErrCannotCancel, id, order.Status)
	}

	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?",
		StatusCancelled, now.Unix(), id,
	); err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	order.Status = StatusCancelled
	order.UpdatedAt = now

	s.logger.Info().Str("order_id", id).Msg("Order cancelled")
	observability.RecordOrder(StatusCancelled)
	observability.RecordOrderAudit(ctx, "cancel", id, StatusCancelled, nil)
	s.emit(OrderEvent{OrderID: id, Status: StatusCancelled, At: now})
	s.refreshOpenGauge(ctx)

	return order, nil
}

// PruneOrders deletes orders placed before the cutoff. Anything that old
// has long since been delivered or cancelled.
func (s *OrderStore) PruneOrders(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).Unix()
	result, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune orders: %w", err)
	}
	pruned, _ := result.RowsAffected()
	if pruned > 0 {
		s.logger.Info().Int64("pruned", pruned).Msg("Old orders pruned")
		s.refreshOpenGauge(ctx)
	}
	return int(pruned), nil
}

// CountByStatus reports how many orders sit in each status right now.
func (s *OrderStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	// Advance everything first so the counts reflect the timeline.
	if _, err := s.ListOrders(ctx, "", 0); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Close closes the underlying database.
func (s *OrderStore) Close() error {
	return s.db.Close()
}

func (s *OrderStore) loadOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	var itemsJSON string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer, items, pizzas, total, notes, status, created_at, updated_at
		FROM orders WHERE id = ?`, id,
	).Scan(&order.ID, &order.Customer, &itemsJSON, &order.Pizzas, &order.Total,
		&order.Notes, &order.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &order.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	order.CreatedAt = time.Unix(createdAt, 0)
	order.UpdatedAt = time.Unix(updatedAt, 0)
	order.ETA = order.CreatedAt.Add(deliveryTime)
	return &order, nil
}

// advance moves the order along the kitchen timeline, persisting the new
// status and emitting one event per stage passed.
func (s *OrderStore) advance(ctx context.Context, order *Order) error {
	if order.Status == StatusCancelled || order.Status == StatusDelivered {
		return nil
	}

	elapsed := s.now().Sub(order.CreatedAt)
	target := statusForAge(elapsed)
	if target == order.Status {
		return nil
	}

	from := ladderIndex(order.Status)
	to := ladderIndex(target)
	if to <= from {
		return nil
	}

	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?",
		target, now.Unix(), order.ID,
	); err != nil {
		return fmt.Errorf("failed to advance order status: %w", err)
	}

	for i := from + 1; i <= to; i++ {
		stage := statusLadder[i].status
		observability.RecordOrder(stage)
		s.emit(OrderEvent{
			OrderID: order.ID,
			Status:  stage,
			At:      order.CreatedAt.Add(statusLadder[i].after),
		})
	}

	log.Debug().
		Str("order_id", order.ID).
		Str("from", order.Status).
		Str("to", target).
		Msg("Order status advanced")

	order.Status = target
	order.UpdatedAt = now
	s.refreshOpenGauge(ctx)
	return nil
}

func (s *OrderStore) refreshOpenGauge(ctx context.Context) {
	var open int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM orders WHERE status NOT IN (?, ?)",
		StatusDelivered, StatusCancelled,
	).Scan(&open)
	if err != nil {
		return
	}
	observability.SetOpenOrders(open)
}

func statusForAge(elapsed time.Duration) string {
	current := statusLadder[0].status
	for _, stage := range statusLadder {
		if elapsed >= stage.after {
			current = stage.status
		}
	}
	return current
}

func ladderIndex(status string) int {
	for i, stage := range statusLadder {
		if stage.status == status {
			return i
		}
	}
	return -1
}
