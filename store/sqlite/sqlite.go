/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists purchase requests, purchase orders, supplier invoices and the
  control results attached to them. In production the same patterns apply to
  PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  reconcile.DocumentStore: orders, invoices, control records
  (plus purchase request CRUD used by the API directly)

KEY TABLES:
  purchase_requests:     Demandes d'achat (integer IDs)
  purchase_orders:       Orders, one row per order
  purchase_order_lines:  Ordered quantity and unit price per line
  invoices:              Supplier invoices with their control status
  invoice_lines:         Invoiced quantity and unit price per line
  control_results:       One row per control run, full result as JSON
  control_variances:     Flattened variances, for reporting queries

MONEY:
  Every quantity, price and percentage is stored as TEXT holding the
  decimal.Decimal string form. Nothing goes through REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SaveControl writes the result, its
  variances and the invoice status in one SQL transaction.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.
  ":memory:" databases are pinned to a single connection so that every
  query sees the same database.

USAGE:
  store, err := sqlite.New("./data/invoice-control.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ctl := reconcile.NewController(store, evaluator, uuid.NewString)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - reconcile/store.go: DocumentStore contract
  - reconcile/store/memory.go: In-memory implementation for tests and the CLI
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/invoice-control/purchasing"
	"github.com/warp/invoice-control/reconcile"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ reconcile.DocumentStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Purchase requests
	CREATE TABLE IF NOT EXISTS purchase_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agency TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		requester_id INTEGER NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		estimated_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		needed_by TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchase_requests_status
		ON purchase_requests(status);
	CREATE INDEX IF NOT EXISTS idx_purchase_requests_agency
		ON purchase_requests(agency);

	-- Purchase orders
	CREATE TABLE IF NOT EXISTS purchase_orders (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		supplier_name TEXT NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS purchase_order_lines (
		order_id TEXT NOT NULL REFERENCES purchase_orders(id) ON DELETE CASCADE,
		line_number INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		ordered_quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		PRIMARY KEY (order_id, line_number)
	);

	-- Invoices
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		supplier_name TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		issue_date TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_status
		ON invoices(status);
	CREATE INDEX IF NOT EXISTS idx_invoices_order
		ON invoices(order_id);

	CREATE TABLE IF NOT EXISTS invoice_lines (
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		line_number INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		invoiced_quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		PRIMARY KEY (invoice_id, line_number)
	);

	-- Control results
	CREATE TABLE IF NOT EXISTS control_results (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		order_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		compliant INTEGER NOT NULL,
		compliance_score TEXT NOT NULL,
		result_json TEXT NOT NULL,
		controlled_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_control_results_invoice
		ON control_results(invoice_id, seq DESC);

	CREATE TABLE IF NOT EXISTS control_variances (
		control_id TEXT NOT NULL REFERENCES control_results(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		line_number INTEGER,
		expected TEXT NOT NULL,
		observed TEXT NOT NULL,
		delta TEXT NOT NULL,
		delta_percent TEXT,
		severity TEXT NOT NULL,
		recommended_action TEXT NOT NULL,
		PRIMARY KEY (control_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_control_variances_severity
		ON control_variances(severity);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// PURCHASE REQUEST STORE
// =============================================================================

const purchaseRequestColumns = `id, agency, type, title, description, requester_id, priority, status,
	estimated_amount, currency, needed_by, comment, created_at, updated_at`

// CreatePurchaseRequest inserts a request and returns its new ID.
func (s *Store) CreatePurchaseRequest(ctx context.Context, pr purchasing.PurchaseRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO purchase_requests (agency, type, title, description, requester_id, priority, status,
			estimated_amount, currency, needed_by, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		pr.Agency, pr.Type, pr.Title, pr.Description, pr.RequesterID, pr.Priority, pr.Status,
		pr.EstimatedAmount.String(), pr.Currency, pr.NeededBy, pr.Comment,
		formatTime(pr.CreatedAt), formatTime(pr.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert purchase request: %w", err)
	}
	return res.LastInsertId()
}

// UpdatePurchaseRequest overwrites a stored request.
func (s *Store) UpdatePurchaseRequest(ctx context.Context, pr purchasing.PurchaseRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE purchase_requests SET
			agency = ?, type = ?, title = ?, description = ?, priority = ?, status = ?,
			estimated_amount = ?, currency = ?, needed_by = ?, comment = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		pr.Agency, pr.Type, pr.Title, pr.Description, pr.Priority, pr.Status,
		pr.EstimatedAmount.String(), pr.Currency, pr.NeededBy, pr.Comment,
		formatTime(pr.UpdatedAt), pr.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update purchase request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &reconcile.NotFoundError{Resource: "purchase request", ID: fmt.Sprint(pr.ID)}
	}
	return nil
}

// GetPurchaseRequest retrieves a request by ID.
func (s *Store) GetPurchaseRequest(ctx context.Context, id int64) (*purchasing.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+purchaseRequestColumns+" FROM purchase_requests WHERE id = ?", id)
	pr, err := scanPurchaseRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &reconcile.NotFoundError{Resource: "purchase request", ID: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// ListPurchaseRequests returns one page of requests matching the query,
// newest first, and the total number of matches.
func (s *Store) ListPurchaseRequests(ctx context.Context, q purchasing.ListQuery) ([]purchasing.PurchaseRequest, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if q.Agency != "" {
		where = append(where, "agency = ?")
		args = append(args, q.Agency)
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM purchase_requests"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count purchase requests: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = purchasing.DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+purchaseRequestColumns+" FROM purchase_requests"+clause+" ORDER BY id DESC LIMIT ? OFFSET ?",
		append(args, limit, q.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query purchase requests: %w", err)
	}
	defer rows.Close()

	var out []purchasing.PurchaseRequest
	for rows.Next() {
		pr, err := scanPurchaseRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, pr)
	}
	return out, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchaseRequest(row rowScanner) (purchasing.PurchaseRequest, error) {
	var pr purchasing.PurchaseRequest
	var amount, createdAt, updatedAt string
	err := row.Scan(
		&pr.ID, &pr.Agency, &pr.Type, &pr.Title, &pr.Description, &pr.RequesterID,
		&pr.Priority, &pr.Status, &amount, &pr.Currency, &pr.NeededBy, &pr.Comment,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return pr, err
	}
	if pr.EstimatedAmount, err = parseDecimal(amount); err != nil {
		return pr, err
	}
	pr.CreatedAt = parseTime(createdAt)
	pr.UpdatedAt = parseTime(updatedAt)
	return pr, nil
}

// =============================================================================
// PURCHASE ORDER STORE
// =============================================================================

// SavePurchaseOrder inserts an order and its lines.
func (s *Store) SavePurchaseOrder(ctx context.Context, po reconcile.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertPurchaseOrder(ctx, tx, po); err != nil {
		return err
	}
	return tx.Commit()
}

// SavePurchaseOrderForRequest inserts an order and moves its approved request
// to ordered, in one transaction. Returns ErrInvalidTransition, and stores
// nothing, when the request is no longer approved.
func (s *Store) SavePurchaseOrderForRequest(ctx context.Context, po reconcile.PurchaseOrder, requestID int64, orderedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE purchase_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		purchasing.StatusOrdered, formatTime(orderedAt), requestID, purchasing.StatusApproved,
	)
	if err != nil {
		return fmt.Errorf("failed to mark purchase request ordered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status purchasing.Status
		err := tx.QueryRowContext(ctx, "SELECT status FROM purchase_requests WHERE id = ?", requestID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return &reconcile.NotFoundError{Resource: "purchase request", ID: fmt.Sprint(requestID)}
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: purchase request %d is %s", reconcile.ErrInvalidTransition, requestID, status)
	}

	if err := insertPurchaseOrder(ctx, tx, po); err != nil {
		return err
	}
	return tx.Commit()
}

func insertPurchaseOrder(ctx context.Context, tx *sql.Tx, po reconcile.PurchaseOrder) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, number, supplier_name, request_id, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		po.ID, po.Number, po.SupplierName, po.RequestID, po.Currency, formatTime(po.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("purchase order %s: %w", po.ID, reconcile.ErrConflict)
		}
		return fmt.Errorf("failed to insert purchase order: %w", err)
	}

	for _, l := range po.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order_lines (order_id, line_number, description, ordered_quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)`,
			po.ID, l.LineNumber, l.Description, l.OrderedQuantity.String(), l.UnitPrice.String(),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &reconcile.InvalidInputError{Document: "reference", LineNumber: l.LineNumber, Reason: "duplicate line number"}
			}
			return fmt.Errorf("failed to insert purchase order line: %w", err)
		}
	}
	return nil
}

// GetPurchaseOrder retrieves an order with its lines.
func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (*reconcile.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var po reconcile.PurchaseOrder
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, number, supplier_name, request_id, currency, created_at FROM purchase_orders WHERE id = ?",
		id,
	).Scan(&po.ID, &po.Number, &po.SupplierName, &po.RequestID, &po.Currency, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &reconcile.NotFoundError{Resource: "purchase order", ID: id}
	}
	if err != nil {
		return nil, err
	}
	po.CreatedAt = parseTime(createdAt)

	if po.Lines, err = s.orderLines(ctx, id); err != nil {
		return nil, err
	}
	return &po, nil
}

// ListPurchaseOrders returns every order with its lines, oldest first.
func (s *Store) ListPurchaseOrders(ctx context.Context) ([]reconcile.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, number, supplier_name, request_id, currency, created_at FROM purchase_orders ORDER BY created_at, id",
	)
	if err != nil {
		return nil, err
	}

	var orders []reconcile.PurchaseOrder
	for rows.Next() {
		var po reconcile.PurchaseOrder
		var createdAt string
		if err := rows.Scan(&po.ID, &po.Number, &po.SupplierName, &po.RequestID, &po.Currency, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		po.CreatedAt = parseTime(createdAt)
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range orders {
		if orders[i].Lines, err = s.orderLines(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) orderLines(ctx context.Context, orderID string) ([]reconcile.ReferenceLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT line_number, description, ordered_quantity, unit_price
		FROM purchase_order_lines WHERE order_id = ? ORDER BY line_number`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	var lines []reconcile.ReferenceLine
	for rows.Next() {
		var l reconcile.ReferenceLine
		var qty, price string
		if err := rows.Scan(&l.LineNumber, &l.Description, &qty, &price); err != nil {
			return nil, err
		}
		if l.OrderedQuantity, err = parseDecimal(qty); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// INVOICE STORE
// =============================================================================

// SaveInvoice inserts an invoice and its lines. An empty status defaults to
// received.
func (s *Store) SaveInvoice(ctx context.Context, inv reconcile.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.Status == "" {
		inv.Status = reconcile.InvoiceReceived
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	issueDate := ""
	if !inv.IssueDate.IsZero() {
		issueDate = inv.IssueDate.Format(purchasing.DateLayout)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, number, supplier_name, order_id, currency, issue_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Number, inv.SupplierName, inv.OrderID, inv.Currency, issueDate, inv.Status, formatTime(inv.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("invoice %s: %w", inv.ID, reconcile.ErrConflict)
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	for _, l := range inv.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_lines (invoice_id, line_number, description, invoiced_quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)`,
			inv.ID, l.LineNumber, l.Description, l.InvoicedQuantity.String(), l.UnitPrice.String(),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &reconcile.InvalidInputError{Document: "candidate", LineNumber: l.LineNumber, Reason: "duplicate line number"}
			}
			return fmt.Errorf("failed to insert invoice line: %w", err)
		}
	}
	return tx.Commit()
}

const invoiceColumns = "id, number, supplier_name, order_id, currency, issue_date, status, created_at"

// GetInvoice retrieves an invoice with its lines.
func (s *Store) GetInvoice(ctx context.Context, id string) (*reconcile.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, err := scanInvoice(s.db.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &reconcile.NotFoundError{Resource: "invoice", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if inv.Lines, err = s.invoiceLines(ctx, id); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInvoices returns invoices with the given status, or all when status is "",
// oldest first.
func (s *Store) ListInvoices(ctx context.Context, status reconcile.InvoiceStatus) ([]reconcile.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + invoiceColumns + " FROM invoices"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}

	var invoices []reconcile.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range invoices {
		if invoices[i].Lines, err = s.invoiceLines(ctx, invoices[i].ID); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

func scanInvoice(row rowScanner) (reconcile.Invoice, error) {
	var inv reconcile.Invoice
	var issueDate, createdAt string
	if err := row.Scan(&inv.ID, &inv.Number, &inv.SupplierName, &inv.OrderID, &inv.Currency,
		&issueDate, &inv.Status, &createdAt); err != nil {
		return inv, err
	}
	if issueDate != "" {
		d, err := time.Parse(purchasing.DateLayout, issueDate)
		if err != nil {
			return inv, fmt.Errorf("corrupt issue date %q: %w", issueDate, err)
		}
		inv.IssueDate = d
	}
	inv.CreatedAt = parseTime(createdAt)
	return inv, nil
}

func (s *Store) invoiceLines(ctx context.Context, invoiceID string) ([]reconcile.CandidateLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT line_number, description, invoiced_quantity, unit_price
		FROM invoice_lines WHERE invoice_id = ? ORDER BY line_number`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice lines: %w", err)
	}
	defer rows.Close()

	var lines []reconcile.CandidateLine
	for rows.Next() {
		var l reconcile.CandidateLine
		var qty, price string
		if err := rows.Scan(&l.LineNumber, &l.Description, &qty, &price); err != nil {
			return nil, err
		}
		if l.InvoicedQuantity, err = parseDecimal(qty); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// CONTROL STORE
// =============================================================================

// SaveControl stores a control record with its variances and moves the
// invoice to the record's status, atomically.
func (s *Store) SaveControl(ctx context.Context, rec reconcile.ControlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to encode control result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE invoices SET status = ? WHERE id = ?", rec.Result.Status, rec.InvoiceID)
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &reconcile.NotFoundError{Resource: "invoice", ID: rec.InvoiceID}
	}

	score, compliant := "0", false
	var variances []reconcile.Variance
	if r := rec.Result.OrderInvoice; r != nil {
		score, compliant, variances = r.ComplianceScore.String(), r.Compliant, r.Variances
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO control_results (id, invoice_id, order_id, decision, compliant, compliance_score, result_json, controlled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.InvoiceID, rec.OrderID, rec.Result.Decision, compliant, score,
		string(resultJSON), formatTime(rec.Result.ControlledAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("control %s: %w", rec.ID, reconcile.ErrConflict)
		}
		return fmt.Errorf("failed to insert control result: %w", err)
	}

	for i, v := range variances {
		if err := insertVariance(ctx, tx, rec.ID, i, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertVariance(ctx context.Context, db execer, controlID string, pos int, v reconcile.Variance) error {
	var line sql.NullInt64
	if v.LineNumber != nil {
		line = sql.NullInt64{Int64: int64(*v.LineNumber), Valid: true}
	}
	var pct sql.NullString
	if v.DeltaPercent != nil {
		pct = sql.NullString{String: v.DeltaPercent.String(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO control_variances (control_id, position, kind, line_number, expected, observed,
			delta, delta_percent, severity, recommended_action)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		controlID, pos, v.Kind, line, v.Expected.String(), v.Observed.String(),
		v.Delta.String(), pct, v.Severity, v.RecommendedAction,
	)
	if err != nil {
		return fmt.Errorf("failed to insert variance: %w", err)
	}
	return nil
}

// GetLatestControl returns the most recent control of an invoice.
func (s *Store) GetLatestControl(ctx context.Context, invoiceID string) (*reconcile.ControlRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec reconcile.ControlRecord
	var resultJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_id, order_id, result_json FROM control_results
		WHERE invoice_id = ? ORDER BY seq DESC LIMIT 1`, invoiceID,
	).Scan(&rec.ID, &rec.InvoiceID, &rec.OrderID, &resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &reconcile.NotFoundError{Resource: "control", ID: invoiceID}
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, fmt.Errorf("failed to decode control result: %w", err)
	}
	return &rec, nil
}

// =============================================================================
// STATISTICS
// =============================================================================

// Stats summarises the control activity.
type Stats struct {
	InvoicesByStatus    map[reconcile.InvoiceStatus]int `json:"invoices_by_status"`
	VariancesBySeverity map[reconcile.Severity]int      `json:"variances_by_severity"`
	Controls            int                             `json:"controls"`
}

// Stats counts invoices per status, and variances per severity over the
// latest control of each invoice.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{
		InvoicesByStatus:    map[reconcile.InvoiceStatus]int{},
		VariancesBySeverity: map[reconcile.Severity]int{},
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM invoices GROUP BY status")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status reconcile.InvoiceStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.InvoicesByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT v.severity, COUNT(*) FROM control_variances v
		JOIN control_results c ON c.id = v.control_id
		WHERE c.seq = (SELECT MAX(seq) FROM control_results WHERE invoice_id = c.invoice_id)
		GROUP BY v.severity`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var sev reconcile.Severity
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.VariancesBySeverity[sev] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM control_results").Scan(&st.Controls); err != nil {
		return nil, err
	}
	return st, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"control_variances", "control_results", "invoice_lines", "invoices",
		"purchase_order_lines", "purchase_orders", "purchase_requests",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	// Restart request numbering.
	_, err := s.db.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = 'purchase_requests'")
	return err
}

// Helper functions

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt decimal %q: %w", s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
