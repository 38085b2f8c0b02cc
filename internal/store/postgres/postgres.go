package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/fifo"
	"stokku/backend/internal/store"
	"stokku/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, initialStock int) (*domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	product.Category = strings.TrimSpace(product.Category)
	if product.Name == "" || product.Category == "" {
		return nil, store.ErrValidation
	}
	if product.CostPrice.IsNegative() || initialStock < 0 {
		return nil, store.ErrValidation
	}
	for i := range product.Units {
		product.Units[i].UnitType = strings.ToLower(strings.TrimSpace(product.Units[i].UnitType))
		if product.Units[i].UnitType == "" || product.Units[i].SellingPrice.IsNegative() {
			return nil, store.ErrValidation
		}
	}

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.TotalQuantity = initialStock

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, category, cost_price, total_quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
	`, product.ID, product.Name, product.Category, decText(product.CostPrice), product.TotalQuantity, now)
	if err != nil {
		return nil, err
	}

	for _, unit := range product.Units {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO unit_measurements (product_id, unit_type, selling_price)
			VALUES ($1,$2,$3)
		`, product.ID, unit.UnitType, decText(unit.SellingPrice))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrValidation
			}
			return nil, err
		}
	}

	if initialStock > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO product_batches (id, product_id, quantity, cost_price, added_on)
			VALUES ($1,$2,$3,$4,$5)
		`, xid.New("bat"), product.ID, initialStock, decText(product.CostPrice), now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var (
		product   domain.Product
		costPrice string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, cost_price::text, total_quantity, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Category, &costPrice, &product.TotalQuantity, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if product.CostPrice, err = decimal.NewFromString(costPrice); err != nil {
		return nil, err
	}
	if product.Units, err = s.listUnits(ctx, product.ID); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, cost_price::text, total_quantity, created_at, updated_at
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var (
			p         domain.Product
			costPrice string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &costPrice, &p.TotalQuantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.CostPrice, err = decimal.NewFromString(costPrice); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range products {
		if products[i].Units, err = s.listUnits(ctx, products[i].ID); err != nil {
			return nil, err
		}
	}

	return products, nil
}

func (s *Store) listUnits(ctx context.Context, productID string) ([]domain.UnitMeasurement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_type, selling_price::text
		FROM unit_measurements
		WHERE product_id = $1
		ORDER BY unit_type
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make([]domain.UnitMeasurement, 0, 4)
	for rows.Next() {
		var (
			unit  domain.UnitMeasurement
			price string
		)
		if err := rows.Scan(&unit.UnitType, &price); err != nil {
			return nil, err
		}
		if unit.SellingPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

func (s *Store) AddBatch(ctx context.Context, productID string, quantity int, costPrice decimal.Decimal) (*domain.Batch, error) {
	if quantity < 1 || costPrice.IsNegative() {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT true FROM products WHERE id = $1 FOR UPDATE
	`, productID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	batch := domain.Batch{
		ID:        xid.New("bat"),
		ProductID: productID,
		Quantity:  quantity,
		CostPrice: costPrice,
		AddedOn:   time.Now().UTC(),
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO product_batches (id, product_id, quantity, cost_price, added_on)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING seq
	`, batch.ID, batch.ProductID, batch.Quantity, decText(batch.CostPrice), batch.AddedOn).Scan(&batch.Seq)
	if err != nil {
		return nil, err
	}

	if err := syncTotalQuantity(ctx, tx, productID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := batch
	return &created, nil
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT true FROM products WHERE id = $1
	`, productID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, seq, quantity, cost_price::text, added_on
		FROM product_batches
		WHERE product_id = $1
		ORDER BY added_on ASC, seq ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBatches(rows)
}

// Sell runs one serializable transaction across every line. Per line it
// locks the product row and its batch rows, plans an oldest-first
// depletion, applies the plan, and resyncs the total_quantity projection.
// Any failing line rolls the whole sale back.
func (s *Store) Sell(ctx context.Context, items []domain.SellItem) (*domain.SaleSummary, error) {
	if len(items) == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	summary := domain.SaleSummary{
		ID:           xid.New("sale"),
		SoldAt:       now,
		TotalRevenue: decimal.Zero,
		TotalCost:    decimal.Zero,
		TotalProfit:  decimal.Zero,
	}

	for i, item := range items {
		if item.Quantity < 1 || item.SellingPrice.IsNegative() {
			return nil, &store.LineError{Index: i, ProductID: item.ProductID, Err: store.ErrValidation}
		}

		var productName string
		err = tx.QueryRowContext(ctx, `
			SELECT name FROM products WHERE id = $1 FOR UPDATE
		`, item.ProductID).Scan(&productName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, &store.LineError{Index: i, ProductID: item.ProductID, Err: store.ErrNotFound}
			}
			return nil, err
		}

		var unitOK bool
		err = tx.QueryRowContext(ctx, `
			SELECT true FROM unit_measurements WHERE product_id = $1 AND unit_type = $2
		`, item.ProductID, item.UnitType).Scan(&unitOK)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, &store.LineError{Index: i, ProductID: item.ProductID, Err: store.ErrInvalidUnit}
			}
			return nil, err
		}

		batchRows, err := tx.QueryContext(ctx, `
			SELECT id, product_id, seq, quantity, cost_price::text, added_on
			FROM product_batches
			WHERE product_id = $1
			ORDER BY added_on ASC, seq ASC
			FOR UPDATE
		`, item.ProductID)
		if err != nil {
			return nil, err
		}
		batches, err := scanBatches(batchRows)
		if err != nil {
			return nil, err
		}

		plan := fifo.Deplete(batches, item.Quantity)
		if plan.UnitsSold == 0 {
			return nil, &store.LineError{Index: i, ProductID: item.ProductID, Err: store.ErrInsufficientStock}
		}
		for _, c := range plan.Consumptions {
			if c.Depleted {
				_, err = tx.ExecContext(ctx, `DELETE FROM product_batches WHERE id = $1`, c.BatchID)
			} else {
				_, err = tx.ExecContext(ctx, `
					UPDATE product_batches SET quantity = quantity - $1 WHERE id = $2
				`, c.Units, c.BatchID)
			}
			if err != nil {
				return nil, err
			}
		}
		if err := syncTotalQuantity(ctx, tx, item.ProductID); err != nil {
			return nil, err
		}

		revenue := item.SellingPrice.Mul(decimal.NewFromInt(int64(plan.UnitsSold)))
		line := domain.SaleLine{
			ProductID:   item.ProductID,
			ProductName: productName,
			UnitType:    item.UnitType,
			Requested:   item.Quantity,
			UnitsSold:   plan.UnitsSold,
			Shortfall:   plan.Shortfall,
			Revenue:     revenue,
			Cost:        plan.Cost,
			Profit:      revenue.Sub(plan.Cost),
		}
		summary.Lines = append(summary.Lines, line)
		summary.TotalRevenue = summary.TotalRevenue.Add(line.Revenue)
		summary.TotalCost = summary.TotalCost.Add(line.Cost)
		summary.TotalProfit = summary.TotalProfit.Add(line.Profit)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sales_records (id, sale_id, product_id, product_name, unit_type, quantity, revenue, cost, profit, sold_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, xid.New("rec"), summary.ID, item.ProductID, productName, item.UnitType,
			plan.UnitsSold, decText(line.Revenue), decText(line.Cost), decText(line.Profit), now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &summary, nil
}

func (s *Store) ListSalesRecords(ctx context.Context, limit int) ([]domain.SalesRecord, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, unit_type, quantity,
			revenue::text, cost::text, profit::text, sold_at
		FROM sales_records
		ORDER BY sold_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.SalesRecord, 0, limit)
	for rows.Next() {
		var (
			rec                   domain.SalesRecord
			revenue, cost, profit string
		)
		if err := rows.Scan(&rec.ID, &rec.SaleID, &rec.ProductID, &rec.ProductName, &rec.UnitType,
			&rec.Quantity, &revenue, &cost, &profit, &rec.SoldAt); err != nil {
			return nil, err
		}
		if rec.Revenue, err = decimal.NewFromString(revenue); err != nil {
			return nil, err
		}
		if rec.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		if rec.Profit, err = decimal.NewFromString(profit); err != nil {
			return nil, err
		}
		rec.SoldAt = rec.SoldAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleClerk
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// syncTotalQuantity recomputes the total_quantity projection from the
// surviving batches. Called inside the same transaction as every batch
// mutation so the projection is never stale.
func syncTotalQuantity(ctx context.Context, tx *sql.Tx, productID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE products
		SET total_quantity = (
			SELECT COALESCE(SUM(quantity), 0) FROM product_batches WHERE product_id = $1
		), updated_at = now()
		WHERE id = $1
	`, productID)
	return err
}

func scanBatches(rows *sql.Rows) ([]domain.Batch, error) {
	defer rows.Close()

	batches := make([]domain.Batch, 0, 8)
	for rows.Next() {
		var (
			b         domain.Batch
			costPrice string
			err       error
		)
		if err = rows.Scan(&b.ID, &b.ProductID, &b.Seq, &b.Quantity, &costPrice, &b.AddedOn); err != nil {
			return nil, err
		}
		if b.CostPrice, err = decimal.NewFromString(costPrice); err != nil {
			return nil, err
		}
		b.AddedOn = b.AddedOn.UTC()
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func decText(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
