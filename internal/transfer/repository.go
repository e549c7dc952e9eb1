package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stocksync/internal/platform/db"
)

// Repository persists transfers, their lines and their log in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const transferColumns = `id::text, COALESCE(token, ''), origin_code, destination_code, status,
COALESCE(erp_picking_id, 0), COALESCE(erp_picking_name, ''), COALESCE(erp_state, ''),
COALESCE(shop_transfer_gid, ''), owner, COALESCE(note, ''), created_at, updated_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	var status string
	err := row.Scan(&t.ID, &t.Token, &t.OriginCode, &t.DestinationCode, &status,
		&t.ERPPickingID, &t.ERPPickingName, &t.ERPState,
		&t.ShopTransferGID, &t.Owner, &t.Note, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrTransferNotFound
		}
		return Transfer{}, err
	}
	t.Status = Status(status)
	return t, nil
}

// Create inserts a transfer and its lines in one transaction.
func (r *Repository) Create(ctx context.Context, t Transfer) (Transfer, error) {
	var created Transfer
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO transfers (id, token, origin_code, destination_code, status, owner, note, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), NOW(), NOW())
RETURNING `+transferColumns, t.ID, t.Token, t.OriginCode, t.DestinationCode, string(t.Status), t.Owner, t.Note)
		var err error
		created, err = scanTransfer(row)
		if err != nil {
			return err
		}
		if err := insertLines(ctx, tx, created.ID, t.Lines); err != nil {
			return err
		}
		created.Lines = t.Lines
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Transfer{}, ErrDuplicateToken
		}
		return Transfer{}, fmt.Errorf("create transfer: %w", err)
	}
	return created, nil
}

func insertLines(ctx context.Context, tx pgx.Tx, transferID string, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, line := range lines {
		batch.Queue(`INSERT INTO transfer_lines (transfer_id, position, sku, scanned_code, qty, box_code)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`, transferID, i+1, line.SKU, line.ScannedCode, line.Qty, line.BoxCode)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// Get loads a transfer with its lines.
func (r *Repository) Get(ctx context.Context, id string) (Transfer, error) {
	return r.getWhere(ctx, `id::text = $1`, id)
}

// GetByToken loads the transfer created with a client token.
func (r *Repository) GetByToken(ctx context.Context, token string) (Transfer, error) {
	return r.getWhere(ctx, `token = $1`, token)
}

// GetByShopTransferGID loads the transfer mirrored by a platform transfer.
func (r *Repository) GetByShopTransferGID(ctx context.Context, gid string) (Transfer, error) {
	return r.getWhere(ctx, `shop_transfer_gid = $1`, gid)
}

func (r *Repository) getWhere(ctx context.Context, predicate string, arg any) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE `+predicate+` LIMIT 1`, arg))
	if err != nil {
		return Transfer{}, err
	}
	lines, err := r.lines(ctx, t.ID)
	if err != nil {
		return Transfer{}, err
	}
	t.Lines = lines
	return t, nil
}

func (r *Repository) lines(ctx context.Context, transferID string) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT sku, scanned_code, qty, COALESCE(box_code, '')
FROM transfer_lines WHERE transfer_id::text = $1 ORDER BY position`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.SKU, &line.ScannedCode, &line.Qty, &line.BoxCode); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// List returns one page of transfers, newest first, and the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args := []any{string(filter.Status), filter.Origin, filter.Destination}
	where := `($1 = '' OR status = $1) AND ($2 = '' OR origin_code = $2) AND ($3 = '' OR destination_code = $3)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM transfers WHERE `+where+`
ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5`, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	transfers := []Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		transfers = append(transfers, t)
	}
	return transfers, total, rows.Err()
}

// ReplaceLines swaps the lines of a draft transfer.
func (r *Repository) ReplaceLines(ctx context.Context, id string, lines []Line) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM transfers WHERE id::text = $1 FOR UPDATE`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTransferNotFound
			}
			return err
		}
		if Status(status) != StatusDraft {
			return ErrLinesLocked
		}
		if _, err := tx.Exec(ctx, `DELETE FROM transfer_lines WHERE transfer_id::text = $1`, id); err != nil {
			return err
		}
		if err := insertLines(ctx, tx, id, lines); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE transfers SET updated_at = NOW() WHERE id::text = $1`, id)
		return err
	})
}

// Transition moves a transfer to status when its current status allows it. The
// check and the write are one statement, so concurrent callers cannot both win.
func (r *Repository) Transition(ctx context.Context, id string, to Status, ref *ERPReference) (Transfer, error) {
	allowed := AllowedFrom(to)
	from := make([]string, 0, len(allowed))
	for _, s := range allowed {
		from = append(from, string(s))
	}
	var pickingID *int64
	var pickingName, state *string
	if ref != nil {
		pickingID, pickingName, state = &ref.PickingID, &ref.PickingName, &ref.State
	}
	t, err := scanTransfer(r.pool.QueryRow(ctx, `UPDATE transfers SET status = $2,
erp_picking_id = COALESCE($4, erp_picking_id),
erp_picking_name = COALESCE($5, erp_picking_name),
erp_state = COALESCE($6, erp_state),
updated_at = NOW()
WHERE id::text = $1 AND status = ANY($3::text[])
RETURNING `+transferColumns, id, string(to), from, pickingID, pickingName, state))
	if errors.Is(err, ErrTransferNotFound) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return Transfer{}, getErr
		}
		return Transfer{}, ErrInvalidTransition
	}
	if err != nil {
		return Transfer{}, err
	}
	lines, err := r.lines(ctx, t.ID)
	if err != nil {
		return Transfer{}, err
	}
	t.Lines = lines
	return t, nil
}

// SetShopTransferGID stores the platform transfer mirroring id.
func (r *Repository) SetShopTransferGID(ctx context.Context, id, gid string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transfers SET shop_transfer_gid = $2, updated_at = NOW() WHERE id::text = $1`, id, gid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// AppendLog writes one log entry.
func (r *Repository) AppendLog(ctx context.Context, entry LogEntry) error {
	payload := []byte("{}")
	if len(entry.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(entry.Payload); err != nil {
			return fmt.Errorf("encode log payload: %w", err)
		}
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO transfer_logs (transfer_id, event, level, step, message, payload, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NOW())`, entry.TransferID, entry.Event, string(entry.Level), entry.Step, entry.Message, payload)
	return err
}

// Logs returns the log of a transfer in insertion order.
func (r *Repository) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, transfer_id::text, event, level, COALESCE(step, ''), message, payload, created_at
FROM transfer_logs WHERE transfer_id::text = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LogEntry{}
	for rows.Next() {
		var entry LogEntry
		var level string
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.TransferID, &entry.Event, &level, &entry.Step, &entry.Message, &payload, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Level = LogLevel(level)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &entry.Payload); err != nil {
				return nil, fmt.Errorf("decode log payload: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// HasEvent reports whether the log of id holds event.
func (r *Repository) HasEvent(ctx context.Context, id, event string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transfer_logs WHERE transfer_id::text = $1 AND event = $2)`, id, event).Scan(&exists)
	return exists, err
}
