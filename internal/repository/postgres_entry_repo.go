package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/kitbridge/internal/model"
)

// PostgresEntryRepo はPostgreSQLを使用したエントリリポジトリ。
type PostgresEntryRepo struct {
	db *sql.DB
}

var _ EntryRepository = (*PostgresEntryRepo)(nil)

// NewPostgresEntryRepo はPostgresEntryRepoを生成する。
func NewPostgresEntryRepo(db *sql.DB) *PostgresEntryRepo {
	return &PostgresEntryRepo{db: db}
}

// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
func (r *PostgresEntryRepo) FindByID(ctx context.Context, id string) (*model.Entry, error) {
	entry := &model.Entry{}
	var values []byte
	var sourceURL, ip sql.NullString
	var payment string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, form_id, field_values, source_url, ip, payment_status, created_at
		 FROM entries WHERE id = $1`,
		id,
	).Scan(&entry.ID, &entry.FormID, &values, &sourceURL, &ip, &payment, &entry.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("エントリの取得に失敗しました: %w", err)
	}

	entry.Values = map[string]string{}
	if len(values) > 0 {
		if err := json.Unmarshal(values, &entry.Values); err != nil {
			return nil, fmt.Errorf("エントリ値のデコードに失敗しました: %w", err)
		}
	}
	entry.SourceURL = nullStringValue(sourceURL)
	entry.IP = nullStringValue(ip)
	entry.PaymentStatus = model.PaymentStatus(payment)

	return entry, nil
}

// Create はエントリを作成する。
func (r *PostgresEntryRepo) Create(ctx context.Context, entry *model.Entry) error {
	values := entry.Values
	if values == nil {
		values = map[string]string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("エントリ値のエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO entries (id, form_id, field_values, source_url, ip, payment_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.FormID, raw,
		nullString(entry.SourceURL), nullString(entry.IP),
		string(entry.PaymentStatus), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("エントリの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdatePaymentStatus はエントリの支払い状態を更新する。
func (r *PostgresEntryRepo) UpdatePaymentStatus(ctx context.Context, id string, status model.PaymentStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET payment_status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return false, fmt.Errorf("支払い状態の更新に失敗しました: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("支払い状態の更新件数の取得に失敗しました: %w", err)
	}
	return ok, nil
}

// PostgresNoteRepo はPostgreSQLを使用したエントリノートリポジトリ。
type PostgresNoteRepo struct {
	db *sql.DB
}

var _ NoteRepository = (*PostgresNoteRepo)(nil)

// NewPostgresNoteRepo はPostgresNoteRepoを生成する。
func NewPostgresNoteRepo(db *sql.DB) *PostgresNoteRepo {
	return &PostgresNoteRepo{db: db}
}

// Add はノートを追記する。
func (r *PostgresNoteRepo) Add(ctx context.Context, note *model.Note) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entry_notes (id, entry_id, note_type, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		note.ID, note.EntryID, string(note.Type), note.Body, note.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ノートの追加に失敗しました: %w", err)
	}
	return nil
}

// ListByEntryID はエントリのノートを記録順に返す。
func (r *PostgresNoteRepo) ListByEntryID(ctx context.Context, entryID string) ([]*model.Note, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entry_id, note_type, body, created_at
		 FROM entry_notes WHERE entry_id = $1
		 ORDER BY created_at ASC, id ASC`,
		entryID,
	)
	if err != nil {
		return nil, fmt.Errorf("ノート一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	notes := []*model.Note{}
	for rows.Next() {
		n := &model.Note{}
		var noteType string
		if err := rows.Scan(&n.ID, &n.EntryID, &noteType, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("ノートの読み取りに失敗しました: %w", err)
		}
		n.Type = model.NoteType(noteType)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ノート一覧の走査に失敗しました: %w", err)
	}
	return notes, nil
}
