package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/kitbridge/internal/model"
)

// newMock はsqlmockのDBを生成し、テスト終了時に期待の消化を検証する。
func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New がエラーを返した: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("満たされていない期待があります: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestPostgresFormRepo_FindByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresFormRepo(db)

	mock.ExpectQuery(q("SELECT id, title, fields FROM forms WHERE id = $1")).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "fields"}).
			AddRow("7", "Newsletter", []byte(`[{"id":"3","label":"Email","type":"email"}]`)))

	form, err := repo.FindByID(context.Background(), "7")
	if err != nil {
		t.Fatalf("FindByID がエラーを返した: %v", err)
	}
	if form == nil || form.Title != "Newsletter" {
		t.Fatalf("form = %+v", form)
	}
	if len(form.Fields) != 1 || form.Fields[0].Type != "email" {
		t.Errorf("Fields = %+v", form.Fields)
	}
}

func TestPostgresFormRepo_FindByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresFormRepo(db)

	mock.ExpectQuery(q("FROM forms WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	form, err := repo.FindByID(context.Background(), "missing")
	if err != nil || form != nil {
		t.Errorf("FindByID = (%v, %v), want (nil, nil)", form, err)
	}
}

func TestPostgresFormRepo_Upsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresFormRepo(db)

	mock.ExpectExec(q("INSERT INTO forms")).
		WithArgs("7", "Newsletter", []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Upsert(context.Background(), &model.Form{ID: "7", Title: "Newsletter"}); err != nil {
		t.Fatalf("Upsert がエラーを返した: %v", err)
	}
}

func TestPostgresEntryRepo_FindByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresEntryRepo(db)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("FROM entries WHERE id = $1")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "form_id", "field_values", "source_url", "ip", "payment_status", "created_at"}).
			AddRow("e1", "7", []byte(`{"3":"a@example.com"}`), nil, "192.0.2.1", "pending", created))

	entry, err := repo.FindByID(context.Background(), "e1")
	if err != nil {
		t.Fatalf("FindByID がエラーを返した: %v", err)
	}
	if entry.Values["3"] != "a@example.com" {
		t.Errorf("Values = %v", entry.Values)
	}
	if entry.SourceURL != "" || entry.IP != "192.0.2.1" {
		t.Errorf("SourceURL=%q IP=%q", entry.SourceURL, entry.IP)
	}
	if entry.PaymentStatus != model.PaymentStatusPending {
		t.Errorf("PaymentStatus = %q", entry.PaymentStatus)
	}
}

func TestPostgresEntryRepo_UpdatePaymentStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresEntryRepo(db)

	mock.ExpectExec(q("UPDATE entries SET payment_status = $2 WHERE id = $1")).
		WithArgs("e1", "paid").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE entries SET payment_status")).
		WithArgs("missing", "paid").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdatePaymentStatus(context.Background(), "e1", model.PaymentStatusPaid)
	if err != nil || !ok {
		t.Errorf("UpdatePaymentStatus(e1) = (%v, %v)", ok, err)
	}
	ok, err = repo.UpdatePaymentStatus(context.Background(), "missing", model.PaymentStatusPaid)
	if err != nil || ok {
		t.Errorf("UpdatePaymentStatus(missing) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestPostgresNoteRepo_AddAndList(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresNoteRepo(db)
	now := time.Now()

	mock.ExpectExec(q("INSERT INTO entry_notes")).
		WithArgs("n1", "e1", "error", "Unable to add subscriber to ConvertKit because: Invalid form", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("FROM entry_notes WHERE entry_id = $1")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "entry_id", "note_type", "body", "created_at"}).
			AddRow("n1", "e1", "error", "Unable to add subscriber to ConvertKit because: Invalid form", now))

	ctx := context.Background()
	err := repo.Add(ctx, &model.Note{
		ID: "n1", EntryID: "e1", Type: model.NoteTypeError,
		Body: "Unable to add subscriber to ConvertKit because: Invalid form", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Add がエラーを返した: %v", err)
	}

	notes, err := repo.ListByEntryID(ctx, "e1")
	if err != nil {
		t.Fatalf("ListByEntryID がエラーを返した: %v", err)
	}
	if len(notes) != 1 || notes[0].Type != model.NoteTypeError {
		t.Errorf("notes = %+v", notes)
	}
}

func TestPostgresFeedRepo_ListByFormID_ActiveOnly(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresFeedRepo(db)
	now := time.Now()

	mock.ExpectQuery(q("FROM addon_feeds WHERE form_id = $1 AND is_active = true ORDER BY feed_order")).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"id", "form_id", "is_active", "feed_order", "meta", "created_at", "updated_at"}).
			AddRow("f1", "7", true, 0, []byte(`{"form_id":"123","field_map_email":"3","tag_id":"9"}`), now, now))

	feeds, err := repo.ListByFormID(context.Background(), "7", true)
	if err != nil {
		t.Fatalf("ListByFormID がエラーを返した: %v", err)
	}
	if len(feeds) != 1 {
		t.Fatalf("len = %d, want 1", len(feeds))
	}
	if feeds[0].Meta.RemoteFormID != "123" || feeds[0].Meta.TagID != "9" {
		t.Errorf("Meta = %+v", feeds[0].Meta)
	}
}

func TestPostgresFeedRepo_ListByFormID_All(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresFeedRepo(db)

	mock.ExpectQuery(q("FROM addon_feeds WHERE form_id = $1 ORDER BY")).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"id", "form_id", "is_active", "feed_order", "meta", "created_at", "updated_at"}))

	feeds, err := repo.ListByFormID(context.Background(), "7", false)
	if err != nil {
		t.Fatalf("ListByFormID がエラーを返した: %v", err)
	}
	if feeds == nil || len(feeds) != 0 {
		t.Errorf("feeds = %v, want empty non-nil", feeds)
	}
}

func TestPostgresFeedRepo_FindByID_BrokenMeta(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresFeedRepo(db)
	now := time.Now()

	mock.ExpectQuery(q("FROM addon_feeds WHERE id = $1")).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "form_id", "is_active", "feed_order", "meta", "created_at", "updated_at"}).
			AddRow("f1", "7", true, 0, []byte(`{`), now, now))

	if _, err := repo.FindByID(context.Background(), "f1"); err == nil {
		t.Error("壊れたメタでエラーが返されるべき")
	}
}

func TestPostgresFeedRepo_UpdateAndDelete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresFeedRepo(db)
	ctx := context.Background()

	mock.ExpectExec(q("UPDATE addon_feeds SET")).
		WithArgs("f1", "7", false, 2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("DELETE FROM addon_feeds WHERE id = $1")).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Update(ctx, &model.Feed{ID: "f1", FormID: "7", FeedOrder: 2, UpdatedAt: time.Now()})
	if err != nil || !ok {
		t.Errorf("Update = (%v, %v)", ok, err)
	}
	ok, err = repo.Delete(ctx, "f1")
	if err != nil || ok {
		t.Errorf("Delete = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestPostgresSettingsRepo_PluginSettings(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSettingsRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(q("FROM plugin_settings WHERE id = 1")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(q("INSERT INTO plugin_settings")).
		WithArgs("key", "secret", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("FROM plugin_settings WHERE id = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"api_key", "api_secret", "imported_feeds"}).
			AddRow("key", "secret", true))

	s, err := repo.GetPluginSettings(ctx)
	if err != nil || s != (model.PluginSettings{}) {
		t.Fatalf("未保存時 = (%+v, %v), want zero", s, err)
	}
	if err := repo.SavePluginSettings(ctx, model.PluginSettings{APIKey: "key", APISecret: "secret", ImportedFeeds: true}); err != nil {
		t.Fatalf("SavePluginSettings がエラーを返した: %v", err)
	}
	s, err = repo.GetPluginSettings(ctx)
	if err != nil || s.APISecret != "secret" || !s.ImportedFeeds {
		t.Errorf("GetPluginSettings = (%+v, %v)", s, err)
	}
}

func TestPostgresSettingsRepo_FormSettingsDefault(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSettingsRepo(db)

	mock.ExpectQuery(q("FROM form_settings WHERE form_id = $1")).
		WithArgs("7").
		WillReturnError(sql.ErrNoRows)

	s, err := repo.GetFormSettings(context.Background(), "7")
	if err != nil {
		t.Fatalf("GetFormSettings がエラーを返した: %v", err)
	}
	if s.FormID != "7" || s.EnableCreatorNetworkRecommendations {
		t.Errorf("s = %+v", s)
	}
}

func TestPostgresJobRepo_ClaimDueSortsByCreation(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresJobRepo(db)
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "feed_id", "entry_id", "status", "attempts", "last_error", "run_after", "created_at", "updated_at"}

	mock.ExpectQuery(q("FOR UPDATE SKIP LOCKED")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("j2", "f2", "e1", "running", 0, nil, t0, t0.Add(time.Second), t0).
			AddRow("j1", "f1", "e1", "running", 1, "timeout", t0, t0, t0))

	jobs, err := repo.ClaimDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimDue がエラーを返した: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "j1" || jobs[1].ID != "j2" {
		t.Fatalf("登録順に並んでいない: %+v", jobs)
	}
	if jobs[0].LastError != "timeout" || jobs[0].Status != model.JobStatusRunning {
		t.Errorf("jobs[0] = %+v", jobs[0])
	}
}

func TestPostgresJobRepo_StateTransitions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresJobRepo(db)
	ctx := context.Background()
	next := time.Now().Add(time.Minute)

	mock.ExpectExec(q("SET status = 'done'")).
		WithArgs("j1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("SET status = 'pending', attempts = $2, run_after = $3")).
		WithArgs("j2", 2, next, "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("SET status = 'failed'")).
		WithArgs("j3", 5, "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkDone(ctx, "j1", 1); err != nil {
		t.Errorf("MarkDone がエラーを返した: %v", err)
	}
	if err := repo.Reschedule(ctx, "j2", 2, next, "boom"); err != nil {
		t.Errorf("Reschedule がエラーを返した: %v", err)
	}
	if err := repo.MarkFailed(ctx, "j3", 5, "boom"); err != nil {
		t.Errorf("MarkFailed がエラーを返した: %v", err)
	}
}

func TestPostgresJobRepo_Cleanup(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresJobRepo(db)
	ctx := context.Background()
	before := time.Now()

	mock.ExpectExec(q("WHERE status = 'running' AND updated_at < $1")).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("DELETE FROM feed_jobs WHERE status IN ('done', 'failed')")).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RequeueStale(ctx, before)
	if err != nil || n != 2 {
		t.Errorf("RequeueStale = (%d, %v), want 2", n, err)
	}
	n, err = repo.DeleteFinishedBefore(ctx, before)
	if err != nil || n != 3 {
		t.Errorf("DeleteFinishedBefore = (%d, %v), want 3", n, err)
	}
}

func TestPostgresJobRepo_EnqueueError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresJobRepo(db)

	mock.ExpectExec(q("INSERT INTO feed_jobs")).
		WillReturnError(errors.New("connection refused"))

	err := repo.Enqueue(context.Background(), &model.Job{ID: "j1", FeedID: "f1", EntryID: "e1"})
	if err == nil {
		t.Error("DBエラーが返されるべき")
	}
}

func TestPostgresNoticeRepo(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresNoticeRepo(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(q("ON CONFLICT (key) DO UPDATE")).
		WithArgs("gf_convertkit_disable_message", "msg", "warning").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("FROM notices WHERE dismissed = false")).
		WillReturnRows(sqlmock.NewRows([]string{"key", "message", "notice_type", "dismissed", "created_at"}).
			AddRow("gf_convertkit_disable_message", "msg", "warning", false, now))
	mock.ExpectExec(q("UPDATE notices SET dismissed = true WHERE key = $1")).
		WithArgs("gf_convertkit_disable_message").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Add(ctx, &model.Notice{Key: "gf_convertkit_disable_message", Message: "msg", Type: "warning"}); err != nil {
		t.Fatalf("Add がエラーを返した: %v", err)
	}
	notices, err := repo.ListActive(ctx)
	if err != nil || len(notices) != 1 {
		t.Fatalf("ListActive = (%v, %v)", notices, err)
	}
	ok, err := repo.Dismiss(ctx, "gf_convertkit_disable_message")
	if err != nil || !ok {
		t.Errorf("Dismiss = (%v, %v)", ok, err)
	}
}

func TestPostgresLegacyRepo_GetOption(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresLegacyRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(q("SELECT value FROM legacy_options WHERE name = $1")).
		WithArgs("gravityformsaddon_ckgf_settings").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).
			AddRow([]byte(`{"api_key":"k","api_secret":"s"}`)))
	mock.ExpectQuery(q("SELECT value FROM legacy_options WHERE name = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	var opt struct {
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
	}
	found, err := repo.GetOption(ctx, "gravityformsaddon_ckgf_settings", &opt)
	if err != nil || !found || opt.APIKey != "k" || opt.APISecret != "s" {
		t.Errorf("GetOption = (%v, %v) opt=%+v", found, err, opt)
	}
	found, err = repo.GetOption(ctx, "missing", &opt)
	if err != nil || found {
		t.Errorf("存在しないオプション = (%v, %v)", found, err)
	}
}

func TestPostgresLegacyRepo_ListFeedsQuotesTable(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresLegacyRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(q("SELECT to_regclass($1) IS NOT NULL")).
		WithArgs("gf_addon_feed").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(q(`FROM "gf_addon_feed"`)).
		WithArgs("ckgf").
		WillReturnRows(sqlmock.NewRows([]string{"id", "form_id", "is_active", "meta"}).
			AddRow("1", "7", true, `{"field_map_e":"3"}`))

	exists, err := repo.TableExists(ctx, "gf_addon_feed")
	if err != nil || !exists {
		t.Fatalf("TableExists = (%v, %v)", exists, err)
	}
	rows, err := repo.ListFeeds(ctx, "gf_addon_feed", "ckgf")
	if err != nil {
		t.Fatalf("ListFeeds がエラーを返した: %v", err)
	}
	if len(rows) != 1 || string(rows[0].Meta) != `{"field_map_e":"3"}` {
		t.Errorf("rows = %+v", rows)
	}
}

func TestNullString(t *testing.T) {
	if nullString("").Valid {
		t.Error("空文字列は NULL になるべき")
	}
	if ns := nullString("x"); !ns.Valid || nullStringValue(ns) != "x" {
		t.Errorf("nullString(x) = %+v", ns)
	}
}
