package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestEnsureWatermark(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
INSERT INTO indexer_state (id, last_watermark)
VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING;
`)
	mock.ExpectExec(query).
		WithArgs("chunks", WatermarkEpoch).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.EnsureWatermark(context.Background(), "chunks"); err != nil {
		t.Fatalf("EnsureWatermark: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWatermarkRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	wm := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT last_watermark FROM indexer_state WHERE id = $1`)).
		WithArgs("chunks").
		WillReturnRows(sqlmock.NewRows([]string{"last_watermark"}).AddRow(wm))

	got, err := st.Watermark(context.Background(), "chunks")
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if !got.Equal(wm) {
		t.Fatalf("watermark = %v, want %v", got, wm)
	}

	next := wm.Add(time.Hour)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE indexer_state SET last_watermark = $2 WHERE id = $1`)).
		WithArgs("chunks", next).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SetWatermark(context.Background(), "chunks", next); err != nil {
		t.Fatalf("SetWatermark: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetWatermarkMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE indexer_state SET last_watermark = $2 WHERE id = $1`)).
		WithArgs("chunks", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = st.SetWatermark(context.Background(), "chunks", time.Now())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestFetchChunksSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	created := since.Add(time.Minute)
	now := time.Now().UTC()

	cols := []string{"chunk_id", "doc_id", "source", "created_at", "author_id", "permission_scope", "chunk_text", "updated_at"}
	mock.ExpectQuery(`SELECT chunk_id, doc_id, source, created_at, author_id, permission_scope, chunk_text, NOW\(\) AS updated_at`).
		WithArgs(since, 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c-1", "d-1", "slack", created, "u-1", "slack:public", "hello world", now).
			AddRow("c-2", "d-1", "slack", created, "u-2", "slack:public", "second message", now))

	chunks, err := st.FetchChunksSince(context.Background(), since, 100)
	if err != nil {
		t.Fatalf("FetchChunksSince: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].ChunkID != "c-1" || chunks[1].ChunkID != "c-2" {
		t.Fatalf("unexpected order: %q, %q", chunks[0].ChunkID, chunks[1].ChunkID)
	}
	if chunks[0].PermissionScope != "slack:public" {
		t.Fatalf("permission_scope = %q", chunks[0].PermissionScope)
	}
}

func TestFetchChunksSinceQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(`SELECT chunk_id`).WillReturnError(errors.New("connection refused"))

	_, err = st.FetchChunksSince(context.Background(), time.Now(), 10)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
}
