package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"task-service/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
)

var auditRowColumns = []string{
	"id", "user_id", "id", "name", "email", "action", "entity", "entity_id", "changes", "created_at",
}

func TestAuditAppend(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	actor := int64(7)
	changes := json.RawMessage(`{"old":{"title":"A"},"new":{"title":"B"}}`)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(actor, 2, "Task", 42, string(changes)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1001, now))
	mock.ExpectCommit()

	record := &domain.AuditRecord{
		ActorID:    &actor,
		Action:     domain.ActionUpdate,
		EntityType: "Task",
		EntityID:   42,
		Changes:    changes,
	}
	if err := NewPostgresAuditRepository(db).Append(context.Background(), record); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if record.ID != 1001 || !record.CreatedAt.Equal(now) {
		t.Fatalf("generated columns not filled in: %+v", record)
	}
}

func TestAuditAppendWithoutActorOrChanges(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(nil, 1, "Task", 42, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectCommit()

	record := &domain.AuditRecord{Action: domain.ActionCreate, EntityType: "Task", EntityID: 42}
	if err := NewPostgresAuditRepository(db).Append(context.Background(), record); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestAuditAppendFailureIsPersistenceError(t *testing.T) {
	db, mock := newMockDB(t)
	insertErr := errors.New("connection reset by peer")

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO audit_logs").WillReturnError(insertErr)
	mock.ExpectRollback()

	record := &domain.AuditRecord{Action: domain.ActionDelete, EntityType: "User", EntityID: 3}
	err := NewPostgresAuditRepository(db).Append(context.Background(), record)
	if !errors.Is(err, domain.ErrAuditPersistence) || !errors.Is(err, insertErr) {
		t.Fatalf("expected persistence error wrapping the cause, got %v", err)
	}
	if record.ID != 0 {
		t.Fatalf("record must not get an id on failure, got %d", record.ID)
	}
}

func TestAuditAppendCommitFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	record := &domain.AuditRecord{Action: domain.ActionCreate, EntityType: "Task", EntityID: 1}
	err := NewPostgresAuditRepository(db).Append(context.Background(), record)
	if !errors.Is(err, domain.ErrAuditPersistence) {
		t.Fatalf("expected ErrAuditPersistence, got %v", err)
	}
}

func TestOrderClause(t *testing.T) {
	for _, tc := range []struct {
		prefix string
		sort   domain.SortDirection
		want   string
	}{
		{"a.", domain.SortAsc, "a.created_at ASC, a.id ASC"},
		{"a.", domain.SortDesc, "a.created_at DESC, a.id DESC"},
		{"a.", domain.SortNone, "a.id ASC"},
		{"", domain.SortDesc, "created_at DESC, id DESC"},
	} {
		if got := orderClause(tc.prefix, tc.sort); got != tc.want {
			t.Errorf("orderClause(%q, %q) = %q, want %q", tc.prefix, tc.sort, got, tc.want)
		}
	}
}

func TestAuditQueryNewestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`FROM audit_logs a\s+LEFT JOIN users u ON u\.id = a\.user_id ORDER BY a\.created_at DESC, a\.id DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows(auditRowColumns).
			AddRow(3, nil, nil, nil, nil, 3, "Task", 42, nil, base.Add(2*time.Minute)).
			AddRow(2, nil, nil, nil, nil, 2, "Task", 42, nil, base.Add(time.Minute)).
			AddRow(1, nil, nil, nil, nil, 1, "Task", 42, nil, base))

	page, err := NewPostgresAuditRepository(db).Query(context.Background(), domain.AuditFilter{Sort: domain.SortDesc, PerPage: 10, Page: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(page.Records))
	}
	for i, wantID := range []int64{3, 2, 1} {
		if page.Records[i].ID != wantID {
			t.Fatalf("record %d: expected id %d, got %d", i, wantID, page.Records[i].ID)
		}
		if i > 0 && page.Records[i].CreatedAt.After(page.Records[i-1].CreatedAt) {
			t.Fatalf("records are not newest first: %v after %v", page.Records[i].CreatedAt, page.Records[i-1].CreatedAt)
		}
	}
}

func TestAuditQueryLastPage(t *testing.T) {
	db, mock := newMockDB(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY a.created_at DESC, a.id DESC LIMIT $1 OFFSET $2")).
		WithArgs(5, 10).
		WillReturnRows(sqlmock.NewRows(auditRowColumns).
			AddRow(2, 7, 7, "Jane", "jane@example.com", 2, "Task", 42, []byte(`{"old":{"title":"A"},"new":{"title":"B"}}`), base.Add(time.Minute)).
			AddRow(1, nil, nil, nil, nil, 1, "Task", 42, nil, base))

	filter := domain.AuditFilter{Sort: domain.SortDesc, PerPage: 5, Page: 3}
	page, err := NewPostgresAuditRepository(db).Query(context.Background(), filter)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.Total != 12 || len(page.Records) != 2 || page.Filter != filter {
		t.Fatalf("unexpected page %+v", page)
	}

	first := page.Records[0]
	if first.Actor == nil || first.Actor.Name != "Jane" || first.Action != domain.ActionUpdate {
		t.Fatalf("unexpected first record %+v", first)
	}
	second := page.Records[1]
	if second.Actor != nil || second.ActorID != nil || second.Changes != nil {
		t.Fatalf("NULL columns should map to nil: %+v", second)
	}
}

func TestAuditQueryBeyondLastPageKeepsTotal(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY a.id ASC LIMIT $1 OFFSET $2")).
		WithArgs(5, 45).
		WillReturnRows(sqlmock.NewRows(auditRowColumns))

	page, err := NewPostgresAuditRepository(db).Query(context.Background(), domain.AuditFilter{PerPage: 5, Page: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.Total != 12 || len(page.Records) != 0 || page.Records == nil {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestAuditQueryCountError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs")).
		WillReturnError(errors.New("relation does not exist"))

	_, err := NewPostgresAuditRepository(db).Query(context.Background(), domain.AuditFilter{PerPage: 10, Page: 1})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestAuditGetByIDIsStable(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT .+ FROM audit_logs a LEFT JOIN users u ON u.id = a.user_id WHERE a.id = \\$1").
			WithArgs(1001).
			WillReturnRows(sqlmock.NewRows(auditRowColumns).
				AddRow(1001, 7, 7, "Jane", "jane@example.com", 3, "User", 9, nil, created))
	}

	repo := NewPostgresAuditRepository(db)
	first, err := repo.GetByID(context.Background(), 1001)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	second, err := repo.GetByID(context.Background(), 1001)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if first.ID != second.ID || first.Action != second.Action || !first.CreatedAt.Equal(second.CreatedAt) || *first.ActorID != *second.ActorID {
		t.Fatalf("reads differ: %+v vs %+v", first, second)
	}
}

func TestAuditGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT .+ FROM audit_logs").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(auditRowColumns))

	_, err := NewPostgresAuditRepository(db).GetByID(context.Background(), 5)
	if !errors.Is(err, domain.ErrAuditLogNotFound) {
		t.Fatalf("expected ErrAuditLogNotFound, got %v", err)
	}
}
