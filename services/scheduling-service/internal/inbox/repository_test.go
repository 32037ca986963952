package inbox

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestRecord_FirstDelivery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("evt-1", "scheduling.slot.freed.v1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	fresh, err := NewRepository(mock).Record(context.Background(), "evt-1", "scheduling.slot.freed.v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh {
		t.Fatal("expected first delivery to be fresh")
	}
}

func TestRecord_DuplicateDelivery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("evt-1", "scheduling.slot.freed.v1").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "inbox_events_pkey"})

	fresh, err := NewRepository(mock).Record(context.Background(), "evt-1", "scheduling.slot.freed.v1")
	if err != nil {
		t.Fatalf("expected duplicate to be swallowed, got %v", err)
	}
	if fresh {
		t.Fatal("expected duplicate delivery to report not fresh")
	}
}

func TestRecord_OtherErrorsPropagate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("evt-1", "scheduling.slot.freed.v1").
		WillReturnError(boom)

	if _, err := NewRepository(mock).Record(context.Background(), "evt-1", "scheduling.slot.freed.v1"); !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
}
