package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"finsight/internal/models"
)

// ============================================================
// AlertRepository Tests
// ============================================================

var alertRowColumns = []string{
	"id", "user_id", "ticker", "condition_type", "threshold",
	"active", "last_triggered_at", "created_at", "updated_at",
}

func TestAlertRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO alerts`).
		WithArgs(int64(1), "AAPL", "GT", "180.5", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	repo := NewAlertRepository(db)
	alert := &models.Alert{
		UserID:        1,
		Ticker:        "aapl",
		ConditionType: models.ConditionGT,
		Threshold:     decimal.RequireFromString("180.5"),
	}
	if err := repo.Create(alert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert.ID != 11 || alert.Ticker != "AAPL" || !alert.Active {
		t.Errorf("unexpected alert after create: %+v", alert)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAlertRepositoryGetByUser(t *testing.T) {
	now := time.Now().UTC()
	triggered := now.Add(-time.Minute)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(alertRowColumns).
		AddRow(2, 1, "MSFT", "LT", "300.25", true, triggered, now, now).
		AddRow(1, 1, "AAPL", "GT", "180", false, nil, now, now)
	mock.ExpectQuery(`SELECT (.+) FROM alerts WHERE user_id = \$1 ORDER BY id DESC`).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	repo := NewAlertRepository(db)
	alerts, err := repo.GetByUser(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}

	first := alerts[0]
	if first.ConditionType != models.ConditionLT || !first.Threshold.Equal(decimal.RequireFromString("300.25")) {
		t.Errorf("unexpected first alert: %+v", first)
	}
	if first.LastTriggeredAt == nil || !first.LastTriggeredAt.Equal(triggered) {
		t.Errorf("LastTriggeredAt = %v, want %v", first.LastTriggeredAt, triggered)
	}
	if alerts[1].LastTriggeredAt != nil {
		t.Errorf("expected nil LastTriggeredAt, got %v", alerts[1].LastTriggeredAt)
	}
	if alerts[1].Active {
		t.Error("second alert should be inactive")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAlertRepositoryGetByUser_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM alerts`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(alertRowColumns))

	repo := NewAlertRepository(db)
	alerts, err := repo.GetByUser(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Пустой список, не nil: сериализуется как []
	if alerts == nil || len(alerts) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", alerts)
	}
}

func TestAlertRepositoryGetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM alerts WHERE id = \$1 AND user_id = \$2`).
		WithArgs(int64(3), int64(1)).
		WillReturnRows(sqlmock.NewRows(alertRowColumns))

	repo := NewAlertRepository(db)
	if _, err := repo.GetByID(3, 1); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestAlertRepositoryGetActiveByTicker(t *testing.T) {
	now := time.Now().UTC()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM alerts WHERE ticker = \$1 AND active`).
		WithArgs("TSLA").
		WillReturnRows(sqlmock.NewRows(alertRowColumns).
			AddRow(4, 1, "TSLA", "GT", "250", true, nil, now, now).
			AddRow(9, 2, "TSLA", "LT", "200", true, nil, now, now))

	repo := NewAlertRepository(db)
	alerts, err := repo.GetActiveByTicker("tsla")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 2 || alerts[1].UserID != 2 {
		t.Errorf("unexpected alerts: %+v", alerts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAlertRepositoryActiveTickers(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT ticker FROM alerts WHERE active`).
		WillReturnRows(sqlmock.NewRows([]string{"ticker"}).AddRow("AAPL").AddRow("MSFT"))

	repo := NewAlertRepository(db)
	tickers, err := repo.ActiveTickers()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tickers) != 2 || tickers[0] != "AAPL" || tickers[1] != "MSFT" {
		t.Errorf("unexpected tickers: %v", tickers)
	}
}

func TestAlertRepositoryMarkTriggered(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		affected    int64
		expectError error
	}{
		{"success", 1, nil},
		{"not found", 0, ErrAlertNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			mock.ExpectExec(`UPDATE alerts SET last_triggered_at`).
				WithArgs(at, int64(4)).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			repo := NewAlertRepository(db)
			if err := repo.MarkTriggered(4, at); !errors.Is(err, tt.expectError) {
				t.Errorf("expected %v, got %v", tt.expectError, err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestAlertRepositoryDelete(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "deletes alert and its notifications",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`DELETE FROM notifications WHERE alert_id = \$1 AND user_id = \$2`).
					WithArgs(int64(5), int64(1)).
					WillReturnResult(sqlmock.NewResult(0, 3))
				mock.ExpectExec(`DELETE FROM alerts WHERE id = \$1 AND user_id = \$2`).
					WithArgs(int64(5), int64(1)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "foreign or missing alert rolls back",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`DELETE FROM notifications`).
					WithArgs(int64(5), int64(1)).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`DELETE FROM alerts`).
					WithArgs(int64(5), int64(1)).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			expectError: ErrAlertNotFound,
		},
		{
			name: "notification delete failure rolls back",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`DELETE FROM notifications`).
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			expectError: errors.New("connection reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewAlertRepository(db)
			err = repo.Delete(5, 1)

			switch {
			case tt.expectError == nil && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tt.expectError == ErrAlertNotFound && !errors.Is(err, ErrAlertNotFound):
				t.Errorf("expected ErrAlertNotFound, got %v", err)
			case tt.expectError != nil && err == nil:
				t.Errorf("expected error %v, got nil", tt.expectError)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}
