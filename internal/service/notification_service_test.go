package service

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finsight/internal/models"
	"finsight/internal/websocket"
)

func TestNotificationService_CreateForAlert(t *testing.T) {
	repo := NewMockNotificationRepository()
	pub := &MockPublisher{}
	svc := NewNotificationService(repo, pub, nil)

	alert := &models.Alert{
		ID:            9,
		UserID:        3,
		Ticker:        "AAPL",
		ConditionType: models.ConditionGT,
		Threshold:     decimal.RequireFromString("180"),
	}

	n, err := svc.CreateForAlert(alert, decimal.RequireFromString("181.456"))
	if err != nil {
		t.Fatalf("CreateForAlert: %v", err)
	}
	if n.ID == 0 || n.UserID != 3 || n.AlertID == nil || *n.AlertID != 9 {
		t.Errorf("unexpected notification: %+v", n)
	}
	want := "Price Alert: AAPL is now $181.46, triggering your alert for GT $180.00."
	if n.Message != want {
		t.Errorf("message = %q, want %q", n.Message, want)
	}

	pushed := pub.byTopic(websocket.UserTopic(3))
	if len(pushed) != 1 {
		t.Fatalf("expected 1 push to user topic, got %d", len(pushed))
	}
	if pushed[0].(*models.Notification).ID != n.ID {
		t.Error("pushed notification differs from stored one")
	}
}

func TestNotificationService_CreateForAlert_RepoError(t *testing.T) {
	repo := NewMockNotificationRepository()
	repo.createErr = errors.New("db down")
	pub := &MockPublisher{}
	svc := NewNotificationService(repo, pub, nil)

	_, err := svc.CreateForAlert(&models.Alert{ID: 1, UserID: 1, Ticker: "AAPL"}, decimal.NewFromInt(1))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(pub.messages) != 0 {
		t.Error("nothing must be pushed when the insert fails")
	}
}

func TestNotificationService_ListAndMarkAllRead(t *testing.T) {
	repo := NewMockNotificationRepository()
	svc := NewNotificationService(repo, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateForAlert(&models.Alert{ID: int64(i + 1), UserID: 1, Ticker: "MSFT"}, decimal.NewFromInt(10)); err != nil {
			t.Fatalf("CreateForAlert: %v", err)
		}
	}
	if _, err := svc.CreateForAlert(&models.Alert{ID: 10, UserID: 2, Ticker: "MSFT"}, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("CreateForAlert: %v", err)
	}

	list, err := svc.List(1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 || list[0].ID < list[2].ID {
		t.Errorf("expected 3 notifications newest first, got %+v", list)
	}
	if repo.lastLimit != MaxListedNotifications {
		t.Errorf("expected limit %d, got %d", MaxListedNotifications, repo.lastLimit)
	}

	n, err := svc.MarkAllRead(1)
	if err != nil || n != 3 {
		t.Errorf("MarkAllRead = %d, %v; want 3, nil", n, err)
	}
	// Идемпотентно
	n, err = svc.MarkAllRead(1)
	if err != nil || n != 0 {
		t.Errorf("second MarkAllRead = %d, %v; want 0, nil", n, err)
	}

	if unread, _ := repo.CountUnread(2); unread != 1 {
		t.Errorf("other user's notifications must stay unread, got %d", unread)
	}
}

func TestNotificationService_Prune(t *testing.T) {
	repo := NewMockNotificationRepository()
	svc := NewNotificationService(repo, nil, nil)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	old := models.NewTimestamp(now.Add(-48 * time.Hour))
	fresh := models.NewTimestamp(now.Add(-time.Hour))
	repo.items = []*models.Notification{
		{ID: 1, UserID: 1, Read: true, CreatedAt: old},
		{ID: 2, UserID: 1, Read: false, CreatedAt: old},
		{ID: 3, UserID: 1, Read: true, CreatedAt: fresh},
	}

	n, err := svc.Prune(24*time.Hour, now)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	if len(repo.items) != 2 || repo.items[0].ID != 2 || repo.items[1].ID != 3 {
		t.Errorf("unread and fresh notifications must stay, got %+v", repo.items)
	}
}
