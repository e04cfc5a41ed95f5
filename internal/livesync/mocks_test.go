package livesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finsight/internal/cache"
	"finsight/internal/models"
	"finsight/internal/stream"
	"finsight/pkg/retry"
)

var errNotFound = errors.New("not found")

// fakeAPI - REST сервер в памяти
type fakeAPI struct {
	mu sync.Mutex

	notifications []models.Notification
	listErr       error
	listCalls     int
	listHook      func() // вызывается после снятия снимка, до ответа

	markErr   error
	markCalls int
	markHook  func() // вызывается внутри MarkAllNotificationsRead

	deleted   []int64
	deleteErr error

	prices     map[string]models.Quote
	priceGates map[string]chan struct{}
	priceCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		prices:     make(map[string]models.Quote),
		priceGates: make(map[string]chan struct{}),
	}
}

func (f *fakeAPI) setNotifications(list ...models.Notification) {
	f.mu.Lock()
	f.notifications = list
	f.mu.Unlock()
}

func (f *fakeAPI) GetNotifications(ctx context.Context) ([]models.Notification, error) {
	f.mu.Lock()
	f.listCalls++
	if f.listErr != nil {
		err := f.listErr
		f.mu.Unlock()
		return nil, err
	}
	list := append([]models.Notification(nil), f.notifications...)
	hook := f.listHook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return list, nil
}

func (f *fakeAPI) MarkAllNotificationsRead(ctx context.Context) error {
	f.mu.Lock()
	f.markCalls++
	hook, err := f.markHook, f.markErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	for i := range f.notifications {
		f.notifications[i].Read = true
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) DeleteAlert(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	kept := f.notifications[:0]
	for _, n := range f.notifications {
		if !n.BelongsToAlert(id) {
			kept = append(kept, n)
		}
	}
	f.notifications = kept
	return nil
}

func (f *fakeAPI) GetPrice(ctx context.Context, ticker string) (*models.Quote, error) {
	f.mu.Lock()
	f.priceCalls++
	gate := f.priceGates[ticker]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.prices[ticker]
	if !ok {
		return nil, errNotFound
	}
	return &q, nil
}

func (f *fakeAPI) counts() (list, mark int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.markCalls
}

// fakeTransport - live-соединение, управляемое тестом
type fakeTransport struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.frames:
		return data, nil
	case <-t.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) send(s string) {
	select {
	case t.frames <- []byte(s):
	case <-t.closed:
	}
}

// fakeDialer запоминает транспорт каждого ключа
type fakeDialer struct {
	mu   sync.Mutex
	byID map[stream.Key][]*fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{byID: make(map[stream.Key][]*fakeTransport)}
}

func (d *fakeDialer) Dial(ctx context.Context, key stream.Key) (stream.Transport, error) {
	tr := &fakeTransport{frames: make(chan []byte, 64), closed: make(chan struct{})}
	d.mu.Lock()
	d.byID[key] = append(d.byID[key], tr)
	d.mu.Unlock()
	return tr, nil
}

func (d *fakeDialer) last(key stream.Key) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.byID[key]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func testStreamConfig() StreamConfig {
	return StreamConfig{
		ConnectTimeout: time.Second,
		Retry: retry.Config{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		},
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	c := cache.New(cache.Config{FetchTimeout: time.Second})
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var baseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func notification(id int64, read bool) models.Notification {
	return models.Notification{
		ID:        id,
		Message:   fmt.Sprintf("notification %d", id),
		Read:      read,
		CreatedAt: models.NewTimestamp(baseTime.Add(time.Duration(id) * time.Minute)),
	}
}

func alertNotification(id, alertID int64) models.Notification {
	n := notification(id, false)
	n.AlertID = &alertID
	return n
}

func ids(list []models.Notification) []int64 {
	out := make([]int64, len(list))
	for i, n := range list {
		out[i] = n.ID
	}
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
