package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errEOF = errors.New("eof")

// fakeTransport - управляемый из теста транспорт
type fakeTransport struct {
	key    Key
	frames chan []byte
	closed chan struct{}
	once   sync.Once
	closes int32
}

func newFakeTransport(key Key) *fakeTransport {
	return &fakeTransport{
		key:    key,
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-f.frames:
		if !ok {
			return nil, errEOF
		}
		return data, nil
	case <-f.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (f *fakeTransport) Close() error {
	atomic.AddInt32(&f.closes, 1)
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// send кладёт кадр; после закрытия транспорта - no-op
func (f *fakeTransport) send(s string) {
	select {
	case f.frames <- []byte(s):
	case <-f.closed:
	}
}

// drop имитирует разрыв со стороны сервера
func (f *fakeTransport) drop() {
	close(f.frames)
}

// fakeDialer открывает fakeTransport; failures - сколько первых Dial вернут ошибку,
// dropOnOpen - соединение рвётся сразу после открытия
type fakeDialer struct {
	mu         sync.Mutex
	failures   int
	block      bool
	dropOnOpen bool
	transports []*fakeTransport
	dials      int
}

func (d *fakeDialer) Dial(ctx context.Context, key Key) (Transport, error) {
	d.mu.Lock()
	d.dials++
	if d.block {
		d.mu.Unlock()
		select {} // игнорирует контекст
	}
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	tr := newFakeTransport(key)
	if d.dropOnOpen {
		tr.drop()
	}
	d.transports = append(d.transports, tr)
	d.mu.Unlock()
	return tr, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recorder собирает доставленные кадры и состояния
type recorder struct {
	mu       sync.Mutex
	messages []string
	keys     []Key
	states   []State
}

func (r *recorder) onMessage(key Key, msg interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch v := msg.(type) {
	case []byte:
		r.messages = append(r.messages, string(v))
	case string:
		r.messages = append(r.messages, v)
	}
	r.keys = append(r.keys, key)
}

func (r *recorder) onState(_ Key, st State) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]string, []Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...), append([]Key(nil), r.keys...)
}

func (r *recorder) sawState(st State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == st {
			return true
		}
	}
	return false
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
