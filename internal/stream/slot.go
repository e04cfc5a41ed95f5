package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"finsight/internal/metrics"
	"finsight/pkg/retry"
	"finsight/pkg/utils"
)

var (
	ErrSlotClosed      = errors.New("slot is closed")
	ErrNoSubscription  = errors.New("slot has no subscription")
	ErrConnectTimeout  = errors.New("connect timeout")
	errTransportClosed = errors.New("transport closed")
)

const (
	// DefaultConnectTimeout - ограничение на установку соединения
	DefaultConnectTimeout = 10 * time.Second

	// DefaultStableAfter - сколько соединение должно прожить, чтобы
	// счётчик попыток сбросился
	DefaultStableAfter = 5 * time.Second
)

// Config - параметры слота
type Config struct {
	// Name - имя слота в логах ("quote", "notifications")
	Name string

	// ConnectTimeout ограничивает каждый Dial
	ConnectTimeout time.Duration

	// Retry - backoff переподключения. MaxRetries = 0 - без переподключения:
	// первый же разрыв переводит слот в error.
	Retry retry.Config

	// StableAfter - соединение, закрывшееся раньше, считается неудачной
	// попыткой; прожившее дольше сбрасывает счётчик
	StableAfter time.Duration

	// Decoder; nil - кадры доставляются как []byte
	Decoder Decoder

	OnMessage Handler
	OnState   StateHandler

	Logger *utils.Logger
}

// Handle - подписка определённого поколения
type Handle struct {
	slot *Slot
	gen  uint64
	key  Key
}

func (h *Handle) Key() Key           { return h.key }
func (h *Handle) Generation() uint64 { return h.gen }

// Current - подписка всё ещё актуальна
func (h *Handle) Current() bool {
	return h != nil && h.slot.gen.Load() == h.gen
}

// Slot держит не более одного live-соединения.
//
// Каждая подписка получает новое поколение. Поколение увеличивается под
// deliverMu - тем же мьютексом, под которым доставляются кадры и смены
// состояния, поэтому после возврата из Subscribe ни один кадр прежнего
// соединения не дойдёт до обработчика.
//
// Обработчики вызываются под deliverMu и не должны вызывать
// Subscribe/Unsubscribe/Reconnect/Close этого же слота.
type Slot struct {
	dialer Dialer
	cfg    Config
	logger *utils.Logger

	deliverMu sync.Mutex
	gen       atomic.Uint64
	state     atomic.Int32
	key       atomic.Pointer[Key]

	runMu  sync.Mutex
	cancel context.CancelFunc
	closed bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewSlot создаёт слот в состоянии idle
func NewSlot(dialer Dialer, cfg Config) *Slot {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = DefaultStableAfter
	}
	if cfg.Name == "" {
		cfg.Name = "stream"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Slot{
		dialer:     dialer,
		cfg:        cfg,
		logger:     utils.OrGlobal(cfg.Logger).WithSlot(cfg.Name),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
	s.key.Store(&Key{})
	return s
}

// State - текущее состояние (без блокировок)
func (s *Slot) State() State {
	return State(s.state.Load())
}

// Key - ключ текущей подписки (нулевой если её нет)
func (s *Slot) Key() Key {
	return *s.key.Load()
}

// Generation - текущее поколение
func (s *Slot) Generation() uint64 {
	return s.gen.Load()
}

// Subscribe переключает слот на key. Прежнее соединение отменяется и
// закрывается асинхронно, новое открывается в фоне.
func (s *Slot) Subscribe(key Key) (*Handle, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.closed {
		return nil, ErrSlotClosed
	}
	return s.subscribeLocked(key), nil
}

// subscribeLocked вызывается под runMu
func (s *Slot) subscribeLocked(key Key) *Handle {
	s.deliverMu.Lock()
	gen := s.gen.Add(1)
	k := key
	s.key.Store(&k)
	s.deliverMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(s.rootCtx)
	s.cancel = cancel

	s.logger.Debug("subscribe", utils.Key(key.String()), utils.Generation(gen))

	s.wg.Add(1)
	go s.run(ctx, gen, key)

	return &Handle{slot: s, gen: gen, key: key}
}

// Unsubscribe закрывает соединение, если h всё ещё текущая подписка.
// Устаревшие handle игнорируются.
func (s *Slot) Unsubscribe(h *Handle) {
	if h == nil || h.slot != s {
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.deliverMu.Lock()
	if s.gen.Load() != h.gen {
		s.deliverMu.Unlock()
		return
	}
	gen := s.gen.Add(1)
	s.key.Store(&Key{})
	s.emitStateLocked(h.key, StateClosed)
	s.deliverMu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.logger.Debug("unsubscribe", utils.Key(h.key.String()), utils.Generation(gen))
}

// Reconnect переоткрывает текущий ключ в новом поколении со сброшенным
// счётчиком попыток. Выход из состояния error.
func (s *Slot) Reconnect() (*Handle, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.closed {
		return nil, ErrSlotClosed
	}
	key := s.Key()
	if key.IsZero() {
		return nil, ErrNoSubscription
	}

	metrics.RecordReconnect(string(key.Purpose), true)
	s.logger.Info("manual reconnect", utils.Key(key.String()))
	return s.subscribeLocked(key), nil
}

// Close завершает слот и ждёт остановки фоновых горутин
func (s *Slot) Close() {
	s.runMu.Lock()
	if s.closed {
		s.runMu.Unlock()
		return
	}
	s.closed = true

	s.deliverMu.Lock()
	s.gen.Add(1)
	key := s.Key()
	s.key.Store(&Key{})
	s.emitStateLocked(key, StateClosed)
	s.deliverMu.Unlock()

	s.cancel = nil
	s.runMu.Unlock()

	s.rootCancel()
	s.wg.Wait()
}

// ============================================================
// Фоновый цикл соединения
// ============================================================

func (s *Slot) run(ctx context.Context, gen uint64, key Key) {
	defer s.wg.Done()

	log := s.logger.With(utils.Key(key.String()), utils.Generation(gen))
	backoff := retry.NewBackoff(s.cfg.Retry)

	for {
		s.setState(gen, key, StateConnecting)

		tr, err := s.dial(ctx, key)
		if err == nil {
			s.setState(gen, key, StateOpen)
			log.Debug("connected")

			openedAt := time.Now()
			err = s.readLoop(ctx, gen, key, tr)
			if time.Since(openedAt) >= s.cfg.StableAfter {
				backoff.Reset()
			}
		}

		if ctx.Err() != nil {
			// поколение сменилось или слот закрыт
			return
		}

		delay, ok := backoff.Next()
		if !ok {
			log.Warn("connection failed, giving up", utils.Err(err), utils.Attempt(backoff.Attempt()))
			s.setState(gen, key, StateError)
			return
		}

		log.Info("connection lost, retrying",
			utils.Err(err),
			utils.Attempt(backoff.Attempt()),
			utils.Delay(delay),
		)
		metrics.RecordReconnect(string(key.Purpose), false)
		s.setState(gen, key, StateBackoff)

		if retry.Sleep(ctx, delay) != nil {
			return
		}
	}
}

type dialResult struct {
	tr  Transport
	err error
}

// dial открывает соединение, ограничивая его ConnectTimeout даже если
// Dialer игнорирует контекст
func (s *Slot) dial(ctx context.Context, key Key) (Transport, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	ch := make(chan dialResult, 1)
	go func() {
		tr, err := s.dialer.Dial(dctx, key)
		ch <- dialResult{tr: tr, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if ctx.Err() == nil && errors.Is(r.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %v", ErrConnectTimeout, s.cfg.ConnectTimeout)
			}
			return nil, r.err
		}
		if ctx.Err() != nil {
			s.closeQuietly(r.tr, key)
			return nil, ctx.Err()
		}
		return r.tr, nil
	case <-dctx.Done():
		go func() {
			if r := <-ch; r.tr != nil {
				s.closeQuietly(r.tr, key)
			}
		}()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %v", ErrConnectTimeout, s.cfg.ConnectTimeout)
	}
}

// readLoop читает кадры до ошибки или отмены; транспорт закрывается на выходе
func (s *Slot) readLoop(ctx context.Context, gen uint64, key Key, tr Transport) error {
	done := make(chan struct{})
	defer close(done)

	// ReadMessage не принимает контекст - разблокируем его закрытием
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		s.closeQuietly(tr, key)
	}()

	for {
		data, err := tr.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return errTransportClosed
			}
			return err
		}
		s.deliver(gen, key, data)
	}
}

func (s *Slot) deliver(gen uint64, key Key, data []byte) {
	purpose := string(key.Purpose)

	var msg interface{} = data
	if s.cfg.Decoder != nil {
		decoded, err := s.cfg.Decoder(data)
		if err != nil {
			metrics.RecordFrame(purpose, "malformed")
			s.logger.Warn("dropping malformed frame",
				utils.Key(key.String()),
				utils.Err(err),
				utils.Int("bytes", len(data)),
			)
			return
		}
		msg = decoded
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.gen.Load() != gen {
		metrics.RecordFrame(purpose, "stale")
		return
	}
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(key, msg)
	}
	metrics.RecordFrame(purpose, "delivered")
}

// setState меняет состояние, если gen всё ещё текущее
func (s *Slot) setState(gen uint64, key Key, st State) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.gen.Load() != gen {
		return
	}
	s.emitStateLocked(key, st)
}

// emitStateLocked вызывается под deliverMu
func (s *Slot) emitStateLocked(key Key, st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	if key.Purpose != "" {
		metrics.RecordStreamState(string(key.Purpose), st.String())
	}
	if s.cfg.OnState != nil {
		s.cfg.OnState(key, st)
	}
}

func (s *Slot) closeQuietly(tr Transport, key Key) {
	if err := tr.Close(); err != nil {
		s.logger.Debug("close transport", utils.Key(key.String()), utils.Err(err))
	}
}
