package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"finsight/internal/metrics"
	"finsight/pkg/utils"
)

// ErrNoQuery - для ключа не зарегистрирован fetcher
var ErrNoQuery = errors.New("no query registered for key")

// DefaultFetchTimeout - ограничение на один fetch
const DefaultFetchTimeout = 10 * time.Second

// Key - ключ записи кэша ("notifications", "quote/AAPL")
type Key string

// NewKey собирает ключ из частей
func NewKey(parts ...string) Key {
	return Key(strings.Join(parts, "/"))
}

// Prefix - первая часть ключа (метка метрик)
func (k Key) Prefix() string {
	s := string(k)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}

// Fetcher загружает значение ключа с сервера
type Fetcher func(ctx context.Context) (interface{}, error)

// Merger сводит загруженное значение с текущим.
// По умолчанию загруженное значение заменяет текущее.
type Merger func(prev interface{}, ok bool, fetched interface{}) interface{}

// Query - как загружать и сливать значение ключа
type Query struct {
	Key   Key
	Fetch Fetcher
	Merge Merger
}

type entry struct {
	value   interface{}
	version uint64
	stale   bool
	updated time.Time
}

type observer struct {
	key Key
	fn  func(interface{})

	mu   sync.Mutex
	seen uint64
}

// deliver вызывает fn, если версия новее уже показанной
func (o *observer) deliver(version uint64, value interface{}) {
	o.mu.Lock()
	if version <= o.seen {
		o.mu.Unlock()
		return
	}
	o.seen = version
	o.mu.Unlock()

	o.fn(value)
}

type fetchState struct {
	again bool // Invalidate пришёл во время загрузки
}

// Config - параметры кэша
type Config struct {
	FetchTimeout time.Duration
	Logger       *utils.Logger
}

// Cache - локальный реактивный кэш.
//
// Все записи (push из live-потоков и результаты загрузок) проходят через
// Write и сериализуются одним мьютексом; наблюдатели уведомляются после
// снятия блокировки и никогда не видят версию старше уже показанной.
type Cache struct {
	mu        sync.Mutex
	entries   map[Key]*entry
	observers map[Key]map[int]*observer
	queries   map[Key]Query
	fetching  map[Key]*fetchState
	version   uint64
	epoch     uint64 // растёт на Clear; загрузки прежней эпохи отбрасываются
	nextID    int

	fetchTimeout time.Duration
	logger       *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт кэш
func New(cfg Config) *Cache {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		entries:      make(map[Key]*entry),
		observers:    make(map[Key]map[int]*observer),
		queries:      make(map[Key]Query),
		fetching:     make(map[Key]*fetchState),
		fetchTimeout: cfg.FetchTimeout,
		logger:       utils.OrGlobal(cfg.Logger).WithComponent("cache"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Read возвращает текущее значение
func (c *Cache) Read(key Key) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Version - версия записи (0 если записи нет)
func (c *Cache) Version(key Key) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.version
	}
	return 0
}

// IsStale - запись помечена устаревшей (или отсутствует)
func (c *Cache) IsStale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return !ok || e.stale
}

// UpdatedAt - время последней записи
func (c *Cache) UpdatedAt(key Key) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.updated, true
}

// Write применяет updater к текущему значению синхронно.
// updater вызывается под блокировкой кэша и не должен обращаться к кэшу.
func (c *Cache) Write(key Key, updater func(prev interface{}, ok bool) interface{}) interface{} {
	c.mu.Lock()
	return c.writeLocked(key, updater)
}

// writeLocked вызывается под mu и снимает его
func (c *Cache) writeLocked(key Key, updater func(prev interface{}, ok bool) interface{}) interface{} {
	e, ok := c.entries[key]
	var prev interface{}
	if ok {
		prev = e.value
	} else {
		e = &entry{}
		c.entries[key] = e
	}
	next := updater(prev, ok)

	c.version++
	e.value = next
	e.version = c.version
	e.stale = false
	e.updated = time.Now()
	version := e.version
	obs := c.observersLocked(key)
	c.mu.Unlock()

	metrics.RecordCacheWrite(key.Prefix())
	for _, o := range obs {
		o.deliver(version, next)
	}
	return next
}

// Patch - Write только для существующей записи. Отсутствующая запись
// не создаётся, чтобы не подавить первую загрузку.
func (c *Cache) Patch(key Key, fn func(prev interface{}) interface{}) (interface{}, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	next := fn(e.value)

	c.version++
	e.value = next
	e.version = c.version
	e.updated = time.Now()
	version := e.version
	obs := c.observersLocked(key)
	c.mu.Unlock()

	metrics.RecordCacheWrite(key.Prefix())
	for _, o := range obs {
		o.deliver(version, next)
	}
	return next, true
}

// Set - Write с заменой значения
func (c *Cache) Set(key Key, value interface{}) {
	c.Write(key, func(interface{}, bool) interface{} { return value })
}

// Invalidate помечает запись устаревшей. Если у ключа есть активный
// наблюдатель с fetcher'ом - запускается фоновая загрузка.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.stale = true
	}
	q, hasQuery := c.queries[key]
	active := len(c.observers[key]) > 0
	start := hasQuery && q.Fetch != nil && active && c.markFetchingLocked(key)
	c.mu.Unlock()

	if start {
		c.startFetch(q)
	}
}

// Observe регистрирует наблюдателя. Если запись есть - onChange сразу
// получает текущее значение; если её нет или она устарела и задан Fetch -
// запускается фоновая загрузка. Возвращает функцию отписки.
func (c *Cache) Observe(q Query, onChange func(interface{})) (cancel func()) {
	o := &observer{key: q.Key, fn: onChange}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	if c.observers[q.Key] == nil {
		c.observers[q.Key] = make(map[int]*observer)
	}
	c.observers[q.Key][id] = o
	if q.Fetch != nil {
		c.queries[q.Key] = q
	}

	e, present := c.entries[q.Key]
	var (
		value   interface{}
		version uint64
	)
	if present {
		value, version = e.value, e.version
	}
	needFetch := q.Fetch != nil && (!present || e.stale) && c.markFetchingLocked(q.Key)
	c.mu.Unlock()

	if present && onChange != nil {
		o.deliver(version, value)
	}
	if needFetch {
		c.startFetch(q)
	}

	return func() {
		c.mu.Lock()
		delete(c.observers[q.Key], id)
		if len(c.observers[q.Key]) == 0 {
			delete(c.observers, q.Key)
		}
		c.mu.Unlock()
	}
}

// Watch - Observe без загрузки (только уведомления о записях)
func (c *Cache) Watch(key Key, onChange func(interface{})) (cancel func()) {
	return c.Observe(Query{Key: key}, onChange)
}

// Refetch синхронно загружает ключ зарегистрированным fetcher'ом и
// применяет результат через Write. Ошибка загрузки не трогает значение.
func (c *Cache) Refetch(ctx context.Context, key Key) error {
	c.mu.Lock()
	q, ok := c.queries[key]
	c.mu.Unlock()
	if !ok || q.Fetch == nil {
		return ErrNoQuery
	}
	return c.fetch(ctx, q)
}

// Register сохраняет query без подписки (для Refetch)
func (c *Cache) Register(q Query) {
	if q.Fetch == nil {
		return
	}
	c.mu.Lock()
	c.queries[q.Key] = q
	c.mu.Unlock()
}

// Remove удаляет запись; наблюдатели получают nil
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.version++
	version := c.version
	obs := c.observersLocked(key)
	c.mu.Unlock()

	if !ok {
		return
	}
	for _, o := range obs {
		o.deliver(version, nil)
	}
}

// Clear удаляет все записи (выход из сессии). Наблюдатели и query остаются;
// загрузки, начатые до Clear, свои результаты не записывают.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.epoch++
	for _, st := range c.fetching {
		st.again = false
	}
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.Remove(k)
	}
	c.logger.Debug("cache cleared", utils.Count(len(keys)))
}

// Close останавливает фоновые загрузки и ждёт их завершения
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) observersLocked(key Key) []*observer {
	m := c.observers[key]
	if len(m) == 0 {
		return nil
	}
	out := make([]*observer, 0, len(m))
	for _, o := range m {
		if o.fn != nil {
			out = append(out, o)
		}
	}
	return out
}

// markFetchingLocked - true если загрузку нужно запустить; если она уже
// идёт, помечает повтор после завершения
func (c *Cache) markFetchingLocked(key Key) bool {
	if st, ok := c.fetching[key]; ok {
		st.again = true
		return false
	}
	c.fetching[key] = &fetchState{}
	return true
}

func (c *Cache) startFetch(q Query) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			_ = c.fetch(c.ctx, q)

			c.mu.Lock()
			st := c.fetching[q.Key]
			again := st != nil && st.again && c.ctx.Err() == nil
			if again {
				st.again = false
			} else {
				delete(c.fetching, q.Key)
			}
			c.mu.Unlock()

			if !again {
				return
			}
		}
	}()
}

func (c *Cache) fetch(ctx context.Context, q Query) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	start := time.Now()
	fetched, err := q.Fetch(ctx)
	metrics.RecordCacheFetch(q.Key.Prefix(), err)
	if err != nil {
		c.logger.Warn("fetch failed, keeping last value",
			utils.Key(string(q.Key)),
			utils.Err(err),
		)
		return err
	}

	merge := q.Merge
	if merge == nil {
		merge = replace
	}
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("dropping fetch started before clear", utils.Key(string(q.Key)))
		return nil
	}
	c.writeLocked(q.Key, func(prev interface{}, ok bool) interface{} {
		return merge(prev, ok, fetched)
	})
	c.logger.Debug("fetched",
		utils.Key(string(q.Key)),
		utils.Latency(float64(time.Since(start).Microseconds())/1000),
	)
	return nil
}

func replace(_ interface{}, _ bool, fetched interface{}) interface{} {
	return fetched
}

// ============================================================
// Типизированные хелперы
// ============================================================

// ReadAs читает значение как T. ok == false если записи нет или тип другой.
func ReadAs[T any](c *Cache, key Key) (T, bool) {
	v, ok := c.Read(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Update - типизированный Write. Значение другого типа трактуется как отсутствующее.
func Update[T any](c *Cache, key Key, fn func(prev T, ok bool) T) T {
	return c.Write(key, func(prev interface{}, ok bool) interface{} {
		p, typed := prev.(T)
		return fn(p, ok && typed)
	}).(T)
}

// PatchAs - типизированный Patch
func PatchAs[T any](c *Cache, key Key, fn func(prev T) T) (T, bool) {
	v, ok := c.Patch(key, func(prev interface{}) interface{} {
		p, _ := prev.(T)
		return fn(p)
	})
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// WatchAs - типизированный Watch; nil (удаление) приходит как нулевое значение T
func WatchAs[T any](c *Cache, key Key, fn func(T)) (cancel func()) {
	return c.Watch(key, func(v interface{}) {
		t, _ := v.(T)
		fn(t)
	})
}
