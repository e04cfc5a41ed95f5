package livesync

import (
	"context"
	"fmt"
	"sync"

	"finsight/internal/cache"
	"finsight/internal/metrics"
	"finsight/internal/models"
	"finsight/internal/stream"
	"finsight/pkg/utils"
)

// Notifications - список уведомлений пользователя.
//
// Три источника пишут в одну запись кэша: REST снимок (Refresh и фоновые
// загрузки), push из live-потока и оптимистичное "прочитать всё".
// Все они проходят через cache.Write, поэтому порядок применения
// определяется порядком прихода в кэш.
type Notifications struct {
	cache  *cache.Cache
	api    NotificationAPI
	slot   *stream.Slot
	query  cache.Query
	logger *utils.Logger

	markMu sync.Mutex // MarkAllRead выполняются по одному

	mu     sync.Mutex
	handle *stream.Handle

	pushMu      sync.Mutex
	pushSeq     uint64           // растёт с каждым push
	pushed      map[int64]uint64 // id -> pushSeq на момент push
	mergedSince uint64           // начало последнего применённого снимка

	stopGauge func()
}

// NewNotifications создаёт список; live-поток открывается через Connect
func NewNotifications(c *cache.Cache, api NotificationAPI, dialer stream.Dialer, cfg StreamConfig) *Notifications {
	n := &Notifications{
		cache:  c,
		api:    api,
		logger: utils.OrGlobal(cfg.Logger).WithComponent("notifications"),
		pushed: make(map[int64]uint64),
	}
	n.query = cache.Query{
		Key: NotificationsKey,
		Fetch: func(ctx context.Context) (interface{}, error) {
			since := n.fetchStarted()
			list, err := api.GetNotifications(ctx)
			if err != nil {
				return nil, err
			}
			return snapshot{list: list, since: since}, nil
		},
		Merge: func(prev interface{}, ok bool, fetched interface{}) interface{} {
			old, _ := prev.([]models.Notification)
			return n.mergeSnapshot(old, ok, fetched.(snapshot))
		},
	}
	c.Register(n.query)

	sc := cfg.slotConfig("notifications")
	sc.Decoder = func(data []byte) (interface{}, error) {
		return models.DecodeNotification(data)
	}
	sc.OnMessage = func(_ stream.Key, msg interface{}) {
		n.applyPush(msg.(models.Notification))
	}
	sc.OnState = n.onState
	n.slot = stream.NewSlot(dialer, sc)

	n.stopGauge = cache.WatchAs(c, NotificationsKey, func(list []models.Notification) {
		metrics.UnreadNotifications.Set(float64(models.CountUnread(list)))
	})
	return n
}

// Refresh загружает список с сервера и сливает его с локальным
func (n *Notifications) Refresh(ctx context.Context) error {
	return n.cache.Refetch(ctx, NotificationsKey)
}

// HandlePush применяет уведомление, пришедшее вне live-потока
func (n *Notifications) HandlePush(item models.Notification) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	n.applyPush(item)
	return nil
}

func (n *Notifications) applyPush(item models.Notification) {
	n.pushMu.Lock()
	n.pushSeq++
	n.pushed[item.ID] = n.pushSeq
	n.pushMu.Unlock()

	created := false
	cache.Update(n.cache, NotificationsKey, func(prev []models.Notification, ok bool) []models.Notification {
		created = !ok
		return MergePush(prev, item)
	})
	if created {
		// push пришёл раньше первой загрузки - список неполный
		n.cache.Invalidate(NotificationsKey)
	}
	n.logger.Debug("notification pushed", utils.NotificationID(item.ID))
}

// MarkAllRead помечает все уведомления прочитанными.
//
// Локальный список меняется сразу; если сервер отказал - ровно те
// уведомления, что были непрочитаны в момент вызова, возвращаются в
// непрочитанные (пришедшие за это время не трогаются), и ошибка
// возвращается вызывающему.
func (n *Notifications) MarkAllRead(ctx context.Context) error {
	n.markMu.Lock()
	defer n.markMu.Unlock()

	snapshot := make(map[int64]struct{})
	cache.PatchAs(n.cache, NotificationsKey, func(prev []models.Notification) []models.Notification {
		next := make([]models.Notification, len(prev))
		for i, item := range prev {
			if !item.Read {
				snapshot[item.ID] = struct{}{}
				item.Read = true
			}
			next[i] = item
		}
		return next
	})

	err := n.api.MarkAllNotificationsRead(ctx)
	if err == nil {
		n.logger.Debug("marked all as read", utils.Count(len(snapshot)))
		return nil
	}

	if len(snapshot) > 0 {
		cache.PatchAs(n.cache, NotificationsKey, func(prev []models.Notification) []models.Notification {
			return rollbackRead(prev, snapshot)
		})
		metrics.RecordRollback("mark_all_read")
	}
	n.logger.Warn("mark all as read failed, rolled back",
		utils.Count(len(snapshot)),
		utils.Err(err),
	)
	return err
}

// DeleteAlert удаляет алерт на сервере и его уведомления локально
func (n *Notifications) DeleteAlert(ctx context.Context, alertID int64) error {
	if err := n.api.DeleteAlert(ctx, alertID); err != nil {
		return err
	}
	cache.PatchAs(n.cache, NotificationsKey, func(prev []models.Notification) []models.Notification {
		next := make([]models.Notification, 0, len(prev))
		for _, item := range prev {
			if !item.BelongsToAlert(alertID) {
				next = append(next, item)
			}
		}
		return next
	})
	n.cache.Invalidate(NotificationsKey)
	n.logger.Info("alert deleted", utils.AlertID(alertID))
	return nil
}

// List - текущий список, новые первыми
func (n *Notifications) List() []models.Notification {
	list, _ := cache.ReadAs[[]models.Notification](n.cache, NotificationsKey)
	return list
}

// UnreadCount - количество непрочитанных
func (n *Notifications) UnreadCount() int {
	return models.CountUnread(n.List())
}

// Watch подписывает fn на изменения списка; пока подписка активна,
// Invalidate приводит к фоновой загрузке
func (n *Notifications) Watch(fn func([]models.Notification)) (cancel func()) {
	return n.cache.Observe(n.query, func(v interface{}) {
		list, _ := v.([]models.Notification)
		fn(list)
	})
}

// Connect открывает live-поток уведомлений сессии
func (n *Notifications) Connect(token string) error {
	h, err := n.slot.Subscribe(stream.NotificationsKey(token))
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.handle = h
	n.mu.Unlock()
	return nil
}

// Disconnect закрывает live-поток
func (n *Notifications) Disconnect() {
	n.mu.Lock()
	h := n.handle
	n.handle = nil
	n.mu.Unlock()
	n.slot.Unsubscribe(h)
}

// Reconnect - ручное переподключение после error
func (n *Notifications) Reconnect() error {
	h, err := n.slot.Reconnect()
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.handle = h
	n.mu.Unlock()
	return nil
}

// Status - состояние live-потока
func (n *Notifications) Status() stream.State {
	return n.slot.State()
}

// Close закрывает слот
func (n *Notifications) Close() {
	n.slot.Close()
	n.stopGauge()
}

// onState вызывается слотом под его блокировкой доставки
func (n *Notifications) onState(key stream.Key, st stream.State) {
	n.logger.Debug("stream state", utils.Key(key.String()), utils.State(st.String()))
	if st == stream.StateOpen {
		// пока соединения не было, push могли потеряться
		n.cache.Invalidate(NotificationsKey)
	}
}

// snapshot - ответ GET /api/notifications и pushSeq на момент запроса
type snapshot struct {
	list  []models.Notification
	since uint64
}

func (n *Notifications) fetchStarted() uint64 {
	n.pushMu.Lock()
	defer n.pushMu.Unlock()
	return n.pushSeq
}

// mergeSnapshot вызывается кэшем под его блокировкой записи.
// Снимок, запрошенный раньше уже применённого, отбрасывается.
func (n *Notifications) mergeSnapshot(local []models.Notification, ok bool, snap snapshot) []models.Notification {
	n.pushMu.Lock()
	defer n.pushMu.Unlock()

	if ok && snap.since < n.mergedSince {
		n.logger.Debug("dropping outdated snapshot", utils.Count(len(snap.list)))
		return local
	}
	n.mergedSince = snap.since

	pushedDuring := make(map[int64]struct{})
	for id, seq := range n.pushed {
		if seq > snap.since {
			pushedDuring[id] = struct{}{}
		} else {
			// снимок уже авторитетен для этого push
			delete(n.pushed, id)
		}
	}
	return MergeFetched(local, snap.list, pushedDuring)
}

// ============================================================
// Правила слияния
// ============================================================

// MergePush добавляет уведомление в начало списка. Повтор по id заменяет
// прежнюю запись; признак read при этом не сбрасывается.
func MergePush(list []models.Notification, item models.Notification) []models.Notification {
	next := make([]models.Notification, 0, len(list)+1)
	for _, cur := range list {
		if cur.ID == item.ID {
			item.Read = item.Read || cur.Read
			continue
		}
		next = append(next, cur)
	}
	next = append(next, item)
	models.SortNewestFirst(next)
	return next
}

// MergeFetched сводит снимок сервера с локальным списком.
//
// Снимок авторитетен: локальные записи, которых в нём нет, удаляются,
// кроме перечисленных в pushedDuring (пришли push'ем во время загрузки).
// Прочитанное локально остаётся прочитанным.
func MergeFetched(local, fetched []models.Notification, pushedDuring map[int64]struct{}) []models.Notification {
	readLocal := make(map[int64]bool, len(local))
	for _, l := range local {
		readLocal[l.ID] = l.Read
	}

	next := make([]models.Notification, 0, len(fetched)+1)
	seen := make(map[int64]struct{}, len(fetched))
	for _, f := range fetched {
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		if readLocal[f.ID] {
			f.Read = true
		}
		next = append(next, f)
	}
	for _, l := range local {
		if _, ok := seen[l.ID]; ok {
			continue
		}
		if _, ok := pushedDuring[l.ID]; ok {
			next = append(next, l)
		}
	}
	models.SortNewestFirst(next)
	return next
}

// rollbackRead возвращает read=false уведомлениям из snapshot
func rollbackRead(list []models.Notification, snapshot map[int64]struct{}) []models.Notification {
	next := make([]models.Notification, len(list))
	for i, item := range list {
		if _, ok := snapshot[item.ID]; ok {
			item.Read = false
		}
		next[i] = item
	}
	return next
}
