package stream

import "context"

// Transport - открытое соединение, из которого читаются кадры
type Transport interface {
	// ReadMessage блокируется до следующего кадра; ошибка означает разрыв
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer открывает Transport для ключа
type Dialer interface {
	Dial(ctx context.Context, key Key) (Transport, error)
}

// DialerFunc - адаптер функции к Dialer
type DialerFunc func(ctx context.Context, key Key) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, key Key) (Transport, error) {
	return f(ctx, key)
}

// Decoder превращает кадр в доменное значение
type Decoder func(data []byte) (interface{}, error)

// Handler получает декодированный кадр текущего поколения
type Handler func(key Key, msg interface{})

// StateHandler получает смену состояния текущего поколения
type StateHandler func(key Key, state State)
