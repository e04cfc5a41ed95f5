package models

import (
	"bytes"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"time"

	"finsight/pkg/utils"
)

// ErrInvalidTimestamp - значение времени не распознано
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// форматы без зоны (LocalDateTime бэкенда), трактуются как UTC
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// Timestamp - момент времени из API.
//
// Принимает RFC 3339, ISO без зоны (как UTC) и epoch milliseconds.
// Сериализуется всегда в RFC 3339 с наносекундами.
type Timestamp struct {
	time.Time
}

// NewTimestamp оборачивает time.Time (приводит к UTC)
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// ParseTimestamp разбирает строковое представление
func ParseTimestamp(s string) (Timestamp, error) {
	if s == "" {
		return Timestamp{}, ErrInvalidTimestamp
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewTimestamp(t), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Timestamp{Time: utils.FromUnixMillis(ms)}, nil
	}
	return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// MarshalJSON - RFC 3339; нулевое время как null
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339Nano))), nil
}

// UnmarshalJSON принимает строку, число (epoch ms) или null
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}

	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidTimestamp, data)
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}

	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTimestamp, data)
	}
	*t = Timestamp{Time: utils.FromUnixMillis(ms)}
	return nil
}

// Scan - sql.Scanner (колонки TIMESTAMPTZ)
func (t *Timestamp) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = Timestamp{}
	case time.Time:
		*t = NewTimestamp(v)
	case string:
		parsed, err := ParseTimestamp(v)
		if err != nil {
			return err
		}
		*t = parsed
	case []byte:
		parsed, err := ParseTimestamp(string(v))
		if err != nil {
			return err
		}
		*t = parsed
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidTimestamp, src)
	}
	return nil
}

// Value - driver.Valuer
func (t Timestamp) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.UTC(), nil
}
