package models

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// JSON - общий кодек для REST тел и live-кадров
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedPayload - тело/кадр не разбирается или не проходит проверку
var ErrMalformedPayload = errors.New("malformed payload")

// DecodeNotification разбирает push-кадр уведомления
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	if err := JSON.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := n.Validate(); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return n, nil
}

// DecodeTick разбирает кадр котировки
func DecodeTick(data []byte) (Tick, error) {
	var t Tick
	if err := JSON.Unmarshal(data, &t); err != nil {
		return Tick{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if t.Empty() {
		return Tick{}, fmt.Errorf("%w: tick carries no quote fields", ErrMalformedPayload)
	}
	return t, nil
}
