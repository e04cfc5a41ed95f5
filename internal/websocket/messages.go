package websocket

import (
	"bytes"
	"strconv"
	"strings"
	"sync"

	"finsight/internal/models"
)

// Топики рассылки
const (
	priceTopicPrefix = "price:"
	userTopicPrefix  = "user:"
)

// PriceTopic - тики тикера
func PriceTopic(ticker string) string {
	return priceTopicPrefix + ticker
}

// UserTopic - уведомления пользователя
func UserTopic(userID int64) string {
	return userTopicPrefix + strconv.FormatInt(userID, 10)
}

// TickerFromTopic - тикер ценового топика
func TickerFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, priceTopicPrefix) {
		return "", false
	}
	t := strings.TrimPrefix(topic, priceTopicPrefix)
	return t, t != ""
}

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// encodeFrame сериализует сообщение в отдельный кадр.
// Клиент ожидает ровно один JSON объект на кадр.
func encodeFrame(message interface{}) ([]byte, error) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := models.JSON.NewEncoder(buf).Encode(message); err != nil {
		return nil, err
	}

	// Убираем trailing newline от Encode
	data := bytes.TrimRight(buf.Bytes(), "\n")

	// Копируем данные (буфер вернётся в пул)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
