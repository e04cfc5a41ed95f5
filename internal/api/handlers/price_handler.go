package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"finsight/internal/service"
	"finsight/pkg/utils"
)

// PriceHandler - последняя котировка тикера
//
// Endpoints:
// - GET /api/price/{ticker}
type PriceHandler struct {
	priceService service.PriceServiceInterface
}

// NewPriceHandler создает новый PriceHandler с внедрением зависимости
func NewPriceHandler(priceService service.PriceServiceInterface) *PriceHandler {
	return &PriceHandler{priceService: priceService}
}

// GetPrice возвращает котировку
//
// HTTP коды:
// - 200 OK: котировка
// - 400 Bad Request: некорректный тикер
// - 404 Not Found: котировки нет
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	quote, err := h.priceService.GetQuote(ticker)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrInvalidTicker), errors.Is(err, utils.ErrEmptyTicker):
			respondWithError(w, http.StatusBadRequest, "Invalid ticker")
		case errors.Is(err, service.ErrQuoteNotFound):
			respondWithError(w, http.StatusNotFound, "No price data for "+utils.NormalizeTicker(ticker))
		default:
			respondWithError(w, http.StatusInternalServerError, "Failed to get price")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, quote)
}
