package domain

import "errors"

var (
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderRejected      = errors.New("order rejected by gateway")
	ErrGatewayUnavailable = errors.New("market gateway unavailable")

	ErrLotNotFound       = errors.New("lot not found")
	ErrInvalidTransition = errors.New("invalid lot transition")
	ErrLedgerNotEmpty    = errors.New("ledger is not empty")

	ErrBelowMinimum  = errors.New("level allocation below minimum order size")
	ErrGridExhausted = errors.New("grid exhausted")
	ErrInvalidInput  = errors.New("invalid allocation input")
)
