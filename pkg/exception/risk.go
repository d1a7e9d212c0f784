package exception

import "errors"

var (
	ErrRiskKillSwitch    = errors.New("risk: trading halted")
	ErrRiskMaxQty        = errors.New("risk: order quantity above limit")
	ErrRiskMaxNotional   = errors.New("risk: order notional above limit")
	ErrRiskPositionLimit = errors.New("risk: position limit exceeded")
	ErrRiskPriceBand     = errors.New("risk: price outside band")
	ErrRiskRateLimit     = errors.New("risk: order rate above limit")
	ErrRiskReduceOnly    = errors.New("risk: reduce only order would increase position")
	ErrRiskUnknownInst   = errors.New("risk: unknown instrument")
	ErrRiskNilCache      = errors.New("risk: nil cache")
)
