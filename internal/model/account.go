package model

import "tradecore/internal/model/enum"

// AccountBalance is one currency line of an account.
type AccountBalance struct {
	Total  Money `json:"total"`
	Locked Money `json:"locked"`
	Free   Money `json:"free"`
}

// Account is the venue account state as last reported.
type Account struct {
	ID           AccountID        `json:"id"`
	Type         enum.AccountType `json:"type"`
	BaseCurrency string           `json:"base_currency,omitempty"`
	Balances     []AccountBalance `json:"balances"`
	TsLast       int64            `json:"ts_last"`
}

// Balance returns the line for a currency code.
func (a *Account) Balance(code string) (AccountBalance, bool) {
	for _, b := range a.Balances {
		if b.Total.Currency.Code == code {
			return b, true
		}
	}
	return AccountBalance{}, false
}
