// Package cache keeps the authoritative in-memory view of currencies,
// instruments, accounts, orders and positions, with optional write-behind to
// a durable Database.
package cache

import (
	"context"
	"strings"
)

// RecordKind tags persisted records.
type RecordKind uint8

const (
	_record_kind_beg RecordKind = iota
	RecordCurrency
	RecordInstrument
	RecordAccount
	RecordOrder
	RecordPosition
	RecordGeneral
	_record_kind_end
)

func (k RecordKind) IsAvailable() bool {
	return k > _record_kind_beg && k < _record_kind_end
}

var recordKindNames = [...]string{
	RecordCurrency:   "currency",
	RecordInstrument: "instrument",
	RecordAccount:    "account",
	RecordOrder:      "order",
	RecordPosition:   "position",
	RecordGeneral:    "general",
}

func (k RecordKind) String() string {
	if !k.IsAvailable() {
		return "unknown"
	}
	return recordKindNames[k]
}

// ParseRecordKind is the inverse of String.
func ParseRecordKind(s string) (RecordKind, bool) {
	for k := _record_kind_beg + 1; k < _record_kind_end; k++ {
		if strings.EqualFold(recordKindNames[k], s) {
			return k, true
		}
	}
	return _record_kind_beg, false
}

// RecordKinds lists every kind in load order. Orders load after instruments
// so indexes can resolve them.
func RecordKinds() []RecordKind {
	return []RecordKind{RecordCurrency, RecordInstrument, RecordAccount, RecordOrder, RecordPosition, RecordGeneral}
}

// Record is one persisted entity. Value is JSON; Delete removes the key.
type Record struct {
	Kind   RecordKind
	Key    string
	Value  []byte
	Delete bool
}

// Database is a durable backing. Writes are applied in order, each call
// atomically.
type Database interface {
	Load(ctx context.Context, kind RecordKind) ([]Record, error)
	Write(ctx context.Context, records []Record) error
	Close() error
}
