// Package id provides TypeID identifiers for ledger records.
//
// IDs render as "prefix_suffix" and sort by creation time.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of record an ID belongs to.
type Prefix string

const (
	PrefixTransaction Prefix = "ctxn"
	PrefixCharge      Prefix = "chg"
)

// ID wraps a TypeID. The zero value is Nil and renders as "".
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero ID.
var Nil ID

type (
	// TransactionID identifies a ledger transaction.
	TransactionID = ID
	// ChargeID groups the deduct and optional refund of one charged unit of work.
	ChargeID = ID
)

// New generates an ID with the given prefix. It panics on a malformed
// prefix, which only happens with a bad constant.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

func NewTransactionID() TransactionID { return New(PrefixTransaction) }
func NewChargeID() ChargeID           { return New(PrefixCharge) }

// Parse accepts any prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and rejects IDs of another kind.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != expected {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, expected)
	}
	return parsed, nil
}

func ParseTransactionID(s string) (TransactionID, error) {
	return ParseWithPrefix(s, PrefixTransaction)
}

func ParseChargeID(s string) (ChargeID, error) {
	return ParseWithPrefix(s, PrefixCharge)
}

func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
