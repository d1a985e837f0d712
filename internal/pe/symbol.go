package pe

import (
	"encoding/json"
	"fmt"
)

// Symbol is an imported symbol, referenced either by name or by ordinal.
type Symbol struct {
	ordinalOnly bool
	name        string
	ordinal     uint32
}

// ByName returns a symbol imported by name.
func ByName(name string) Symbol {
	return Symbol{name: name}
}

// ByOrdinal returns a symbol imported by ordinal only.
func ByOrdinal(ordinal uint32) Symbol {
	return Symbol{ordinalOnly: true, ordinal: ordinal}
}

// Name returns the symbol name; ok is false for ordinal imports.
func (s Symbol) Name() (name string, ok bool) {
	return s.name, !s.ordinalOnly
}

// Ordinal returns the ordinal; ok is false for named imports.
func (s Symbol) Ordinal() (ordinal uint32, ok bool) {
	return s.ordinal, s.ordinalOnly
}

// IsOrdinal reports whether the symbol is imported by ordinal.
func (s Symbol) IsOrdinal() bool {
	return s.ordinalOnly
}

func (s Symbol) String() string {
	if s.ordinalOnly {
		return fmt.Sprintf("Ordinal_%d", s.ordinal)
	}
	return s.name
}

// MarshalJSON encodes the symbol as {"name": ...} or {"ordinal": ...}.
func (s Symbol) MarshalJSON() ([]byte, error) {
	if s.ordinalOnly {
		return json.Marshal(struct {
			Ordinal uint32 `json:"ordinal"`
		}{s.ordinal})
	}
	return json.Marshal(struct {
		Name string `json:"name"`
	}{s.name})
}
