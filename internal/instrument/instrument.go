// Package instrument describes the tracked token mints.
package instrument

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Solana public keys are 32 bytes.
const addressLen = 32

var (
	// ErrInvalidAddress marks an address that is not a base58 encoded 32 byte key.
	ErrInvalidAddress = errors.New("instrument: invalid address")
	// ErrDuplicate marks a repeated name or address in a set.
	ErrDuplicate = errors.New("instrument: duplicate")
)

// Instrument is one tracked token, identified by its mint address.
type Instrument struct {
	Name    string `mapstructure:"name" json:"name"`
	Address string `mapstructure:"address" json:"address"`
}

func (i Instrument) String() string {
	return i.Name
}

// Validate checks the descriptor is usable.
func (i Instrument) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: empty name for %q", ErrInvalidAddress, i.Address)
	}
	raw, err := base58.Decode(i.Address)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAddress, i.Name, err)
	}
	if len(raw) != addressLen {
		return fmt.Errorf("%w: %s decodes to %d bytes", ErrInvalidAddress, i.Name, len(raw))
	}
	return nil
}

// Set is an ordered, immutable list of instruments.
type Set struct {
	items  []Instrument
	byName map[string]Instrument
	byAddr map[string]Instrument
}

// NewSet validates the descriptors and indexes them by name and address.
func NewSet(items []Instrument) (*Set, error) {
	if len(items) == 0 {
		return nil, errors.New("instrument: at least one instrument is required")
	}

	s := &Set{
		items:  make([]Instrument, 0, len(items)),
		byName: make(map[string]Instrument, len(items)),
		byAddr: make(map[string]Instrument, len(items)),
	}
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(it.Name)
		if _, ok := s.byName[key]; ok {
			return nil, fmt.Errorf("%w name %q", ErrDuplicate, it.Name)
		}
		if _, ok := s.byAddr[it.Address]; ok {
			return nil, fmt.Errorf("%w address %q", ErrDuplicate, it.Address)
		}
		s.items = append(s.items, it)
		s.byName[key] = it
		s.byAddr[it.Address] = it
	}
	return s, nil
}

// All returns a copy of the instruments in configured order.
func (s *Set) All() []Instrument {
	out := make([]Instrument, len(s.items))
	copy(out, s.items)
	return out
}

// Addresses returns the mint addresses in configured order.
func (s *Set) Addresses() []string {
	out := make([]string, len(s.items))
	for i, it := range s.items {
		out[i] = it.Address
	}
	return out
}

// Len reports the number of instruments.
func (s *Set) Len() int {
	return len(s.items)
}

// Lookup resolves a case-insensitive name or an exact address.
func (s *Set) Lookup(key string) (Instrument, bool) {
	if it, ok := s.byName[strings.ToLower(key)]; ok {
		return it, true
	}
	it, ok := s.byAddr[key]
	return it, ok
}

// Contains reports whether the address belongs to the set.
func (s *Set) Contains(address string) bool {
	_, ok := s.byAddr[address]
	return ok
}
