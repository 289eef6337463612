package subscription

import (
	"bytes"
	"encoding/json"
	"reflect"
	"slices"

	"github.com/gabapcia/xcmwatch/internal/pkg/types"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

const wildcard = "*"

var (
	jsonSendersType = reflect.TypeOf(Senders{})
	jsonEventsType  = reflect.TypeOf(EventFilter{})
)

// Senders is either the wildcard "*" or a list of signer addresses.
type Senders struct {
	All       bool
	Addresses []string
}

// AnySender matches every signer.
func AnySender() Senders {
	return Senders{All: true}
}

// SendersOf matches the given signers only.
func SendersOf(addresses ...string) Senders {
	return Senders{Addresses: addresses}
}

// Set returns the addresses as a set.
func (s Senders) Set() types.Set[string] {
	return types.NewSet(s.Addresses...)
}

func (s Senders) MarshalJSON() ([]byte, error) {
	if s.All {
		return json.Marshal(wildcard)
	}
	if s.Addresses == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Addresses)
}

func (s *Senders) UnmarshalJSON(data []byte) error {
	*s = Senders{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var w string
	if err := json.Unmarshal(data, &w); err == nil {
		if w != wildcard {
			return &json.UnmarshalTypeError{Value: "string " + w, Type: jsonSendersType}
		}
		s.All = true
		return nil
	}

	return json.Unmarshal(data, &s.Addresses)
}

// EventFilter is either the wildcard "*" or a subset of message types.
// The zero value admits everything.
type EventFilter struct {
	Types []xcm.MessageType
}

// AllEvents admits every message type.
func AllEvents() EventFilter {
	return EventFilter{}
}

// EventsOf admits only the given types.
func EventsOf(mt ...xcm.MessageType) EventFilter {
	return EventFilter{Types: mt}
}

// Allows reports whether t passes the filter.
func (f EventFilter) Allows(t xcm.MessageType) bool {
	return len(f.Types) == 0 || slices.Contains(f.Types, t)
}

func (f EventFilter) valid() bool {
	for _, t := range f.Types {
		if !t.Valid() {
			return false
		}
	}
	return true
}

func (f EventFilter) MarshalJSON() ([]byte, error) {
	if len(f.Types) == 0 {
		return json.Marshal(wildcard)
	}
	return json.Marshal(f.Types)
}

func (f *EventFilter) UnmarshalJSON(data []byte) error {
	*f = EventFilter{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var w string
	if err := json.Unmarshal(data, &w); err == nil {
		if w != wildcard {
			return &json.UnmarshalTypeError{Value: "string " + w, Type: jsonEventsType}
		}
		return nil
	}

	if err := json.Unmarshal(data, &f.Types); err != nil {
		return err
	}
	f.Types = types.Distinct(f.Types)
	return nil
}
