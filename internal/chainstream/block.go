package chainstream

import (
	"encoding/json"
	"fmt"
)

// Extrinsic is a decoded extrinsic of a finalized block.
type Extrinsic struct {
	Index   int             `json:"index"`
	Section string          `json:"section"`
	Method  string          `json:"method"`
	Signer  string          `json:"signer,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Is reports whether the extrinsic calls section.method.
func (x Extrinsic) Is(section, method string) bool {
	return x.Section == section && x.Method == method
}

// Event is a decoded runtime event. ExtrinsicIndex is nil for events that
// were not emitted while applying an extrinsic.
type Event struct {
	Index          int             `json:"index"`
	ExtrinsicIndex *int            `json:"extrinsicIndex,omitempty"`
	Section        string          `json:"section"`
	Method         string          `json:"method"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Is reports whether the event is section.method.
func (e Event) Is(section, method string) bool {
	return e.Section == section && e.Method == method
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s.%s has no data", e.Section, e.Method)
	}
	return json.Unmarshal(e.Data, v)
}

// Block is a finalized block of one chain.
type Block struct {
	ChainID    string      `json:"chainId"`
	Number     uint64      `json:"number"`
	Hash       string      `json:"hash"`
	ParentHash string      `json:"parentHash,omitempty"`
	Extrinsics []Extrinsic `json:"extrinsics"`
	Events     []Event     `json:"events"`
}

// ExtrinsicID formats the "<block>-<index>" reference of an extrinsic.
func (b Block) ExtrinsicID(index int) string {
	return fmt.Sprintf("%d-%d", b.Number, index)
}

// ExtrinsicOf returns the extrinsic that emitted ev, if any.
func (b Block) ExtrinsicOf(ev Event) (Extrinsic, bool) {
	if ev.ExtrinsicIndex == nil {
		return Extrinsic{}, false
	}

	for _, x := range b.Extrinsics {
		if x.Index == *ev.ExtrinsicIndex {
			return x, true
		}
	}
	return Extrinsic{}, false
}

// BlockEvent is one item of a source stream: a block or the error that ended the stream.
type BlockEvent struct {
	Block Block
	Err   error
}
