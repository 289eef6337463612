package xcm

// RelayChainID is the chain id of the relay chain every parachain message is routed through.
const RelayChainID = "0"

// IsRelay reports whether chainID is the relay chain.
func IsRelay(chainID string) bool {
	return chainID == RelayChainID
}

// Leg is one hop of a message path.
type Leg struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ConstructLegs expands the path of a message from origin to destination.
// Parachain to parachain transfers hop through the relay chain; a transfer
// that starts or ends at the relay chain is a single leg.
func ConstructLegs(origin, destination string) []Leg {
	if IsRelay(origin) || IsRelay(destination) {
		return []Leg{{From: origin, To: destination}}
	}

	return []Leg{
		{From: origin, To: RelayChainID},
		{From: RelayChainID, To: destination},
	}
}

// RelayLegIndex returns the index of the leg that leaves relayOrigin towards
// the relay chain, or -1 if the path has no such leg.
func RelayLegIndex(legs []Leg, relayOrigin string) int {
	for i, leg := range legs {
		if leg.From == relayOrigin && IsRelay(leg.To) {
			return i
		}
	}
	return -1
}
