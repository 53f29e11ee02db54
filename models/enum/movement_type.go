package enum

// MovementType classifies an entry in the stock movement ledger.
type MovementType string

const (
	MovementTypeInbound    MovementType = "inbound"
	MovementTypeOutbound   MovementType = "outbound"
	MovementTypeAdjustment MovementType = "adjustment"
)
