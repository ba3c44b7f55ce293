package domain

// Direction of a decision.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

// Action of a trade proposal.
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionFlat  Action = "flat"
)

// TradeProposal is the actionable part of a Decision.
type TradeProposal struct {
	Action     Action   `json:"action"`
	Weight     float64  `json:"weight"`
	MaxHold    string   `json:"max_hold"` // "90m", "2h", "3600"
	KillSwitch []string `json:"kill_switch"`
}

// Decision is the oracle's verdict for one symbol. Ephemeral: never persisted.
type Decision struct {
	Symbol        string        `json:"symbol"`
	Contract      string        `json:"contract,omitempty"`
	EventTypes    []string      `json:"event_type"`
	Direction     Direction     `json:"direction"`
	Confidence    float64       `json:"confidence"`
	Magnitude     float64       `json:"magnitude"`
	TradeProposal TradeProposal `json:"trade_proposal"`
}

// IsBearish reports whether the decision turns against a long position:
// direction down, or a flat or short proposal.
func (d *Decision) IsBearish() bool {
	return d.Direction == DirectionDown ||
		d.TradeProposal.Action == ActionShort ||
		d.TradeProposal.Action == ActionFlat
}
