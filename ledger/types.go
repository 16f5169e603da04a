package ledger

import "github.com/rustyeddy/breakout/market"

// Role is what a tracked order means to the strategy.
type Role int

const (
	RoleEntryLong Role = iota
	RoleEntryShort
	RoleTakeProfit
	RoleStopLoss
	RoleStopLossAdjusted
)

func (r Role) String() string {
	switch r {
	case RoleEntryLong:
		return "entry_long"
	case RoleEntryShort:
		return "entry_short"
	case RoleTakeProfit:
		return "take_profit"
	case RoleStopLoss:
		return "stop_loss"
	case RoleStopLossAdjusted:
		return "stop_loss_adjusted"
	default:
		return "unknown"
	}
}

// Outcome is the semantic result of reducing a fill.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeEntryLong
	OutcomeEntryShort
	OutcomeExitTakeProfit
	OutcomeExitStopLoss
	OutcomeExitStopLossAdjusted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEntryLong:
		return "entry_long"
	case OutcomeEntryShort:
		return "entry_short"
	case OutcomeExitTakeProfit:
		return "exit_tp"
	case OutcomeExitStopLoss:
		return "exit_sl"
	case OutcomeExitStopLossAdjusted:
		return "exit_sl_adjusted"
	default:
		return "none"
	}
}

func (o Outcome) IsEntry() bool { return o == OutcomeEntryLong || o == OutcomeEntryShort }

func (o Outcome) IsExit() bool {
	return o == OutcomeExitTakeProfit || o == OutcomeExitStopLoss || o == OutcomeExitStopLossAdjusted
}

// Direction of the position an entry outcome opens.
func (o Outcome) Direction() market.Direction {
	switch o {
	case OutcomeEntryLong:
		return market.Long
	case OutcomeEntryShort:
		return market.Short
	default:
		return market.None
	}
}

// Exit reasons recorded on closed trades.
const (
	ReasonTakeProfit         = "TakeProfit"
	ReasonStopLoss           = "StopLoss"
	ReasonStopLossAdjusted   = "BreakevenStop"
	ReasonTimeStop           = "TimeStop"
	ReasonManualIntervention = "ManualIntervention"
)

// Reason maps an exit outcome to its trade reason; empty for entries.
func (o Outcome) Reason() string {
	switch o {
	case OutcomeExitTakeProfit:
		return ReasonTakeProfit
	case OutcomeExitStopLoss:
		return ReasonStopLoss
	case OutcomeExitStopLossAdjusted:
		return ReasonStopLossAdjusted
	default:
		return ""
	}
}

// OrderRecord is the reverse index entry for a live order. It never owns the
// order; it only tells the reducer what a fill means.
type OrderRecord struct {
	OrderID    string
	Instrument string
	Role       Role
	Quantity   float64
}

// OcoEntry is a pair of competing breakout entries. Exit percentages are
// captured when the pair is staged.
type OcoEntry struct {
	Instrument    string
	LongOrderID   string
	ShortOrderID  string
	LongStop      float64
	LongLimit     float64
	ShortStop     float64
	ShortLimit    float64
	LongQuantity  float64
	ShortQuantity float64
	TakeProfitPct float64
	StopLossPct   float64
}

// BracketExit protects an open position.
type BracketExit struct {
	Instrument        string
	TakeProfitOrderID string
	StopLossOrderID   string
	EntryPrice        float64
	Direction         market.Direction
	Quantity          float64
	TakeProfitPrice   float64
	StopLossPrice     float64
	Adjusted          bool
}

// Fill is what ReduceFillEvent hands back to the controller.
type Fill struct {
	Outcome    Outcome
	OrderID    string
	Instrument string
	Price      float64
	Quantity   float64
}
