package market

// Direction of a position or an entry leg.
type Direction int

const (
	None Direction = iota
	Long
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "none"
	}
}

// Sign is +1 for long, -1 for short and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// Opposite returns the other side; None stays None.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return None
	}
}

// DirectionOf derives a direction from a signed share quantity.
func DirectionOf(quantity float64) Direction {
	switch {
	case quantity > 0:
		return Long
	case quantity < 0:
		return Short
	default:
		return None
	}
}
