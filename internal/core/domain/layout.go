package domain

type LayoutTier string

const (
	LayoutCompact     LayoutTier = "compact"
	LayoutTwoColumn   LayoutTier = "two_column"
	LayoutThreeColumn LayoutTier = "three_column"
	LayoutFourColumn  LayoutTier = "four_column"
)

// GridLayout describes the responsive column range of the participant grid.
type GridLayout struct {
	Tier       LayoutTier `json:"tier"`
	MinColumns int        `json:"min_columns"`
	MaxColumns int        `json:"max_columns"`
}

// GridLayoutFor maps a participant count, local user included, to a grid
// layout. Column counts never decrease as the count grows.
func GridLayoutFor(participants int) GridLayout {
	switch {
	case participants <= 2:
		return GridLayout{Tier: LayoutCompact, MinColumns: 1, MaxColumns: 2}
	case participants <= 4:
		return GridLayout{Tier: LayoutTwoColumn, MinColumns: 2, MaxColumns: 2}
	case participants <= 6:
		return GridLayout{Tier: LayoutThreeColumn, MinColumns: 2, MaxColumns: 3}
	default:
		return GridLayout{Tier: LayoutFourColumn, MinColumns: 3, MaxColumns: 4}
	}
}
