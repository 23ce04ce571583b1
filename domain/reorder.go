package domain

// Reorder moves column id to newPosition and returns every column whose
// position changed, carrying its new position. Columns in between shift by one
// toward the vacated slot, so positions stay a dense 0..N-1 permutation.
// newPosition past the end is clamped to the last slot.
func Reorder(columns []Column, id string, newPosition int) []Column {
	from := -1
	for _, c := range columns {
		if c.ID == id {
			from = c.Position
			break
		}
	}
	if from < 0 {
		return nil
	}
	to := newPosition
	if last := len(columns) - 1; to > last {
		to = last
	}
	if to < 0 {
		to = 0
	}
	if from == to {
		return nil
	}

	var moved []Column
	for _, c := range columns {
		switch {
		case c.ID == id:
			c.Position = to
		case from < to && c.Position > from && c.Position <= to:
			c.Position--
		case from > to && c.Position >= to && c.Position < from:
			c.Position++
		default:
			continue
		}
		moved = append(moved, c)
	}
	return moved
}

// NextPosition is the slot a new column is appended at.
func NextPosition(columns []Column) int {
	next := 0
	for _, c := range columns {
		if c.Position >= next {
			next = c.Position + 1
		}
	}
	return next
}

// Compact returns the columns after a deleted slot, each moved one earlier.
// The deleted column itself must already be excluded from columns.
func Compact(columns []Column, deletedPosition int) []Column {
	var moved []Column
	for _, c := range columns {
		if c.Position > deletedPosition {
			c.Position--
			moved = append(moved, c)
		}
	}
	return moved
}
