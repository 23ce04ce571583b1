package domain

// Op identifies a row-level write.
type Op int

const (
	OpPutMeta Op = iota + 1
	OpPutColumn
	OpDeleteColumn
	OpPutCard
	OpDeleteCard
)

func (o Op) String() string {
	switch o {
	case OpPutMeta:
		return "put-meta"
	case OpPutColumn:
		return "put-column"
	case OpDeleteColumn:
		return "delete-column"
	case OpPutCard:
		return "put-card"
	case OpDeleteCard:
		return "delete-card"
	default:
		return "unknown"
	}
}

// Change is one row write produced by a mutation handler. A store commits a
// slice of changes atomically.
type Change struct {
	Op     Op
	ID     string
	Meta   *RoomMeta
	Column *Column
	Card   *Card
}

func PutMeta(m RoomMeta) Change     { return Change{Op: OpPutMeta, ID: m.ID, Meta: &m} }
func PutColumn(c Column) Change     { return Change{Op: OpPutColumn, ID: c.ID, Column: &c} }
func RemoveColumn(id string) Change { return Change{Op: OpDeleteColumn, ID: id} }
func PutCard(c Card) Change         { return Change{Op: OpPutCard, ID: c.ID, Card: &c} }
func RemoveCard(id string) Change   { return Change{Op: OpDeleteCard, ID: id} }
