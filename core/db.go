package core

// DBOrdering is a single ORDER BY term. Storage implementations must validate
// Field against their own column set before use; it may carry client input.
type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
