package wherobots

// Results is the decoded tabular outcome of one executed statement.
type Results struct {
	// Columns holds the column names in result order.
	Columns []string

	// Rows holds the row values. Cell types follow JSON decoding: strings,
	// float64 numbers, bools and nulls; geometry cells are encoded per the
	// Geometry representation.
	Rows [][]any

	// Geometry is the representation geometry cells were encoded with.
	Geometry GeometryRepresentation

	// GeoColumns names the columns carrying geometry values.
	GeoColumns []string
}

// Len returns the number of rows.
func (r *Results) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}
