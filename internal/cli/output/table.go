package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by types that can render themselves as a table.
type TableRenderer interface {
	// Headers returns the column headers for the table.
	Headers() []string
	// Rows returns the data rows for the table.
	Rows() [][]string
}

// PrintTable writes data as a formatted table to the writer.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader(data.Headers())

	// Configure table style for clean output
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range data.Rows() {
		table.Append(row)
	}

	table.Render()
	return nil
}

// KeyValueTable renders two-column key/value output, used by status.
type KeyValueTable struct {
	rows [][]string
}

// Add appends a key/value row.
func (t *KeyValueTable) Add(key, value string) {
	t.rows = append(t.rows, []string{key, value})
}

// Headers implements TableRenderer.
func (t *KeyValueTable) Headers() []string {
	return []string{"Field", "Value"}
}

// Rows implements TableRenderer.
func (t *KeyValueTable) Rows() [][]string {
	return t.rows
}
