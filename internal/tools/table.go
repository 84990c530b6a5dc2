package tools

import (
	"context"
	"errors"
	"fmt"
)

// TableInput is the generate_table tool input.
type TableInput struct {
	Title   string     `json:"title,omitempty" jsonschema:"description=Optional caption for the table"`
	Headers []string   `json:"headers" jsonschema:"description=Column headers, left to right"`
	Rows    [][]string `json:"rows" jsonschema:"description=Data rows; every row must have one cell per header"`
}

// TableOutput is the validated table payload returned to the model and
// surfaced to clients for structured rendering.
type TableOutput struct {
	Title    string     `json:"title,omitempty"`
	Headers  []string   `json:"headers"`
	Rows     [][]string `json:"rows"`
	RowCount int        `json:"row_count"`
}

const (
	maxTableColumns = 20
	maxTableRows    = 100
)

// GenerateTable validates the model's table request and echoes it back as a
// well-formed payload. The value of the tool is the validation: a ragged or
// oversized table comes back as a tool error the model can correct, and a
// clean one reaches the client with a fixed shape.
func GenerateTable(_ context.Context, in TableInput) (TableOutput, error) {
	if len(in.Headers) == 0 {
		return TableOutput{}, errors.New("headers are required")
	}
	if len(in.Headers) > maxTableColumns {
		return TableOutput{}, fmt.Errorf("too many columns: %d (max %d)", len(in.Headers), maxTableColumns)
	}
	if len(in.Rows) > maxTableRows {
		return TableOutput{}, fmt.Errorf("too many rows: %d (max %d)", len(in.Rows), maxTableRows)
	}
	for i, row := range in.Rows {
		if len(row) != len(in.Headers) {
			return TableOutput{}, fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(in.Headers))
		}
	}

	rows := in.Rows
	if rows == nil {
		rows = [][]string{}
	}
	return TableOutput{
		Title:    in.Title,
		Headers:  in.Headers,
		Rows:     rows,
		RowCount: len(rows),
	}, nil
}
