// Package results decodes the opaque tabular payload carried by an
// execution_result message: decompress, then decode per the payload's format
// tag. The channel and multiplexer layers treat this as a black box.
package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	wberrors "github.com/wherobots/wherobots-sql-go/internal/errors"
	"github.com/wherobots/wherobots-sql-go/internal/protocol"
)

const (
	CompressionBrotli = "brotli"
	FormatJSON        = "json"
)

// Table is the decoded tabular value of one operation.
type Table struct {
	Columns    []string
	Rows       [][]any
	Geometry   string
	GeoColumns []string
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

type jsonTable struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Decode turns a results payload into a Table. Unknown compression or format
// tags are protocol errors: they signal a client/server mismatch, not a
// transient fault.
func Decode(p protocol.ResultsPayload) (*Table, error) {
	raw := p.ResultBytes

	switch p.Compression {
	case "", "none":
	case CompressionBrotli:
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, wberrors.NewProtocolError("failed to decompress result payload", err)
		}
		raw = decompressed
	default:
		return nil, wberrors.NewProtocolError(fmt.Sprintf("unsupported result compression %q", p.Compression), nil)
	}

	switch p.Format {
	case FormatJSON:
		var jt jsonTable
		if err := json.Unmarshal(raw, &jt); err != nil {
			return nil, wberrors.NewProtocolError("failed to decode result payload", err)
		}
		return &Table{
			Columns:    jt.Columns,
			Rows:       jt.Rows,
			Geometry:   p.Geometry,
			GeoColumns: p.GeoColumns,
		}, nil
	default:
		return nil, wberrors.NewProtocolError(fmt.Sprintf("unsupported result format %q", p.Format), nil)
	}
}
