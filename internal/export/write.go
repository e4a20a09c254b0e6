package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/famlink/internal/ir"
)

// Format is an export file format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatJSONL:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (want csv or jsonl)", s)
}

// ContentType returns the MIME type used for uploaded objects.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}

// Write writes links to w in format and returns the number of rows.
func Write(w io.Writer, format Format, links []ir.Link) (int, error) {
	switch format {
	case FormatCSV:
		return writeCSV(w, links)
	case FormatJSONL:
		return writeJSONL(w, links)
	}
	return 0, fmt.Errorf("unknown export format %q", format)
}

func writeCSV(w io.Writer, links []ir.Link) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return 0, err
	}
	for i, l := range links {
		if err := cw.Write(NewRow(l).record()); err != nil {
			return i, err
		}
	}
	cw.Flush()
	return len(links), cw.Error()
}

func writeJSONL(w io.Writer, links []ir.Link) (int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, l := range links {
		if err := enc.Encode(NewRow(l)); err != nil {
			return i, err
		}
	}
	return len(links), nil
}

// Result reports a finished export.
type Result struct {
	Destination    string `json:"destination"`
	Format         Format `json:"format"`
	Rows           int    `json:"rows"`
	SchemaVersion  string `json:"schema_version"`
	ContractFormat string `json:"contract_format"`
}

// Export writes links to dest, a local path or gs://bucket/object. The
// destination is only replaced when every row was written.
func Export(ctx context.Context, links []ir.Link, format Format, dest string) (Result, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return Result{}, err
	}
	w, err := Open(ctx, dest, format.ContentType())
	if err != nil {
		return Result{}, err
	}
	n, err := Write(w, format, links)
	if err != nil {
		return Result{}, errors.Join(fmt.Errorf("export %s: %w", dest, err), w.Abort())
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("export %s: %w", dest, err)
	}
	return Result{
		Destination:    dest,
		Format:         format,
		Rows:           n,
		SchemaVersion:  ir.ExportSchemaVersion,
		ContractFormat: ir.ContractFormat,
	}, nil
}
