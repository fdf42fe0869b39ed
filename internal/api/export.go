package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/HakAl/tokenwatch/internal/store"
)

// ExportFormat represents supported export formats.
type ExportFormat string

const (
	FormatNDJSON ExportFormat = "ndjson"
	FormatJSON   ExportFormat = "json"
	FormatCSV    ExportFormat = "csv"
)

// ParseExportFormat validates a format string, defaulting to CSV.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch s {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "ndjson":
		return FormatNDJSON, nil
	}
	return "", fmt.Errorf("unknown export format: %s", s)
}

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatNDJSON:
		return "application/x-ndjson"
	default:
		return "text/csv"
	}
}

// FileExtension returns the file extension for downloads.
func (f ExportFormat) FileExtension() string {
	return string(f)
}

// ExportCalls writes call records to w in the given format. The CLI
// export command and the /api/export endpoint share this path.
func ExportCalls(w io.Writer, format ExportFormat, calls []*store.Call) error {
	switch format {
	case FormatJSON:
		return exportJSON(w, calls)
	case FormatNDJSON:
		return exportNDJSON(w, calls)
	default:
		return exportCSV(w, calls)
	}
}

func exportCSV(w io.Writer, calls []*store.Call) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"id", "timestamp", "provider", "model",
		"input_tokens", "output_tokens", "cost", "project", "tags",
	}); err != nil {
		return err
	}

	for _, c := range calls {
		tags, err := json.Marshal(c.Tags)
		if err != nil {
			return err
		}
		record := []string{
			c.ID,
			c.Timestamp.Format(time.RFC3339),
			c.Provider,
			c.Model,
			strconv.Itoa(c.InputTokens),
			strconv.Itoa(c.OutputTokens),
			strconv.FormatFloat(c.Cost, 'f', -1, 64),
			c.Project,
			string(tags),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func exportJSON(w io.Writer, calls []*store.Call) error {
	records := make([]CallResponse, len(calls))
	for i, c := range calls {
		records[i] = toCallResponse(c)
	}

	response := map[string]any{
		"calls": records,
		"meta": map[string]any{
			"row_count":   len(records),
			"exported_at": time.Now().UTC().Format(time.RFC3339),
		},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(response)
}

func exportNDJSON(w io.Writer, calls []*store.Call) error {
	enc := json.NewEncoder(w)
	for _, c := range calls {
		if err := enc.Encode(toCallResponse(c)); err != nil {
			return err
		}
	}
	return nil
}

// exportCalls streams call records as a download.
func (s *Server) exportCalls(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filter := store.CallFilter{}
	if v := r.URL.Query().Get("provider"); v != "" {
		filter.Provider = &v
	}
	if v := r.URL.Query().Get("project"); v != "" {
		filter.Project = &v
	}
	if v := r.URL.Query().Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = &t
		}
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndTime = &t
		}
	}

	calls, err := s.store.ListCalls(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list calls for export", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	filename := "tokenwatch-export-" + time.Now().UTC().Format("20060102-150405") + "." + format.FileExtension()
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if err := ExportCalls(w, format, calls); err != nil {
		s.logger.Error("export failed", "format", format, "error", err)
	}
}
