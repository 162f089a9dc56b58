package cabinet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/file-cabinet/internal/dedupe"
	"github.com/zombor/file-cabinet/internal/document"
	"github.com/zombor/file-cabinet/internal/scanning"
)

// maxUploadSize bounds multipart uploads
const maxUploadSize = int64(50 << 20) // 50MB

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes body as JSON with the given status code
func writeJSON(w http.ResponseWriter, code int, body any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes a {"error": message} body
func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// duplicateBody is the 409 response for an exact duplicate
func duplicateBody(v *dedupe.Verdict) map[string]any {
	body := map[string]any{
		"title":   "Exact duplicate",
		"message": exactNotice,
	}
	if v != nil {
		body["reason"] = v.Reason
		body["matches"] = v.Matches
		if len(v.Matches) > 0 {
			body["existing_document_id"] = v.Matches[0].ID
		}
	}
	return body
}

// writeServiceError maps a service error to its HTTP response
func writeServiceError(w http.ResponseWriter, err error) {
	var ingestionErr *IngestionError
	var validationErr *document.ValidationError
	var gatewayErr *scanning.GatewayError
	var malformedErr *scanning.MalformedResponseError

	switch {
	case errors.As(err, &ingestionErr):
		jsonError(w, ingestionErr.Reason, http.StatusBadRequest)
	case errors.As(err, &validationErr):
		jsonError(w, validationErr.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrInvalidStatus):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		jsonError(w, "Not found", http.StatusNotFound)
	case errors.As(err, &gatewayErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":            "Vision model request failed",
			"model":            gatewayErr.Model,
			"upstream_message": gatewayErr.Message,
			"body":             gatewayErr.Body,
		})
	case errors.As(err, &malformedErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":            "Vision model returned malformed JSON",
			"model":            malformedErr.Model,
			"upstream_message": malformedErr.Error(),
			"body":             malformedErr.Content,
		})
	default:
		jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// readUpload parses the multipart form and returns the named file's bytes
func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, string, bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return "", nil, "", false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return "", nil, "", false
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		jsonError(w, "File is too large. Maximum size is 50MB.", http.StatusBadRequest)
		return "", nil, "", false
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return "", nil, "", false
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	return header.Filename, data, contentType, true
}

// handleIngest runs an uploaded file through the pipeline
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	filename, data, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	result, err := s.service.Ingest(r.Context(), filename, data, contentType)
	if errors.Is(err, ErrDuplicate) {
		writeJSON(w, http.StatusConflict, duplicateBody(result.Duplicate))
		return
	}
	if err != nil {
		slog.Error("Error ingesting document", "filename", filename, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleDupCheck runs the duplicate pre-check without storing anything
func (s *Server) handleDupCheck(w http.ResponseWriter, r *http.Request) {
	filename, data, _, ok := readUpload(w, r)
	if !ok {
		return
	}

	fields := map[string]any{}
	if raw := r.FormValue("fields_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			jsonError(w, "fields_json must be a JSON object", http.StatusBadRequest)
			return
		}
	}

	result, err := s.service.CheckDuplicate(r.Context(), filename, data, fields)
	if errors.Is(err, ErrDuplicate) {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	if err != nil {
		slog.Error("Error checking for duplicates", "filename", filename, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleConfirmRecord creates a record from user-confirmed fields
func (s *Server) handleConfirmRecord(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" {
		jsonError(w, "doc_id is required", http.StatusBadRequest)
		return
	}

	rec, err := s.service.ConfirmRecord(r.Context(), req)
	if err != nil {
		slog.Error("Error confirming record", "document_id", req.DocumentID, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleListRecords returns records filtered by type and query
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	filter := RecordFilter{
		Type:  document.DocumentType(r.URL.Query().Get("type")),
		Query: r.URL.Query().Get("query"),
	}

	records, err := s.service.ListRecords(filter)
	if err != nil {
		slog.Error("Error listing records", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if records == nil {
		records = []*Record{}
	}

	writeJSON(w, http.StatusOK, records)
}

// handleExportRecords streams every record as CSV or XLSX
func (s *Server) handleExportRecords(w http.ResponseWriter, r *http.Request) {
	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := s.service.ExportRecords(&buf, format); err != nil {
		slog.Error("Error exporting records", "format", format, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "records."+string(format)))
	w.Write(buf.Bytes())
}

// handleSetRecordStatus marks a record open or paid
func (s *Server) handleSetRecordStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := s.service.SetRecordStatus(id, req.Status)
	if err != nil {
		slog.Error("Error setting record status", "record_id", id, "status", req.Status, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteRecord deletes a record
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRecord(r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteExtraction deletes an extraction
func (s *Server) handleDeleteExtraction(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteExtraction(r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetDocumentFile returns the stored file for a document
func (s *Server) handleGetDocumentFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetDocumentFile(r.PathValue("id"))
	if err != nil {
		slog.Error("Error getting document file", "document_id", r.PathValue("id"), "error", err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteDocument deletes a document with its extractions, records and file
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDocument(r.PathValue("id")); err != nil {
		slog.Error("Error deleting document", "document_id", r.PathValue("id"), "error", err)
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListBills returns the payables view
func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.service.ListPayables(r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bills": bills})
}

// handleMarkPaid marks bills paid and returns what is still open
func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, open, err := s.service.MarkPaid(req.IDs)
	if err != nil {
		slog.Error("Error marking bills paid", "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"updated": updated,
		"open":    open,
	})
}

// handleHealth reports that the server is up
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
