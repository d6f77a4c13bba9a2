package api

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/linetrace/linetrace/internal/excel"
	"github.com/linetrace/linetrace/internal/report"
	"github.com/linetrace/linetrace/internal/storage"
)

// collectRequest carries the parameters common to validate/collect/
// generate_excel: which report, and how result rows are scoped to it.
type collectRequest struct {
	ReportID      int64    `json:"report_id"`
	SerialFrom    string   `json:"serial_from,omitempty"`
	SerialTo      string   `json:"serial_to,omitempty"`
	Batch         string   `json:"batch,omitempty"`
	SelectedDates []string `json:"selected_dates,omitempty"`
}

// generateExcelRequest adds the workbook header-block fields Render needs
// on top of collectRequest.
type generateExcelRequest struct {
	collectRequest

	Title       string `json:"title"`
	Customer    string `json:"customer"`
	JobSplit    string `json:"job_split"`
	DateCode    string `json:"date_code"`
	StartSerial int    `json:"start_serial"`
	EndSerial   int    `json:"end_serial"`
}

// saveExcelRequest adds the destination path to generateExcelRequest.
type saveExcelRequest struct {
	generateExcelRequest

	Path string `json:"path"`
}

// explainRequest selects one test's measurements to trace, by test ID and
// a pre-fetched measurements map (the caller is expected to have already
// pulled the row it's confused about via a prior query/collect call).
type explainRequest struct {
	TestID       int64                  `json:"test_id"`
	Measurements map[string]interface{} `json:"measurements"`
}

func (req collectRequest) toParams() report.CollectParams {
	return report.CollectParams{
		ReportID:      req.ReportID,
		SerialFrom:    req.SerialFrom,
		SerialTo:      req.SerialTo,
		Batch:         req.Batch,
		SelectedDates: req.SelectedDates,
	}
}

func (req collectRequest) mode() report.Mode {
	if req.Batch != "" {
		return report.ModeBatch
	}

	return report.ModeSerialized
}

// handleReportsValidate implements the `validate(report_id, batch?,
// serial_range?)` command: reports per-test data availability without
// collecting full measurement rows.
func (s *Server) handleReportsValidate(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	result, err := s.collector.Validate(r.Context(), req.mode(), req.toParams())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("validate report: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, result)
}

// handleReportsCollect implements the `collect(...)` command.
func (s *Server) handleReportsCollect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	data, err := s.collector.Collect(r.Context(), req.mode(), req.toParams())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("collect report: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, data)
}

// handleReportsGenerateExcel implements the `generate_excel(...)` command:
// report generation fails closed if validation is incomplete.
func (s *Server) handleReportsGenerateExcel(w http.ResponseWriter, r *http.Request) {
	var req generateExcelRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	buf, problem := s.renderExcel(r.Context(), req)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Error("write excel response", "error", err.Error())
	}
}

// handleReportsSaveExcel implements the `save_excel(path, ...)` command:
// parent directories are created if absent.
func (s *Server) handleReportsSaveExcel(w http.ResponseWriter, r *http.Request) {
	var req saveExcelRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	if req.Path == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("path is required"))
		return
	}

	buf, problem := s.renderExcel(r.Context(), req.generateExcelRequest)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)
		return
	}

	if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("create parent directories: "+err.Error()))
		return
	}

	if err := os.WriteFile(req.Path, buf.Bytes(), 0o644); err != nil { //nolint:gosec
		WriteErrorResponse(w, r, s.logger, InternalServerError("write excel file: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "saved"})
}

// renderExcel collects and validates req, refusing to render a workbook
// for an incomplete report. The returned *ProblemDetail is non-nil only
// when the caller should stop and write it as the response.
func (s *Server) renderExcel(ctx context.Context, req generateExcelRequest) (*bytes.Buffer, *ProblemDetail) {
	validation, err := s.collector.Validate(ctx, req.mode(), req.toParams())
	if err != nil {
		return nil, InternalServerError("validate report: " + err.Error())
	}

	if !validation.Complete {
		return nil, Conflict("report is incomplete: not every test has matching data")
	}

	data, err := s.collector.Collect(ctx, req.mode(), req.toParams())
	if err != nil {
		return nil, InternalServerError("collect report: " + err.Error())
	}

	buf, err := excel.Render(data, excel.RenderOptions{
		Title:       req.Title,
		Customer:    req.Customer,
		JobSplit:    req.JobSplit,
		DateCode:    req.DateCode,
		StartSerial: req.StartSerial,
		EndSerial:   req.EndSerial,
	})
	if err != nil {
		return nil, InternalServerError("render excel: " + err.Error())
	}

	return buf, nil
}

// handleReportsExplain implements the supplemented `/reports/explain`
// debug command: dumps the measurement-key lookup trace for one test
// against an already-fetched measurements map.
func (s *Server) handleReportsExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	test := storage.Test{ID: req.TestID}

	trace := report.Explain(test, req.Measurements)

	writeJSON(w, r, s.logger, http.StatusOK, trace)
}
