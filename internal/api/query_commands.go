package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/linetrace/linetrace/internal/query"
)

func filterFromQuery(q url.Values) query.SearchFilter {
	return query.SearchFilter{
		Part:       q.Get("part"),
		Batch:      q.Get("batch"),
		Operator:   q.Get("operator"),
		PassFail:   q.Get("pass_fail"),
		DateFrom:   q.Get("date_from"),
		DateTo:     q.Get("date_to"),
		SerialFrom: q.Get("serial_from"),
		SerialTo:   q.Get("serial_to"),
	}
}

// handleQueryPartList implements the part family's `list` query.
func (s *Server) handleQueryPartList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rows, err := s.queries.PartList(r.Context(), q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("part list: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, rows)
}

// handleQueryPartSummary implements the part family's `summary` query.
func (s *Server) handleQueryPartSummary(w http.ResponseWriter, r *http.Request) {
	part := r.PathValue("part")
	q := r.URL.Query()

	row, ok, err := s.queries.PartSummary(r.Context(), part, q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("part summary: "+err.Error()))
		return
	}

	if !ok {
		WriteErrorResponse(w, r, s.logger, NotFound("no test results for part "+part))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, row)
}

// handleQueryBatchList implements the batch family's `list` query.
func (s *Server) handleQueryBatchList(w http.ResponseWriter, r *http.Request) {
	part := r.PathValue("part")
	q := r.URL.Query()

	rows, err := s.queries.BatchList(r.Context(), part, q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("batch list: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, rows)
}

// handleQueryBatchDetail implements the batch family's `detail` query.
func (s *Server) handleQueryBatchDetail(w http.ResponseWriter, r *http.Request) {
	part := r.PathValue("part")
	batch := r.PathValue("batch")
	q := r.URL.Query()

	row, ok, err := s.queries.BatchDetail(r.Context(), part, batch, q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("batch detail: "+err.Error()))
		return
	}

	if !ok {
		WriteErrorResponse(w, r, s.logger, NotFound("no test results for part "+part+" batch "+batch))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, row)
}

// handleQuerySerialRange implements the test family's serial-range query.
func (s *Server) handleQuerySerialRange(w http.ResponseWriter, r *http.Request) {
	part := r.PathValue("part")
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	if from == "" || to == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("from and to query parameters are required"))
		return
	}

	rows, err := s.queries.BySerialRange(r.Context(), part, from, to)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("serial range query: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, rows)
}

// handleQuerySearchTests implements the test family's `search` query.
func (s *Server) handleQuerySearchTests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := filterFromQuery(q)

	limit := atoiOrDefault(q.Get("limit"), 100)
	offset := atoiOrDefault(q.Get("offset"), 0)

	rows, err := s.queries.SearchTests(r.Context(), filter, limit, offset)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("search tests: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, rows)
}

// handleQueryStatsDaily implements the stats family's `daily` query.
func (s *Server) handleQueryStatsDaily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rows, err := s.queries.DailyStats(r.Context(), q.Get("part"), q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("daily stats: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, rows)
}

// handleQueryStatsOperator implements the stats family's `operator` query.
func (s *Server) handleQueryStatsOperator(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rows, err := s.queries.OperatorStats(r.Context(), q.Get("part"), q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("operator stats: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, rows)
}

// handleQueryStatsOverall implements the stats family's `overall` query.
func (s *Server) handleQueryStatsOverall(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	row, err := s.queries.OverallStats(r.Context(), q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("overall stats: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, row)
}

// handleQueryStatsParts implements the stats family's per-part breakdown.
func (s *Server) handleQueryStatsParts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rows, err := s.queries.PartStats(r.Context(), q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("part stats: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, rows)
}

func atoiOrDefault(v string, def int) int {
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}

	return n
}
