// Package httpapi exposes the webhook intake and the report, analytics and
// redelivery endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"civic-voice-go/internal/actionable"
	"civic-voice-go/internal/aggregator"
	"civic-voice-go/internal/dataset"
	"civic-voice-go/internal/logger"
	"civic-voice-go/internal/notify"
	"civic-voice-go/internal/pipeline"
	"civic-voice-go/internal/store"
	"civic-voice-go/internal/types"
)

// MaxBodyBytes caps webhook request bodies.
const MaxBodyBytes = 1 << 20

const defaultListLimit = 50

type Server struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	agg      *aggregator.Aggregator
	log      *logger.Logger
}

func New(p *pipeline.Pipeline, st store.Store, agg *aggregator.Aggregator, log *logger.Logger) *Server {
	return &Server{pipeline: p, store: st, agg: agg, log: log}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/telnyx", s.handleWebhook)
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /analytics", s.handleAnalytics)
	mux.HandleFunc("GET /analytics/actions", s.handleActions)
	mux.HandleFunc("GET /analytics/export.xlsx", s.handleExport)
	mux.HandleFunc("GET /reports", s.handleListReports)
	mux.HandleFunc("GET /reports/{id}", s.handleGetReport)
	mux.HandleFunc("POST /reports/{id}/retry", s.handleRetry)
	return mux
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "webhook")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = pipeline.TooLarge(MaxBodyBytes)
		} else {
			err = &pipeline.ValidationError{Kind: pipeline.KindMalformedPayload, Message: "could not read request body"}
		}
		reqLog.WithField("error", err.Error()).Warn("webhook body rejected")
		writeJSON(w, reqLog, pipeline.StatusFor(err), pipeline.ErrorResponse(err))
		return
	}

	start := time.Now()
	resp, err := s.pipeline.Handle(r.Context(), body)
	reqLog = reqLog.WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		writeJSON(w, reqLog, pipeline.StatusFor(err), resp)
		return
	}
	status := http.StatusOK
	if resp.Status == pipeline.StatusDegraded {
		status = http.StatusAccepted
	}
	reqLog.WithFields(logrus.Fields{
		"report_id": resp.ReportID,
		"status":    resp.Status,
		"replay":    resp.Replay,
	}).Info("webhook handled")
	writeJSON(w, reqLog, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.log.WithRequest(r), http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.log.WithRequest(r), http.StatusOK, s.agg.Snapshot())
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.log.WithRequest(r), http.StatusOK, map[string]any{"actions": actionable.Generate(s.agg.Snapshot())})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "export")
	reports, err := s.store.ListReports(r.Context(), 0)
	if err != nil {
		reqLog.WithField("error", err.Error()).Error("list reports failed")
		writeError(w, reqLog, http.StatusInternalServerError, "could not list reports")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="civic-reports.xlsx"`)
	if err := dataset.WriteWorkbook(w, reports, s.agg.Snapshot()); err != nil {
		reqLog.WithField("error", err.Error()).Error("failed to write workbook")
	}
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "reports")
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, reqLog, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	reports, err := s.store.ListReports(r.Context(), limit)
	if err != nil {
		reqLog.WithField("error", err.Error()).Error("list reports failed")
		writeError(w, reqLog, http.StatusInternalServerError, "could not list reports")
		return
	}
	if reports == nil {
		reports = []types.Report{}
	}
	writeJSON(w, reqLog, http.StatusOK, map[string]any{"reports": reports})
}

type reportDetail struct {
	Report        types.Report               `json:"report"`
	Notifications []types.NotificationRecord `json:"notifications"`
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("report_id", r.PathValue("id"))
	rep, err := s.store.ReportByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, reqLog, err)
		return
	}
	recs, err := s.store.Notifications(r.Context(), rep.ID)
	if err != nil {
		s.storeError(w, reqLog, err)
		return
	}
	if recs == nil {
		recs = []types.NotificationRecord{}
	}
	writeJSON(w, reqLog, http.StatusOK, reportDetail{Report: rep, Notifications: recs})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("report_id", r.PathValue("id"))
	rep, err := s.pipeline.Retry(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, reqLog, http.StatusOK, rep)
	case errors.Is(err, notify.ErrNotRetryable):
		writeError(w, reqLog, http.StatusConflict, "report notification is "+string(rep.NotificationStatus)+", only failed reports can be retried")
	case errors.Is(err, notify.ErrDeliveryFailed):
		// still failed, the caller can inspect attempts
		writeJSON(w, reqLog, http.StatusBadGateway, rep)
	default:
		s.storeError(w, reqLog, err)
	}
}

func (s *Server) storeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, log, http.StatusNotFound, "report not found")
		return
	}
	log.WithField("error", err.Error()).Error("store error")
	writeError(w, log, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, log *logrus.Entry, status int, msg string) {
	writeJSON(w, log, status, map[string]string{"status": pipeline.StatusError, "message": msg})
}

func writeJSON(w http.ResponseWriter, log *logrus.Entry, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.WithField("error", err.Error()).Error("failed to write response")
	}
}
