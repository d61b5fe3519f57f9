package api

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"

	"github.com/go-chi/chi/v5"
)

// APIResponse is the envelope of every JSON response
type APIResponse struct {
	Success bool                    `json:"success"`
	Data    interface{}             `json:"data,omitempty"`
	Error   *errors.ReconcilerError `json:"error,omitempty"`
}

// latestRun is accepted wherever a path names a run
const latestRun = "latest"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, APIResponse{Success: true, Data: data})
}

// writeError writes err with the status of its category
func writeError(w http.ResponseWriter, err error) {
	recErr, ok := errors.AsReconcilerError(err)
	if !ok {
		recErr = errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "request failed")
	}
	writeJSON(w, recErr.HTTPStatus(), APIResponse{Success: false, Error: recErr})
}

// decodeBody decodes the JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if stderrors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return errors.ValidationError(errors.CodeInvalidValue, "body", nil, err).
			WithSuggestion("Send a JSON object with the documented fields")
	}
	return nil
}

// actor returns the X-Actor header, which overrides any actor in the body
func actor(r *http.Request, fallback string) string {
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return fallback
}

func runParam(r *http.Request) string {
	id := chi.URLParam(r, "runID")
	if id == latestRun {
		return ""
	}
	return id
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.ValidationError(errors.CodeInvalidValue, name, raw, err)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.ValidationError(errors.CodeInvalidValue, name, raw, err)
	}
	return b, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Runs

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req reconciler.RunRequest
	if err := s.decodeBody(w, r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	req.Actor = actor(r, req.Actor)
	result, err := s.service.CreateRun(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, result)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.service.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Run(r.Context(), runParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, run)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	results, err := s.service.Results(r.Context(), runParam(r), models.ResultFilter{
		Status:  models.MatchStatus(q.Get("status")),
		Carrier: q.Get("carrier"),
		Reason:  q.Get("reason"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, results)
}

// Exceptions

func (s *Server) handleListExceptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	exceptions, err := s.service.ListExceptions(r.Context(), models.ExceptionFilter{
		RunID:  q.Get("run_id"),
		Status: models.ExceptionStatus(q.Get("status")),
		LineID: q.Get("line_id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, exceptions)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req reconciler.ResolveRequest
	if err := s.decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	req.LineID = chi.URLParam(r, "lineID")
	req.Actor = actor(r, req.Actor)
	resolution, err := s.service.Resolve(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, resolution)
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	var req reconciler.ReopenRequest
	if err := s.decodeBody(w, r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	req.LineID = chi.URLParam(r, "lineID")
	req.Actor = actor(r, req.Actor)
	resolution, err := s.service.Reopen(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, resolution)
}

func (s *Server) handleAutoResolve(w http.ResponseWriter, r *http.Request) {
	var req reconciler.BackgroundResolveRequest
	if err := s.decodeBody(w, r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	req.Actor = actor(r, req.Actor)
	result, err := s.service.BackgroundResolve(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// Policy rules

func (s *Server) handleListPolicyRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.service.PolicyRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rules)
}

func (s *Server) handleSetPolicyRule(w http.ResponseWriter, r *http.Request) {
	var req reconciler.PolicyRuleRequest
	if err := s.decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	req.Actor = actor(r, req.Actor)
	rule, err := s.service.SetPolicyRule(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rule)
}

func (s *Server) handlePolicyRuleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.service.RuleVersions(r.Context(), store.RuleTypePolicy, chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, versions)
}

// Split rules

func (s *Server) handleListSplitRules(w http.ResponseWriter, r *http.Request) {
	includeDeleted, err := queryBool(r, "include_deleted")
	if err != nil {
		writeError(w, err)
		return
	}
	rules, err := s.service.SplitRules(r.Context(), includeDeleted)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rules)
}

func (s *Server) handleCreateSplitRule(w http.ResponseWriter, r *http.Request) {
	var req reconciler.SplitRuleRequest
	if err := s.decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	req.Actor = actor(r, req.Actor)
	rule, err := s.service.CreateSplitRule(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateSplitRule(w http.ResponseWriter, r *http.Request) {
	var req reconciler.SplitRuleRequest
	if err := s.decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	req.RuleID = chi.URLParam(r, "ruleID")
	req.Actor = actor(r, req.Actor)
	rule, err := s.service.UpdateSplitRule(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteSplitRule(w http.ResponseWriter, r *http.Request) {
	version, err := queryInt(r, "expected_version")
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.service.DeleteSplitRule(r.Context(), reconciler.DeleteSplitRuleRequest{
		RuleID:          chi.URLParam(r, "ruleID"),
		ExpectedVersion: version,
		Actor:           actor(r, ""),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSplitRuleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.service.RuleVersions(r.Context(), store.RuleTypeSplit, chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, versions)
}

func (s *Server) handleWhatIf(w http.ResponseWriter, r *http.Request) {
	var req reconciler.WhatIfRequest
	if err := s.decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.service.WhatIf(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// Adjustments

func (s *Server) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	adjustments, err := s.service.Adjustments(r.Context(), r.URL.Query().Get("producer_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, adjustments)
}

func (s *Server) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req reconciler.AdjustmentRequest
	if err := s.decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	req.Actor = actor(r, req.Actor)
	adj, err := s.service.CreateAdjustment(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, adj)
}

func (s *Server) handleUpdateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req reconciler.AdjustmentRequest
	if err := s.decodeBody(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	req.AdjID = chi.URLParam(r, "adjID")
	req.Actor = actor(r, req.Actor)
	adj, err := s.service.UpdateAdjustment(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, adj)
}

func (s *Server) handleDeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteAdjustment(r.Context(), reconciler.DeleteAdjustmentRequest{
		AdjID: chi.URLParam(r, "adjID"),
		Actor: actor(r, ""),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Read models

func (s *Server) handleNetting(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Netting(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleProducers(w http.ResponseWriter, r *http.Request) {
	producers, err := s.service.Producers(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, producers)
}

func (s *Server) handleAccruals(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Accruals(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	journal, err := s.service.Journal(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, journal)
}

func (s *Server) handlePostJournal(w http.ResponseWriter, r *http.Request) {
	var req reconciler.JournalRequest
	if err := s.decodeBody(w, r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	req.Actor = actor(r, req.Actor)
	journal, err := s.service.PostJournal(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, journal.Totals)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	events, err := s.service.AuditEvents(r.Context(), models.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		EventType:  q.Get("event_type"),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, events)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	comparison, err := s.service.Compare(r.Context(), reconciler.CompareRequest{
		BaseRunID:   q.Get("base"),
		TargetRunID: q.Get("target"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, comparison)
}

// handleExport streams the export body; nothing is written before the export succeeds
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var buf bytes.Buffer
	rows, err := s.service.Export(r.Context(), reconciler.ExportRequest{
		Name:  name,
		RunID: r.URL.Query().Get("run_id"),
		Actor: actor(r, ""),
	}, &buf)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", reporter.ContentType(name))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("X-Export-Rows", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleAging(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("as_of")); raw != "" {
		parsed, err := models.ParseDate(raw)
		if err != nil {
			writeError(w, errors.ValidationError(errors.CodeInvalidDate, "as_of", raw, err))
			return
		}
		asOf = parsed
	}
	report, err := s.service.Aging(r.Context(), r.URL.Query().Get("run_id"), asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

func (s *Server) handleScorecard(w http.ResponseWriter, r *http.Request) {
	scores, err := s.service.Scorecard(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, scores)
}

func (s *Server) handleRevenue(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.RevenueSummary(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

func (s *Server) handleBankTransactions(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.BankTransactions(r.Context(), r.URL.Query().Get("counterparty"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

func (s *Server) handleCloseStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.CloseStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, status)
}

func (s *Server) handleLineDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.LineDetail(r.Context(), r.URL.Query().Get("run_id"), chi.URLParam(r, "lineID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, detail)
}
