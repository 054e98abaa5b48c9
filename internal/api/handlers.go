package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/natssync/mstress/internal/directory"
	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/metrics"
	"github.com/natssync/mstress/internal/probe"
	"github.com/natssync/mstress/internal/subject"
	"github.com/natssync/mstress/pkg/errors"
	"github.com/natssync/mstress/pkg/types"
)

// Prober runs the probes behind the /tests routes. *probe.Engine
// implements it.
type Prober interface {
	Echo(ctx context.Context, client string) (types.TestResult, error)
	Flood(ctx context.Context, test types.StressTest) ([]types.TestResult, error)
	Throughput(ctx context.Context, client string) types.ThroughputResult
	ThroughputAll(ctx context.Context, clients []string) []types.ThroughputResult
}

// EventSink receives an event for every finished test run.
type EventSink interface {
	Publish(ev types.Event)
}

// ConnChecker reports whether the messaging connection is up.
type ConnChecker interface {
	IsConnected() bool
}

type Limits struct {
	MaxTestCount    int
	MaxBatchClients int
}

type Handler struct {
	prober    Prober
	directory directory.Directory
	events    EventSink
	conn      ConnChecker
	limits    Limits
	version   string
	logger    *logging.Logger
}

const maxJSONBodyBytes = 1 << 20

const noClientsMessage = "No clients provided to test"

func NewHandler(prober Prober, dir directory.Directory) *Handler {
	return &Handler{
		prober:    prober,
		directory: dir,
		events:    nopSink{},
		logger:    logging.NewLogger("api"),
	}
}

func (h *Handler) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = nopSink{}
	}
	h.events = sink
}

func (h *Handler) SetConnChecker(c ConnChecker) {
	h.conn = c
}

func (h *Handler) SetLimits(l Limits) {
	h.limits = l
}

func (h *Handler) SetVersion(version string) {
	if version == "" {
		version = "dev"
	}
	h.version = version
}

func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, "Hello, server!"); err != nil {
		h.logger.Warn("hello: write response", logging.F("error", err))
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{Status: "ok", NATS: "connected", Version: h.version}
	status := http.StatusOK
	if h.conn != nil && !h.conn.IsConnected() {
		resp.Status = "degraded"
		resp.NATS = "disconnected"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, resp, status)
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version := h.version
	if version == "" {
		version = "dev"
	}
	respondJSON(w, types.VersionResponse{Version: version}, http.StatusOK)
}

func (h *Handler) GetClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.directory.Clients(r.Context())
	if err != nil {
		h.logger.Error("client directory lookup failed", logging.F("error", err))
		respondError(w, errors.ErrDirectoryUnavailable(err), http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, types.ClientCollection{Clients: clients, Count: len(clients)}, http.StatusOK)
}

func (h *Handler) AddClient(w http.ResponseWriter, r *http.Request) {
	writable, ok := h.directory.(directory.Writable)
	if !ok {
		respondError(w, directory.ErrReadOnly, http.StatusNotImplemented)
		return
	}
	if !isJSONContentType(r) {
		respondJSON(w, map[string]string{"error": "Content-Type must be application/json"}, http.StatusUnsupportedMediaType)
		return
	}
	var req types.ClientRequest
	if err := decodeJSONBody(w, r, &req, maxJSONBodyBytes); err != nil {
		respondJSONBodyError(w, err)
		return
	}
	req.Client = strings.TrimSpace(req.Client)
	if err := subject.ValidateClient(req.Client); err != nil {
		respondError(w, err, http.StatusBadRequest)
		return
	}
	if err := writable.Add(r.Context(), req.Client); err != nil {
		h.respondWriteError(w, err)
		return
	}
	h.logger.Info("client registered", logging.F("client", req.Client))
	respondJSON(w, req, http.StatusCreated)
}

func (h *Handler) RemoveClient(w http.ResponseWriter, r *http.Request) {
	writable, ok := h.directory.(directory.Writable)
	if !ok {
		respondError(w, directory.ErrReadOnly, http.StatusNotImplemented)
		return
	}
	client := r.PathValue("client")
	removed, err := writable.Remove(r.Context(), client)
	if err != nil {
		h.respondWriteError(w, err)
		return
	}
	if !removed {
		respondJSON(w, map[string]string{"error": "client not found"}, http.StatusNotFound)
		return
	}
	h.logger.Info("client removed", logging.F("client", client))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondWriteError(w http.ResponseWriter, err error) {
	if stdErrors.Is(err, directory.ErrReadOnly) {
		respondError(w, err, http.StatusNotImplemented)
		return
	}
	h.logger.Error("client directory write failed", logging.F("error", err))
	respondError(w, errors.ErrDirectoryUnavailable(err), http.StatusServiceUnavailable)
}

// EchoTest always answers 200 with the probe's TestResult; a client that did
// not reply is reported through success=false.
func (h *Handler) EchoTest(w http.ResponseWriter, r *http.Request) {
	client := r.PathValue("client")
	if err := subject.ValidateClient(client); err != nil {
		respondMessage(w, err, http.StatusBadRequest)
		return
	}

	result, err := h.prober.Echo(r.Context(), client)
	if err != nil {
		h.logger.Debug("echo test failed", logging.F("client", client), logging.F("error", err))
	}
	h.events.Publish(types.NewEvent(types.EventEcho, client, result))
	respondJSON(w, result, http.StatusOK)
}

func (h *Handler) BatchTest(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r) {
		respondJSON(w, map[string]string{"error": "Content-Type must be application/json"}, http.StatusUnsupportedMediaType)
		return
	}
	var req types.NewTest
	if err := decodeJSONBody(w, r, &req, maxJSONBodyBytes); err != nil {
		respondJSONBodyError(w, err)
		return
	}
	if len(req.Clients) == 0 || req.TestCount < 1 {
		respondJSON(w, types.ErrorMessage{Message: noClientsMessage}, http.StatusBadRequest)
		return
	}
	if err := h.checkLimits(req); err != nil {
		respondMessage(w, err, http.StatusBadRequest)
		return
	}
	for _, c := range req.Clients {
		if err := subject.ValidateClient(c); err != nil {
			respondMessage(w, err, http.StatusBadRequest)
			return
		}
	}

	test := types.NewStressTest(req.Clients, req.TestCount)
	h.logger.Debug("new test request",
		logging.F("test_id", test.ID),
		logging.F("clients", req.Clients),
		logging.F("count", req.TestCount))

	results, err := h.prober.Flood(r.Context(), test)
	if err != nil {
		respondMessage(w, err, http.StatusBadRequest)
		return
	}
	h.events.Publish(types.NewEvent(types.EventFlood, "", results))
	respondJSON(w, results, http.StatusOK)
}

func (h *Handler) checkLimits(req types.NewTest) error {
	if h.limits.MaxBatchClients > 0 && len(req.Clients) > h.limits.MaxBatchClients {
		return errors.ErrInvalidTest("too many clients in one test")
	}
	if h.limits.MaxTestCount > 0 && req.TestCount > h.limits.MaxTestCount {
		return errors.ErrInvalidTest("test_count exceeds the configured maximum")
	}
	return nil
}

func (h *Handler) ClientMPSTest(w http.ResponseWriter, r *http.Request) {
	client := r.PathValue("client")
	if err := subject.ValidateClient(client); err != nil {
		respondMessage(w, err, http.StatusBadRequest)
		return
	}

	result := h.prober.Throughput(r.Context(), client)
	h.events.Publish(types.NewEvent(types.EventThroughput, client, result))
	respondJSON(w, result, http.StatusOK)
}

// AllMPSTest probes every directory client at once and aggregates the
// results.
func (h *Handler) AllMPSTest(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("handling client mps test")
	clients, err := h.directory.Clients(r.Context())
	if err != nil {
		h.logger.Error("client directory lookup failed", logging.F("error", err))
		respondError(w, errors.ErrDirectoryUnavailable(err), http.StatusServiceUnavailable)
		return
	}

	valid := make([]string, 0, len(clients))
	for _, c := range clients {
		if err := subject.ValidateClient(c); err != nil {
			h.logger.Warn("skipping invalid directory client",
				logging.F("client", c),
				logging.F("error", err))
			continue
		}
		valid = append(valid, c)
	}

	stats := metrics.NewStatsCollection(h.prober.ThroughputAll(r.Context(), valid))
	h.events.Publish(types.NewEvent(types.EventStats, "", stats))
	respondJSON(w, stats, http.StatusOK)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, limit int64) error {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		io.Copy(io.Discard, r.Body)
		return err
	}
	if err := decoder.Decode(&struct{}{}); !stdErrors.Is(err, io.EOF) {
		io.Copy(io.Discard, r.Body)
		return stdErrors.New("request body must contain a single JSON object")
	}
	return nil
}

func isJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "" || strings.HasPrefix(ct, "application/json")
}

func respondJSONBodyError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if stdErrors.As(err, &maxErr) {
		respondJSON(w, map[string]string{"error": "request body too large"}, http.StatusRequestEntityTooLarge)
		return
	}
	respondJSON(w, map[string]string{"error": "invalid request body"}, http.StatusBadRequest)
}

func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("JSON response encode failed", logging.F("error", err))
	}
}

func errorText(err error) string {
	var probeErr *errors.ProbeError
	if stdErrors.As(err, &probeErr) {
		return probeErr.Message
	}
	return err.Error()
}

func respondError(w http.ResponseWriter, err error, statusCode int) {
	respondJSON(w, map[string]string{"error": errorText(err)}, statusCode)
}

// respondMessage answers rejected tests in the {"message": ...} shape.
func respondMessage(w http.ResponseWriter, err error, statusCode int) {
	respondJSON(w, types.ErrorMessage{Message: errorText(err)}, statusCode)
}

type nopSink struct{}

func (nopSink) Publish(types.Event) {}

var _ Prober = (*probe.Engine)(nil)
