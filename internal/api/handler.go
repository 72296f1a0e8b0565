package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/HelloWorldSungin/tinyclaw-trading/internal/config"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/event"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/gateway"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/heartbeat"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/orchestrator"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/queue"
)

// Handler holds dependencies for HTTP handlers. Gateway, heartbeat and
// processor are optional; routes depending on a nil one return 503.
type Handler struct {
	cfgPath string
	queue   *queue.Store
	events  *event.Emitter
	gw      *gateway.Gateway
	hb      *heartbeat.Scheduler
	proc    *orchestrator.Processor
	logger  *zap.Logger
}

func NewHandler(
	cfgPath string,
	q *queue.Store,
	events *event.Emitter,
	gw *gateway.Gateway,
	hb *heartbeat.Scheduler,
	proc *orchestrator.Processor,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		cfgPath: cfgPath,
		queue:   q,
		events:  events,
		gw:      gw,
		hb:      hb,
		proc:    proc,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/status", h.status)
		r.Get("/agents", h.listAgents)
		r.Get("/teams", h.listTeams)
		r.Get("/queue", h.queueStatus)
		r.Get("/events/recent", h.recentEvents)

		r.Post("/message", h.postMessage)
		r.Post("/agents/{id}/reset", h.resetAgent)
		r.Post("/heartbeat/{id}/fire", h.fireHeartbeat)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "tinyclaw"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(h.cfgPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	resp := map[string]interface{}{
		"agent_count": len(cfg.Agents),
		"team_count":  len(cfg.Teams),
		"pending":     h.queue.PendingCount(),
	}
	if h.gw != nil {
		resp["gateways"] = h.gw.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

// agentSummary is the API view of a configured agent. Remote connection
// details stay out of the response.
type agentSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	InvokeMode string `json:"invoke_mode"`
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(h.cfgPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]agentSummary, 0, len(cfg.Agents))
	for id, a := range cfg.Agents {
		out = append(out, agentSummary{
			ID:         id,
			Name:       a.Name,
			Provider:   a.Provider,
			Model:      a.Model,
			InvokeMode: string(a.InvokeMode),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listTeams(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(h.cfgPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]config.Team, 0, len(cfg.Teams))
	for _, t := range cfg.Teams {
		out = append(out, t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"pending": h.queue.PendingCount()})
}

func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, h.events.Recent(limit))
}

type messageRequest struct {
	Channel     string `json:"channel"`
	Sender      string `json:"sender"`
	Message     string `json:"message"`
	Agent       string `json:"agent,omitempty"`
	Team        string `json:"team,omitempty"`
	WaitSeconds int    `json:"wait_seconds"`
}

// postMessage enqueues a work item on behalf of an HTTP client. With a
// positive wait_seconds it blocks until the response lands or the wait
// runs out; otherwise it returns the message ID immediately.
func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	if req.Channel == "" {
		req.Channel = "api"
	}
	if req.Sender == "" {
		req.Sender = "api"
	}

	item := &queue.WorkItem{
		Channel: req.Channel,
		Sender:  req.Sender,
		Message: req.Message,
		Agent:   req.Agent,
		Team:    req.Team,
	}
	id, err := h.queue.Enqueue(item)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if req.WaitSeconds <= 0 {
		writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id, "status": "queued"})
		return
	}

	deadline := time.Now().Add(time.Duration(req.WaitSeconds) * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
		if resp, ok := h.queue.CollectResponse(req.Channel, id); ok {
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}
	writeJSON(w, http.StatusGatewayTimeout, map[string]string{
		"message_id": id,
		"error":      "no response before deadline",
	})
}

func (h *Handler) resetAgent(w http.ResponseWriter, r *http.Request) {
	if h.proc == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "processor not initialized"})
		return
	}
	id := chi.URLParam(r, "id")
	cfg, err := config.Load(h.cfgPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if _, ok := cfg.Agents[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	if err := h.proc.RequestReset(id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": id, "status": "reset scheduled"})
}

func (h *Handler) fireHeartbeat(w http.ResponseWriter, r *http.Request) {
	if h.hb == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "heartbeat not initialized"})
		return
	}
	id := chi.URLParam(r, "id")
	cfg, err := config.Load(h.cfgPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	agent, ok := cfg.Agents[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	if err := h.hb.Fire(r.Context(), cfg, agent); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": id, "status": "heartbeat fired"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
