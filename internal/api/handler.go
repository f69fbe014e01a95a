package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/digitwin/internal/dispatch"
	"github.com/nidhogg/digitwin/internal/graph"
	"github.com/nidhogg/digitwin/internal/reasoning"
	"github.com/nidhogg/digitwin/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// KnowledgeIndexer stores passages for later context retrieval.
type KnowledgeIndexer interface {
	Enabled() bool
	Index(ctx context.Context, collection, content string, metadata map[string]string) (string, error)
	Forget(ctx context.Context, collection, id string) error
}

// ChainArchive lists finished chains.
type ChainArchive interface {
	RecentChains(ctx context.Context, limit int) ([]reasoning.Chain, error)
}

// ChainGraph reads a chain's step graph.
type ChainGraph interface {
	Steps(ctx context.Context, chainID string) ([]graph.StepNode, error)
}

// ProviderHealth checks the language model providers.
type ProviderHealth interface {
	HealthCheck(ctx context.Context) map[string]string
}

// Options carries the optional collaborators. Nil members disable their
// routes with 503.
type Options struct {
	Metrics   *telemetry.Recorder
	MCP       http.Handler
	Knowledge KnowledgeIndexer
	Archive   ChainArchive
	Graph     ChainGraph
	Providers ProviderHealth
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	opts       Options
	name       string
	logger     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(name string, d *dispatch.Dispatcher, opts Options, logger *zap.Logger) *Handler {
	return &Handler{dispatcher: d, opts: opts, name: name, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Mcp-Session-Id"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/health/providers", h.providerHealth)

		r.Get("/tools", h.listTools)
		r.Post("/tools/{name}", h.callTool)

		r.Get("/resources", h.listResources)
		r.Get("/resources/read", h.readResource)

		r.Post("/knowledge", h.indexKnowledge)
		r.Delete("/knowledge/{collection}/{id}", h.forgetKnowledge)

		r.Get("/chains", h.listChains)
		r.Get("/chains/{id}/graph", h.chainGraph)
	})

	if h.opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.opts.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
	if h.opts.MCP != nil {
		r.Handle("/mcp", h.opts.MCP)
	}

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "server": h.name})
}

func (h *Handler) providerHealth(w http.ResponseWriter, r *http.Request) {
	if h.opts.Providers == nil {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	status := h.opts.Providers.HealthCheck(r.Context())
	code := http.StatusOK
	for _, s := range status {
		if s != "ok" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, status)
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Tools())
}

// callTool always answers 200 when the body decodes; tool failures travel
// in the result's isError flag as they do over MCP.
func (h *Handler) callTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	args := map[string]any{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	}
	writeJSON(w, http.StatusOK, h.dispatcher.CallTool(r.Context(), name, args))
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Resources())
}

func (h *Handler) readResource(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "uri is required"})
		return
	}
	text, ok := h.dispatcher.ReadResource(r.Context(), uri)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": text})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uri": uri, "text": text})
}

type knowledgeRequest struct {
	Collection string            `json:"collection"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
}

func (h *Handler) indexKnowledge(w http.ResponseWriter, r *http.Request) {
	if h.opts.Knowledge == nil || !h.opts.Knowledge.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "knowledge index not configured"})
		return
	}
	var req knowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	if req.Collection == "" {
		req.Collection = "knowledge_base"
	}

	id, err := h.opts.Knowledge.Index(r.Context(), req.Collection, req.Content, req.Metadata)
	if err != nil {
		h.logger.Error("index knowledge failed", zap.String("collection", req.Collection), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "index failed"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "collection": req.Collection})
}

func (h *Handler) forgetKnowledge(w http.ResponseWriter, r *http.Request) {
	if h.opts.Knowledge == nil || !h.opts.Knowledge.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "knowledge index not configured"})
		return
	}
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")
	if err := h.opts.Knowledge.Forget(r.Context(), collection, id); err != nil {
		h.logger.Error("forget knowledge failed", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "delete failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listChains(w http.ResponseWriter, r *http.Request) {
	if h.opts.Archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "chain archive not configured"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	chains, err := h.opts.Archive.RecentChains(r.Context(), limit)
	if err != nil {
		h.logger.Error("list chains failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list chains failed"})
		return
	}
	if chains == nil {
		chains = []reasoning.Chain{}
	}
	writeJSON(w, http.StatusOK, chains)
}

func (h *Handler) chainGraph(w http.ResponseWriter, r *http.Request) {
	if h.opts.Graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "chain graph not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	steps, err := h.opts.Graph.Steps(r.Context(), id)
	if err != nil {
		h.logger.Error("read chain graph failed", zap.String("chain_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "read chain graph failed"})
		return
	}
	if len(steps) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chain not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chain_id": id, "steps": steps})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
