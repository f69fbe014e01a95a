// Package resource serves read-only JSON snapshots addressed by URI.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nidhogg/digitwin/internal/reasoning"
	"github.com/nidhogg/digitwin/internal/telemetry"
)

// ErrNotFound is returned for URIs that address nothing.
var ErrNotFound = errors.New("resource not found")

// URI names a fixed resource.
type URI string

const (
	URIAgentMemory        URI = "memory://agent-memory"
	URIPerformanceMetrics URI = "analytics://performance-metrics"
	URIReasoningChains    URI = "reasoning://chains"
)

// ChainTemplate addresses a single chain by id.
const ChainTemplate = "reasoning://chains/{chain_id}"

const mimeJSON = "application/json"

// Descriptor advertises one resource.
type Descriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MIMEType    string `json:"mimeType"`
}

// SessionCounter reports live conversations.
type SessionCounter interface {
	Len() int
}

// ChainSource exposes the chain table.
type ChainSource interface {
	Stats() reasoning.Stats
	Get(id string) (reasoning.Chain, bool)
}

// MetricsSource produces performance snapshots.
type MetricsSource interface {
	Snapshot(metricType, period, aggregation string) (telemetry.Snapshot, error)
}

// MemorySnapshot is the agent-memory resource body.
type MemorySnapshot struct {
	ActiveSessions  int    `json:"active_sessions"`
	ReasoningChains int    `json:"reasoning_chains"`
	CacheStatus     string `json:"cache_status"`
	MemoryUsage     string `json:"memory_usage"`
}

// Exposer renders resources from live stores.
type Exposer struct {
	sessions    SessionCounter
	chains      ChainSource
	metrics     MetricsSource
	cacheStatus string
}

// NewExposer creates an exposer. cacheStatus is reported verbatim in the
// memory snapshot; empty means "active".
func NewExposer(sessions SessionCounter, chains ChainSource, metrics MetricsSource, cacheStatus string) *Exposer {
	if cacheStatus == "" {
		cacheStatus = "active"
	}
	return &Exposer{sessions: sessions, chains: chains, metrics: metrics, cacheStatus: cacheStatus}
}

// List returns the fixed resources.
func (e *Exposer) List() []Descriptor {
	return []Descriptor{
		{URI: string(URIAgentMemory), Name: "Agent Memory System", Description: "Access to persistent agent memory and learning", MIMEType: mimeJSON},
		{URI: string(URIPerformanceMetrics), Name: "Performance Analytics", Description: "Server performance and usage analytics", MIMEType: mimeJSON},
		{URI: string(URIReasoningChains), Name: "Reasoning Chains", Description: "Access to multi-step reasoning processes", MIMEType: mimeJSON},
	}
}

// Read renders the resource at uri as indented JSON. The performance
// resource accepts metric_type, time_period and aggregation query
// parameters.
func (e *Exposer) Read(_ context.Context, uri string) (string, error) {
	base, rawQuery, _ := strings.Cut(uri, "?")
	if rawQuery != "" && URI(base) != URIPerformanceMetrics {
		return "", fmt.Errorf("%w: %s", ErrNotFound, uri)
	}

	var body any
	switch URI(base) {
	case URIAgentMemory:
		body = MemorySnapshot{
			ActiveSessions:  e.sessions.Len(),
			ReasoningChains: e.chains.Stats().TotalChains,
			CacheStatus:     e.cacheStatus,
			MemoryUsage:     "optimal",
		}
	case URIPerformanceMetrics:
		q, err := url.ParseQuery(rawQuery)
		if err != nil {
			return "", fmt.Errorf("parse query of %s: %w", uri, err)
		}
		snap, err := e.metrics.Snapshot(q.Get("metric_type"), q.Get("time_period"), q.Get("aggregation"))
		if err != nil {
			return "", fmt.Errorf("performance snapshot: %w", err)
		}
		body = snap
	case URIReasoningChains:
		body = e.chains.Stats()
	default:
		id, ok := strings.CutPrefix(uri, string(URIReasoningChains)+"/")
		if !ok || id == "" {
			return "", fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		chain, found := e.chains.Get(id)
		if !found {
			return "", fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		body = chain
	}

	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", uri, err)
	}
	return string(data), nil
}
