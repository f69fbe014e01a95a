package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// maxRequestBody bounds the POST bodies inspected before the streamable
// transport sees them.
const maxRequestBody = 4 << 20

type rpcRequest struct {
	ID     mcp.RequestId   `json:"id"`
	Method mcp.MCPMethod   `json:"method"`
	Params json.RawMessage `json:"params"`
}

// answerUnrouted answers a tools/call or resources/read the protocol server
// has no handler for, so unknown names come back as content rather than a
// JSON-RPC error. ok is false for every other message.
func (s *Server) answerUnrouted(ctx context.Context, msg []byte) (resp []byte, ok bool) {
	var req rpcRequest
	if err := json.Unmarshal(msg, &req); err != nil || req.ID.IsNil() {
		return nil, false
	}

	var result any
	switch req.Method {
	case mcp.MethodToolsCall:
		var params mcp.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil || s.tools[params.Name] {
			return nil, false
		}
		res := s.d.CallTool(ctx, params.Name, mcp.CallToolRequest{Params: params}.GetArguments())
		result = toolResult(res)
	case mcp.MethodResourcesRead:
		var params mcp.ReadResourceParams
		if err := json.Unmarshal(req.Params, &params); err != nil || s.routed(params.URI) {
			return nil, false
		}
		result = mcp.ReadResourceResult{Contents: s.readContents(ctx, params.URI)}
	default:
		return nil, false
	}

	out, err := json.Marshal(mcp.JSONRPCResponse{JSONRPC: mcp.JSONRPC_VERSION, ID: req.ID, Result: result})
	if err != nil {
		s.logger.Error("encode unrouted response", zap.String("method", string(req.Method)), zap.Error(err))
		return nil, false
	}
	s.logger.Debug("answered unrouted request", zap.String("method", string(req.Method)))
	return out, true
}

// routed reports whether the protocol server would find a handler for uri.
func (s *Server) routed(uri string) bool {
	if s.resources[uri] {
		return true
	}
	for _, t := range s.templates {
		if t.URITemplate.Regexp().MatchString(uri) {
			return true
		}
	}
	return false
}

// filterStdio copies newline-delimited messages from in to fwd, answering
// unrouted requests directly on out.
func (s *Server) filterStdio(ctx context.Context, in io.Reader, fwd *io.PipeWriter, out io.Writer) {
	reader := bufio.NewReader(in)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if resp, ok := s.answerUnrouted(ctx, line); ok {
				if _, werr := out.Write(append(resp, '\n')); werr != nil {
					fwd.CloseWithError(werr)
					return
				}
			} else if _, werr := fwd.Write(line); werr != nil {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			fwd.Close()
			return
		}
		if err != nil {
			fwd.CloseWithError(err)
			return
		}
	}
}

// lockedWriter serializes whole-message writes from the filter and the
// protocol server.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// fallbackHandler answers unrouted POSTed requests and hands everything else
// to next.
func (s *Server) fallbackHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		r.Body.Close()
		if err != nil {
			http.Error(w, "read request body", http.StatusBadRequest)
			return
		}
		if resp, ok := s.answerUnrouted(r.Context(), body); ok {
			if sid := r.Header.Get(sessionHeader); sid != "" {
				w.Header().Set(sessionHeader, sid)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(resp)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

const sessionHeader = "Mcp-Session-Id"
