package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"relay/cmd/internal/blobstore"
	v1 "relay/shared/contracts/relay/v1"
)

type onlineUsersResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

type debugHistoryResponse struct {
	HistoryFileID string       `json:"historyFileId"`
	MessageCount  int          `json:"messageCount"`
	Messages      []v1.Message `json:"messages"`
}

// Handler returns the full HTTP surface wrapped in the middleware chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.dbPool != nil {
			if err := PingDB(r.Context(), a.dbPool, 2*time.Second); err != nil {
				a.log.Info("readyz.db.not_ready", "err", err)
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if !a.history.Ready() {
			http.Error(w, "history not initialized", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", a.metrics.Handler())

	mux.HandleFunc("GET /chat-history/clear", a.handleClearHistory)
	mux.HandleFunc("POST /chat-history/clear", a.handleClearHistory)
	mux.HandleFunc("GET /chat-history/status", a.handleHistoryStatus)
	mux.HandleFunc("GET /debug/chat-history", a.handleDebugHistory)
	mux.HandleFunc("GET /online-users", a.handleOnlineUsers)
	mux.HandleFunc("GET /blobs/{id}", a.handleBlob)

	mux.Handle("/ws", a.ws)
}

func (a *App) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.history.Clear(r.Context()); err != nil {
		a.log.Error("http.history.clear.fail", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat history cleared"})
}

func (a *App) handleHistoryStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.history.Status(r.Context()))
}

func (a *App) handleDebugHistory(w http.ResponseWriter, r *http.Request) {
	msgs := a.history.Load(r.Context())
	writeJSON(w, http.StatusOK, debugHistoryResponse{
		HistoryFileID: a.history.DocumentID(),
		MessageCount:  len(msgs),
		Messages:      msgs,
	})
}

func (a *App) handleOnlineUsers(w http.ResponseWriter, _ *http.Request) {
	users := a.hub.Registry().ActiveIdentities()
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, onlineUsersResponse{Users: users, Count: len(users)})
}

// handleBlob serves uploads of backends that keep the bytes themselves. Private blobs are
// reported as missing.
func (a *App) handleBlob(w http.ResponseWriter, r *http.Request) {
	reader, ok := a.store.(blobstore.BlobReader)
	if !ok {
		http.NotFound(w, r)
		return
	}

	blob, err := reader.OpenBlob(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
	case errors.Is(err, blobstore.ErrNotFound), errors.Is(err, blobstore.ErrUnsupported), errors.Is(err, blobstore.ErrInvalidInput):
		http.NotFound(w, r)
		return
	default:
		a.log.Error("http.blob.fail", "err", err, "blob_id", r.PathValue("id"))
		http.Error(w, "blob unavailable", http.StatusBadGateway)
		return
	}
	if !blob.Public {
		http.NotFound(w, r)
		return
	}

	mimeType := blob.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(blob.Data)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
