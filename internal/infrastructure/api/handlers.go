package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"shopify-catalog-mirror/internal/application"
	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/infrastructure/pubsub"

	"github.com/go-chi/chi/v5"
)

type shopKey struct{}

// requireShop validates the {shop} path parameter and stores it in the context
func requireShop(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shop := chi.URLParam(r, "shop")
		if !domain.IsShopDomain(shop) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid shop domain %q", shop)})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), shopKey{}, shop)))
	})
}

func shopFrom(r *http.Request) string {
	shop, _ := r.Context().Value(shopKey{}).(string)
	return shop
}

// putCredentialRequest is the output of the authorization handshake
type putCredentialRequest struct {
	SessionID   string     `json:"session_id"`
	AccessToken string     `json:"access_token"`
	Scope       string     `json:"scope"`
	Scopes      []string   `json:"scopes"`
	IsOnline    bool       `json:"is_online"`
	ExpiresAt   *time.Time `json:"expires_at"`
	UserID      *int64     `json:"user_id"`
}

func (s *Server) putCredential(w http.ResponseWriter, r *http.Request) {
	var req putCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
		return
	}
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = domain.ParseScopes(req.Scope)
	}

	saved, err := s.services.Credentials.Put(r.Context(), domain.Credential{
		SessionID:   req.SessionID,
		TenantID:    shopFrom(r),
		AccessToken: req.AccessToken,
		Scopes:      scopes,
		IsOnline:    req.IsOnline,
		ExpiresAt:   req.ExpiresAt,
		UserID:      req.UserID,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, saved.Redacted())
}

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	credentials, err := s.services.Credentials.ListByTenant(r.Context(), shopFrom(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": credentials})
}

func (s *Server) uninstallShop(w http.ResponseWriter, r *http.Request) {
	shop := shopFrom(r)
	n, err := s.services.Credentials.DeleteByTenant(r.Context(), shop)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.services.Sync.Cancel(shop)
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) revokeCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Credentials.Delete(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startSync(w http.ResponseWriter, r *http.Request) {
	var opts application.SyncOptions
	if v := r.URL.Query().Get("from_scratch"); v != "" {
		fromScratch, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, s.logger, fmt.Errorf("%w: from_scratch must be a boolean", errBadRequest))
			return
		}
		opts.FromScratch = fromScratch
	}

	run, err := s.services.Sync.Start(r.Context(), shopFrom(r), opts)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	checkpoint, err := s.services.Sync.Status(r.Context(), shopFrom(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, checkpoint)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Reconciler.Reconcile(r.Context(), shopFrom(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.services.Catalog.ListProducts(r.Context(), shopFrom(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"products": products})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.services.Catalog.GetProduct(r.Context(), shopFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) getLiveProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.services.Catalog.FetchLive(r.Context(), shopFrom(r), chi.URLParam(r, "id"), r.Header.Get("X-Session-ID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// streamSyncEvents streams sync transitions as Server-Sent Events until the client goes away
func (s *Server) streamSyncEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, s.logger, fmt.Errorf("streaming unsupported"))
		return
	}

	filter := &pubsub.SyncEventFilter{Shop: r.URL.Query().Get("shop")}
	sub := s.services.Events.Subscribe(r.Context(), filter)
	defer s.services.Events.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done:
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error().Err(err).Str("runId", event.RunID).Msg("Failed to encode sync event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: sync\nid: %s\ndata: %s\n\n", event.RunID, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
