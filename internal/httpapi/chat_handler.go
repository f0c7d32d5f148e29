package httpapi

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"llm_router/internal/auth"
	"llm_router/internal/gateway"
	"llm_router/internal/utils"
)

// handleChat serves POST /v1/chat/completions.
//
// Flow:
//  1. Authenticate the bearer universal key and apply the rate limit
//  2. Decode and validate the OpenAI-style body
//  3. Select provider and model (alias, literal or inferred)
//  4. Resolve and decrypt the caller's credential for that provider
//  5. Dispatch through the adapter
//  6. Answer with the envelope, or replay it as SSE when stream is set
//
// A usage record is written for every authenticated request.
func (d *Dependencies) handleChat(w http.ResponseWriter, r *http.Request) {
	reqID := chimw.GetReqID(r.Context())
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	res, err := d.Gateway.Handle(r.Context(), auth.BearerToken(r), reqID, body)
	if err != nil {
		e := writeError(w, err)
		d.Metrics.ObserveRequest(e.Status, res.Provider)
		return
	}

	if res.Stream {
		d.writeStream(w, res.Completion)
	} else {
		_ = utils.RespondWithJSON(w, http.StatusOK, res.Completion)
	}
	d.Metrics.ObserveRequest(http.StatusOK, res.Provider)
}

func (d *Dependencies) writeStream(w http.ResponseWriter, c *gateway.ChatCompletion) {
	if _, ok := w.(http.Flusher); !ok {
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := gateway.WriteStream(w, c); err != nil {
		d.Logger.Debug("stream write failed", zap.String("completion_id", c.ID), zap.Error(err))
	}
}
