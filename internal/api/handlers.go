package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/commdesk/commsync/internal/contactkey"
	"github.com/commdesk/commsync/internal/gateway"
	"github.com/commdesk/commsync/internal/hub"
	"github.com/commdesk/commsync/internal/pipeline"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler serves the daemon's local control API over the session socket.
type Handler struct {
	session string
	hub     *hub.Hub
	logger  *zap.Logger
}

// NewHandler builds the control-plane handler for a session daemon.
func NewHandler(session string, h *hub.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{session: session, hub: h, logger: logger}
}

// Router wires all routes, including the prometheus endpoint backed by reg.
func (h *Handler) Router(reg *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/conversations", h.listConversations).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/refresh", h.refreshAll).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{key}", h.getConversation).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{key}", h.deleteConversation).Methods(http.MethodDelete)
	r.HandleFunc("/v1/conversations/{key}/messages", h.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{key}/refresh", h.refreshOne).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{key}/read", h.markRead).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{key}/focus", h.focus).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{key}/blur", h.blur).Methods(http.MethodPost)
	r.HandleFunc("/v1/contacts", h.saveContact).Methods(http.MethodPost)
	r.HandleFunc("/v1/search", h.search).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/v1/events", h.events).Methods(http.MethodGet)

	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *Handler) listConversations(w http.ResponseWriter, _ *http.Request) {
	convs := h.hub.List()
	out := make([]ConversationSummary, 0, len(convs))
	for i := range convs {
		out = append(out, summaryFromCache(&convs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.hub.Get(mux.Vars(r)["key"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, errors.New("conversation not found"))
		return
	}
	writeJSON(w, http.StatusOK, detailFromCache(conv))
}

func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.Delete(r.Context(), mux.Vars(r)["key"]); err != nil {
		h.writeHubError(w, "delete conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	clientMsgID, err := h.hub.Send(r.Context(), mux.Vars(r)["key"], req.Body)
	if err != nil {
		h.writeHubError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusAccepted, SendResponse{ClientMsgID: clientMsgID})
}

func (h *Handler) refreshAll(w http.ResponseWriter, r *http.Request) {
	_ = h.hub.Refresh(r.Context(), "")
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) refreshOne(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.Refresh(r.Context(), mux.Vars(r)["key"]); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.MarkRead(mux.Vars(r)["key"]); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) focus(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.Focus(r.Context(), mux.Vars(r)["key"]); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) blur(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.Blur(mux.Vars(r)["key"]); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) saveContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := h.hub.SaveContact(r.Context(), req.Key, gateway.ContactDetails{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Organization: req.Organization,
	})
	if err != nil {
		h.writeHubError(w, "save contact", err)
		return
	}
	writeJSON(w, http.StatusCreated, ContactResponse{ContactID: id})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, errors.New("query parameter q is required"))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	results, err := h.hub.Search(q, r.URL.Query().Get("key"), limit)
	if err != nil {
		h.writeHubError(w, "search", err)
		return
	}
	out := make([]SearchHit, 0, len(results))
	for _, res := range results {
		out = append(out, hitFromStore(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Session: h.session,
		State:   string(h.hub.Status()),
	})
}

// writeHubError maps domain errors onto status codes: caller mistakes
// are 400, gateway trouble is 502, everything else 500.
func (h *Handler) writeHubError(w http.ResponseWriter, op string, err error) {
	var ve *pipeline.ValidationError
	var pe *contactkey.ParseError
	switch {
	case errors.As(err, &ve), errors.As(err, &pe):
		writeError(w, http.StatusBadRequest, err)
	case gateway.IsTransient(err):
		writeError(w, http.StatusBadGateway, err)
	case gateway.IsMalformed(err):
		writeError(w, http.StatusBadGateway, err)
	default:
		h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
