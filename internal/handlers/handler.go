package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/OfficialDeepSwap/A2A/internal/api/middleware"
	"github.com/OfficialDeepSwap/A2A/internal/ledger"
	"github.com/OfficialDeepSwap/A2A/internal/models"
	"github.com/OfficialDeepSwap/A2A/internal/store"
)

// DefaultMaxContentBytes bounds the encrypted payload of a single message.
const DefaultMaxContentBytes = 64 * 1024

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	ledger     *ledger.Ledger
	db         store.DataStore
	redis      *store.RedisStore
	log        zerolog.Logger
	maxContent int
}

// NewHandler creates a new Handler. db and redis may be nil when the server
// runs without persistence or notifications.
func NewHandler(l *ledger.Ledger, db store.DataStore, redis *store.RedisStore, log zerolog.Logger, maxContent int) *Handler {
	if maxContent <= 0 {
		maxContent = DefaultMaxContentBytes
	}
	return &Handler{ledger: l, db: db, redis: redis, log: log, maxContent: maxContent}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// ErrorResponse is the body of a rejected ledger operation.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ledgerError writes err with the status code of its kind.
func (h *Handler) ledgerError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	status := statusForKind(kind)
	msg := err.Error()
	if kind == ledger.KindInternal {
		h.log.Error().Err(err).Msg("Ledger operation failed")
		msg = "internal error"
	}
	h.JSON(w, status, ErrorResponse{Error: msg, Kind: kind.String()})
}

func statusForKind(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindAuthorization:
		return http.StatusForbidden
	case ledger.KindState:
		return http.StatusConflict
	case ledger.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// caller returns the authenticated address. Routes behind RequireAuth always
// have one.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (models.Address, bool) {
	addr, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
	}
	return addr, ok
}

func (h *Handler) addressParam(w http.ResponseWriter, r *http.Request, name string) (models.Address, bool) {
	addr, err := models.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agent address")
		return models.Address{}, false
	}
	return addr, true
}

func (h *Handler) hashParam(w http.ResponseWriter, r *http.Request, name string) (models.Hash, bool) {
	id, err := models.ParseHash(chi.URLParam(r, name))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid message id")
		return models.Hash{}, false
	}
	return id, true
}

// queryInt parses a positive integer query parameter, falling back to def
// and capping at max.
func queryInt(r *http.Request, key string, def, max int) int {
	n := def
	if s := r.URL.Query().Get(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			n = v
		}
	}
	if n > max {
		n = max
	}
	return n
}

// maxNameLength bounds agent names, counted in characters.
const maxNameLength = 100

// sanitizeName removes control characters and surrounding whitespace.
// Registration and lookup both go through it so a name resolves the way it
// was stored.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(name)
}
