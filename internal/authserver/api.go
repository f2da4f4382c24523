package authserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// Envelope wraps every response body. Code mirrors the HTTP status.
type Envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type API struct {
	service *Service
	logger  *slog.Logger
}

func NewAPI(service *Service) *API {
	return &API{service: service, logger: service.logger}
}

// Router mounts the auth endpoints under /api/auth.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	a.BuildRouter(r.PathPrefix("/api/auth").Subrouter())
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.writeEnvelope(w, http.StatusNotFound, "not found", nil)
	})
	return r
}

func (a *API) BuildRouter(r *mux.Router) {
	r.HandleFunc("/register", a.Register()).Methods(http.MethodPost)
	r.HandleFunc("/login", a.Login()).Methods(http.MethodPost)
	r.HandleFunc("/refresh-token", a.Refresh()).Methods(http.MethodPost)
	r.HandleFunc("/logout", a.Logout()).Methods(http.MethodPost)
	r.Handle("/user-info", a.requireBearer(a.UserInfo())).Methods(http.MethodGet)
}

type userKey struct{}

func (a *API) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			a.writeError(w, r, ErrTokenInvalid)
			return
		}

		user, err := a.service.Authenticate(token)
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) *UserInfo {
	user, _ := ctx.Value(userKey{}).(*UserInfo)
	return user
}

func decodeRequest[T any](
	a *API,
	req *T,
	w http.ResponseWriter,
	r *http.Request,
) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		a.logApiErr(r, "bad json request", err)
		a.writeEnvelope(w, http.StatusBadRequest, "bad json request", nil)
		return false
	}
	return true
}

func (a *API) writeData(w http.ResponseWriter, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		a.writeEnvelope(w, http.StatusInternalServerError, "couldn't encode response", nil)
		return
	}
	a.writeEnvelope(w, http.StatusOK, "success", raw)
}

func (a *API) writeError(
	w http.ResponseWriter,
	r *http.Request,
	err error,
) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		a.logApiErr(r, "internal error", err)
		message = ErrInternal.Error()
	} else {
		a.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	a.writeEnvelope(w, status, message, nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeEnvelope(
	w http.ResponseWriter,
	status int,
	message string,
	data json.RawMessage,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Code:      status,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (a *API) logApiErr(r *http.Request, msg string, err error) {
	a.logger.Error(msg, "method", r.Method, "path", r.URL.Path, "error", err)
}
