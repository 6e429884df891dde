// Package httpx holds the JSON plumbing shared by every handler.
package httpx

import (
	"net"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"libshelf/internal/apperror"
	"libshelf/internal/log"
)

const contentTypeHeader = `application/json`

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OK sends a 200 response with body encoded as JSON.
func OK(w http.ResponseWriter, r *http.Request, body interface{}) {
	write(w, http.StatusOK, toJSON(body))
}

// Created sends a 201 response.
func Created(w http.ResponseWriter, r *http.Request, body interface{}) {
	write(w, http.StatusCreated, toJSON(body))
}

func NoContent(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNoContent)
}

// Error renders err. Domain errors map to their status and are logged at debug level;
// anything else is an infrastructure failure and becomes a 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	domainErr, ok := apperror.As(err)
	if !ok {
		ServerError(w, r, err)
		return
	}

	status := apperror.HTTPStatus(domainErr.Kind)
	log.Debug(http.StatusText(status), requestFields(r, status, zap.String("code", string(domainErr.Kind)), zap.Error(err))...)
	write(w, status, toJSON(ErrorBody{Code: string(domainErr.Kind), Message: domainErr.Message}))
}

// ServerError sends an internal error to the client without leaking its cause.
func ServerError(w http.ResponseWriter, r *http.Request, err error) {
	log.Error(http.StatusText(http.StatusInternalServerError), requestFields(r, http.StatusInternalServerError, zap.Error(err))...)
	write(w, http.StatusInternalServerError, toJSON(ErrorBody{Code: "internal_error", Message: "internal server error"}))
}

func Unauthorized(w http.ResponseWriter, r *http.Request) {
	log.Warn(http.StatusText(http.StatusUnauthorized), requestFields(r, http.StatusUnauthorized)...)
	write(w, http.StatusUnauthorized, toJSON(ErrorBody{Code: "unauthorized", Message: "missing or invalid X-User-ID header"}))
}

func TooManyRequests(w http.ResponseWriter, r *http.Request) {
	log.Warn(http.StatusText(http.StatusTooManyRequests), requestFields(r, http.StatusTooManyRequests)...)
	write(w, http.StatusTooManyRequests, toJSON(ErrorBody{Code: "rate_limited", Message: "too many requests"}))
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	Error(w, r, apperror.NotFound("resource not found"))
}

func write(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", contentTypeHeader)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

func requestFields(r *http.Request, status int, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("client_ip", FindClientIP(r)),
		zap.String("request.method", r.Method),
		zap.String("request.uri", r.RequestURI),
		zap.String("request.user_agent", r.UserAgent()),
		zap.Int("response.status_code", status),
	}
	return append(fields, extra...)
}

// FindClientIP prefers proxy headers over the socket address.
func FindClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func toJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error("Unable to marshal JSON response", zap.Error(err))
		return []byte("")
	}
	return b
}
