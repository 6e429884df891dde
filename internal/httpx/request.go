package httpx

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"libshelf/internal/apperror"
)

const maxBodyBytes = 1 << 20

// DateLayout is the wire format of calendar dates such as acquired_date.
const DateLayout = "2006-01-02"

// Decode reads a JSON body into dst. Failures are validation errors.
func Decode(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.Validation("request body is empty")
		}
		return apperror.Validation("invalid request body: %v", err)
	}
	return nil
}

// UUIDParam parses a chi URL parameter as a UUID.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.Validation("%s %q is not a valid id", name, raw)
	}
	return id, nil
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperror.Validation("%s is required", field)
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, apperror.Validation("%s must be a date formatted as %s", field, DateLayout)
	}
	return t, nil
}

// QueryInt reads an integer query parameter, falling back to def when absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.Validation("%s must be an integer", name)
	}
	return v, nil
}
