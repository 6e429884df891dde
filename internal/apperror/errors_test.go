package apperror

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelOfSameKind(t *testing.T) {
	err := Unavailable("this copy is not available")

	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "this copy is not available", err.Error())
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	err := errors.Wrap(NotFound("loan %s not found", "abc"), "return loan")

	domainErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, domainErr.Kind)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsDomain(err))
}

func TestInfrastructureErrorIsNotDomain(t *testing.T) {
	assert.False(t, IsDomain(errors.New("connection refused")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:             http.StatusNotFound,
		KindValidation:           http.StatusBadRequest,
		KindForbidden:            http.StatusForbidden,
		KindUnavailable:          http.StatusConflict,
		KindAlreadyReturned:      http.StatusConflict,
		KindAlreadyFulfilled:     http.StatusConflict,
		KindDuplicateReservation: http.StatusConflict,
		Kind("mystery"):          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), kind)
	}
}
