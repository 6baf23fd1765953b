package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(TimeoutKind, "waited too long", cause)

	assert.Equal(t, TimeoutKind, KindOf(err))
	assert.True(t, errors.Is(err, err))
	assert.Contains(t, err.Error(), "boom")
}

func TestKindOfDefaultsToHypervisor(t *testing.T) {
	assert.Equal(t, HypervisorKind, KindOf(errors.New("plain error")))
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ValidationKind))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFoundKind))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(TimeoutKind))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(HypervisorKind))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(ExecKind))
}
