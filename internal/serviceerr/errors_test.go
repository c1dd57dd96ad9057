package serviceerr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openkcm/session-exporter/internal/serviceerr"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name        string
		err         *serviceerr.Error
		expectedMsg string
	}{
		{
			name:        "Error with description",
			err:         &serviceerr.Error{Err: serviceerr.CodeNotFound, Description: "archive not found"},
			expectedMsg: "NOT_FOUND: archive not found",
		},
		{
			name:        "Error without description",
			err:         &serviceerr.Error{Err: serviceerr.CodeValidation},
			expectedMsg: "VALIDATION",
		},
		{
			name:        "Predefined error - ErrUnknown",
			err:         serviceerr.ErrUnknown,
			expectedMsg: "UNKNOWN: unknown error",
		},
		{
			name:        "Wrapped cause",
			err:         serviceerr.Wrap(serviceerr.CodeProtocolError, errors.New("PHONE_CODE_INVALID")),
			expectedMsg: "PROTOCOL_ERROR: PHONE_CODE_INVALID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedMsg, tt.err.Error())
		})
	}
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name               string
		code               serviceerr.Code
		expectedHTTPStatus int
	}{
		{name: "Validation returns BadRequest", code: serviceerr.CodeValidation, expectedHTTPStatus: http.StatusBadRequest},
		{name: "FlowExpired returns BadRequest", code: serviceerr.CodeFlowExpired, expectedHTTPStatus: http.StatusBadRequest},
		{name: "ProtocolError returns BadRequest", code: serviceerr.CodeProtocolError, expectedHTTPStatus: http.StatusBadRequest},
		{name: "ConversionError returns BadRequest", code: serviceerr.CodeConversionError, expectedHTTPStatus: http.StatusBadRequest},
		{name: "PackagingError returns InternalServerError", code: serviceerr.CodePackagingError, expectedHTTPStatus: http.StatusInternalServerError},
		{name: "DeliveryError returns BadGateway", code: serviceerr.CodeDeliveryError, expectedHTTPStatus: http.StatusBadGateway},
		{name: "NotFound returns NotFound", code: serviceerr.CodeNotFound, expectedHTTPStatus: http.StatusNotFound},
		{name: "Unknown returns InternalServerError", code: serviceerr.CodeUnknown, expectedHTTPStatus: http.StatusInternalServerError},
		{name: "Unknown code returns InternalServerError", code: serviceerr.Code("unknown_code"), expectedHTTPStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := serviceerr.Error{Err: tt.code}
			assert.Equal(t, tt.expectedHTTPStatus, err.HTTPStatus())
		})
	}
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("building archive: %w", serviceerr.Wrap(serviceerr.CodePackagingError, cause))

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, &serviceerr.Error{Err: serviceerr.CodePackagingError})
	assert.NotErrorIs(t, err, &serviceerr.Error{Err: serviceerr.CodeDeliveryError})
	assert.Equal(t, serviceerr.CodePackagingError, serviceerr.CodeOf(err))
	assert.Equal(t, serviceerr.CodeUnknown, serviceerr.CodeOf(cause))
	assert.ErrorIs(t, serviceerr.New(serviceerr.CodeFlowExpired, "gone"), serviceerr.ErrFlowExpired)
}
