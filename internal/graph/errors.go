package graph

import (
	"errors"

	abstractions "github.com/microsoft/kiota-abstractions-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
)

// providerError maps a Graph SDK error to an apperrors.ProviderError, pulling
// status, code and message out of the OData error body when there is one.
func providerError(op string, err error) error {
	if err == nil {
		return nil
	}

	pe := &apperrors.ProviderError{Op: op, Err: err}

	var odataErr *odataerrors.ODataError
	var apiErr *abstractions.ApiError
	switch {
	case errors.As(err, &odataErr):
		pe.Status = odataErr.ResponseStatusCode
		if main := odataErr.GetErrorEscaped(); main != nil {
			pe.Code = deref(main.GetCode())
			pe.Message = deref(main.GetMessage())
		}
	case errors.As(err, &apiErr):
		pe.Status = apiErr.ResponseStatusCode
		pe.Message = apiErr.Message
	}

	if pe.Message == "" {
		pe.Message = err.Error()
	}
	return pe
}
