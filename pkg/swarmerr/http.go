package swarmerr

import "net/http"

// HTTPStatus maps an error's category to the status code used when the
// taxonomy is exposed over HTTP.
//
// resource-corrupted and resource-failure deviate from their category: a
// corrupt record or a failing disk is a server-side failure, not a client
// lookup miss.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusOK
	}
	if e.Kind == KindCorrupted || e.Kind == KindResourceFailure {
		return http.StatusInternalServerError
	}

	switch e.Category {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuthentication:
		return http.StatusUnauthorized
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryResource:
		return http.StatusNotFound
	case CategoryService:
		return http.StatusServiceUnavailable
	case CategoryDependency, CategoryNetwork:
		return http.StatusBadGateway
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus builds an Error for a non-2xx response received from a
// worker or the hub, used by clients that could not decode a structured
// error body.
func FromHTTPStatus(status int, message string) *Error {
	switch {
	case status == http.StatusNotFound:
		return New(KindNotFound, message)
	case status == http.StatusBadRequest:
		return New(KindInvalidInput, message)
	case status == http.StatusServiceUnavailable:
		return New(KindUnavailable, message)
	case status == http.StatusGatewayTimeout:
		return New(KindTimeout, message)
	case status == http.StatusBadGateway:
		return New(KindNetwork, message)
	case status >= 500:
		return New(KindInternal, message)
	default:
		return New(KindDependency, message)
	}
}
