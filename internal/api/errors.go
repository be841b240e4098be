package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"classcast/pkg/types"
)

var (
	errUnauthorized   = echo.NewHTTPError(http.StatusUnauthorized, "missing identity headers")
	errInvalidBody    = echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	errInvalidQuery   = echo.NewHTTPError(http.StatusBadRequest, "invalid query parameter")
	errInvalidSession = echo.NewHTTPError(http.StatusBadRequest, "session id is required")
)

// ErrorResponse is the body of every failed request.
// SessionID is set on 409 so the caller can resume the existing session.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

// statusFor maps the shared error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrInvalidState):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	var code int
	var body ErrorResponse

	var httpErr *echo.HTTPError
	var fieldErrs validator.ValidationErrors
	var validationErr *types.ValidationError
	var conflict *types.ConflictError

	switch {
	case errors.As(err, &httpErr):
		if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
			httpErr = herr
		}
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = http.StatusText(code)
		}
	case errors.As(err, &fieldErrs):
		code = http.StatusBadRequest
		body.Error = "validation failed"
		if v, ok := c.Echo().Validator.(*requestValidator); ok {
			body.Fields = v.fieldErrors(fieldErrs)
		}
	case errors.As(err, &validationErr):
		code = http.StatusBadRequest
		body.Error = "validation failed"
		body.Fields = map[string]string{validationErr.Field: validationErr.Reason}
	case errors.As(err, &conflict):
		code = http.StatusConflict
		body.Error = conflict.Error()
		body.SessionID = conflict.ExistingSessionID
	default:
		code = statusFor(err)
		if code == http.StatusInternalServerError {
			// any other error is a server error
			body.Error = http.StatusText(code)
		} else {
			body.Error = err.Error()
		}
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", err, map[string]interface{}{
			"method": c.Request().Method,
			"path":   c.Path(),
		})
	}

	// Send response
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			s.logger.Warn("failed to write error response", err)
		}
	}
}
