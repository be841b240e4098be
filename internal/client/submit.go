package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"classcast/pkg/types"
)

type submitRequest struct {
	Text       string   `json:"text"`
	Language   string   `json:"language"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type apiError struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

// SubmitTranscript posts one recognized segment for the session. It goes over
// the request/response API, never the push channel, and only teachers may call it.
func (c *Controller) SubmitTranscript(ctx context.Context, text, language string, confidence *float64) (*types.TranscriptSegment, error) {
	if c.cfg.Role != types.RoleTeacher {
		return nil, errors.Wrap(types.ErrForbidden, "only teachers can submit transcripts")
	}

	body, err := json.Marshal(submitRequest{Text: text, Language: language, Confidence: confidence})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode transcript")
	}
	endpoint := strings.TrimSuffix(c.cfg.ServerURL, "/") + "/api/sessions/" + url.PathEscape(c.cfg.SessionID) + "/transcripts"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.cfg.UserID)
	req.Header.Set("X-User-Role", c.cfg.Role)
	if c.cfg.Name != "" {
		req.Header.Set("X-User-Name", c.cfg.Name)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "transcript submission failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		err := statusError(resp.StatusCode, apiErr)
		if apiErr.Error != "" {
			err = errors.Wrap(err, apiErr.Error)
		}
		return nil, err
	}

	var segment types.TranscriptSegment
	if err := json.NewDecoder(resp.Body).Decode(&segment); err != nil {
		return nil, errors.Wrap(err, "invalid transcript response")
	}
	return &segment, nil
}

// statusError maps an API status back to the shared error taxonomy
func statusError(code int, body apiError) error {
	switch code {
	case http.StatusNotFound:
		return types.ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return types.ErrForbidden
	case http.StatusConflict:
		return &types.ConflictError{ExistingSessionID: body.SessionID}
	case http.StatusBadRequest:
		// field errors mean bad input; a bare 400 means the session is not ACTIVE
		if len(body.Fields) > 0 {
			return types.ErrValidation
		}
		return types.ErrInvalidState
	default:
		return errors.Errorf("unexpected status %d", code)
	}
}
