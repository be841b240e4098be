package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

// Provider names accepted in configuration
const (
	ProviderHTTP        = "http"
	ProviderPassthrough = "passthrough"
)

// HTTPTranslator calls a LibreTranslate-compatible endpoint:
// POST {endpoint}/translate {q, source, target, format, api_key} -> {translatedText}
type HTTPTranslator struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

var _ interfaces.Translator = (*HTTPTranslator)(nil)

// NewHTTPTranslator creates a translator for the given base URL
func NewHTTPTranslator(endpoint, apiKey string, timeout time.Duration) *HTTPTranslator {
	return &HTTPTranslator{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

// Translate sends one text to the translation service
func (t *HTTPTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	payload, err := json.Marshal(translateRequest{
		Q:      text,
		Source: sourceLang,
		Target: targetLang,
		Format: "text",
		APIKey: t.apiKey,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode translate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/translate", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "failed to create translate request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(types.ErrTranslation, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(types.ErrTranslation, "failed to read response: "+err.Error())
	}

	var out translateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errors.Wrapf(types.ErrTranslation, "invalid response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", errors.Wrapf(types.ErrTranslation, "status %d: %s", resp.StatusCode, msg)
	}
	if out.TranslatedText == "" {
		return "", errors.Wrap(types.ErrTranslation, "empty translation")
	}
	return out.TranslatedText, nil
}

// PassthroughTranslator tags the text with the target language; used for
// local development without a translation service
type PassthroughTranslator struct{}

var _ interfaces.Translator = PassthroughTranslator{}

func (PassthroughTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", targetLang, text), nil
}

// NewTranslator builds the translator named by provider
func NewTranslator(provider, endpoint, apiKey string, timeout time.Duration) (interfaces.Translator, error) {
	switch provider {
	case ProviderHTTP:
		if endpoint == "" {
			return nil, errors.New("translation endpoint is required for the http provider")
		}
		return NewHTTPTranslator(endpoint, apiKey, timeout), nil
	case ProviderPassthrough, "":
		return PassthroughTranslator{}, nil
	default:
		return nil, errors.Errorf("unknown translation provider %q", provider)
	}
}
