// Package token obtains short-lived credentials for the streaming STT
// service from an external issuer.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrTokenUnavailable means the issuer could not produce a credential.
// The caller treats this as a connector failure; it is never retried here.
var ErrTokenUnavailable = errors.New("stt token unavailable")

type Issuer interface {
	SttToken(ctx context.Context) (string, error)
}

// HTTPIssuer fetches tokens from a backend endpoint.
type HTTPIssuer struct {
	URL        string
	HTTPClient *http.Client
}

func NewHTTPIssuer(url string) *HTTPIssuer {
	return &HTTPIssuer{
		URL:        url,
		HTTPClient: &http.Client{},
	}
}

func (i *HTTPIssuer) SttToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", i.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}

	resp, err := i.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status code: %d", ErrTokenUnavailable, resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTokenUnavailable, err)
	}
	if payload.Token == "" {
		return "", ErrTokenUnavailable
	}

	return payload.Token, nil
}
