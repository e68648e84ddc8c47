// Package verifier calls the external Verifier HTTP service that maps a
// client certificate PEM to a uid. It is the only place the Listener trusts
// anything beyond the TLS chain for identity.
package verifier

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tunnelbroker/internal/certutil"
)

// Client calls a Verifier reachable at a fixed SCEP URL.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// New returns a Client with a sane request timeout.
func New(url string) *Client {
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type uidResponse struct {
	UID string `json:"uid"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Verify sends the peer leaf certificate (DER) to the Verifier and returns
// the uid it assigns. A non-2xx response is surfaced as an error carrying
// the Verifier's message field.
func (c *Client) Verify(leafDER []byte) (string, error) {
	pemBytes := certutil.LeafToPEM(leafDER)
	encoded := certutil.PercentEncodeHeader(pemBytes)

	req, err := http.NewRequest(http.MethodGet, c.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build verifier request: %w", err)
	}
	req.Header.Set("X-Mtls-Clientcert", encoded)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("verifier request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read verifier response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		if jsonErr := json.Unmarshal(body, &e); jsonErr == nil && e.Message != "" {
			return "", fmt.Errorf("verifier rejected certificate (%d): %s", resp.StatusCode, e.Message)
		}
		return "", fmt.Errorf("verifier rejected certificate (%d)", resp.StatusCode)
	}

	var ok uidResponse
	if err := json.Unmarshal(body, &ok); err != nil {
		return "", fmt.Errorf("decode verifier response: %w", err)
	}
	if ok.UID == "" {
		return "", fmt.Errorf("verifier returned empty uid")
	}
	return ok.UID, nil
}
