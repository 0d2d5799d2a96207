// Package spine implements the outbound messaging transport: it delivers a
// serialized distribution envelope to the regional clinical messaging
// endpoint over TLS and reports whether the receiving system accepted it.
//
// The immediate boolean accept/reject is the sole success signal; no
// asynchronous acknowledgement is tracked.
package spine

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/savegress/telecare/internal/config"
)

const contentType = "application/xml; charset=utf-8"

// Sender delivers serialized envelopes to the messaging endpoint
type Sender struct {
	endpoint      string
	fromASID      string
	toASID        string
	signingSecret string
	client        *http.Client
}

// NewSender creates a sender from configuration
func NewSender(cfg config.SpineConfig) *Sender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	return &Sender{
		endpoint:      cfg.Endpoint,
		fromASID:      cfg.FromASID,
		toASID:        cfg.ToASID,
		signingSecret: cfg.SigningSecret,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Send posts the message to the endpoint. It returns (true, nil) when the
// endpoint accepted the message, (false, nil) when the endpoint explicitly
// refused it, and a transport error otherwise.
func (s *Sender) Send(ctx context.Context, message []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(message))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	if s.fromASID != "" {
		req.Header.Set("X-From-ASID", s.fromASID)
	}
	if s.toASID != "" {
		req.Header.Set("X-To-ASID", s.toASID)
	}
	req.Header.Set("X-Content-Digest", digest(message))

	if s.signingSecret != "" {
		token, err := s.bearerToken()
		if err != nil {
			return false, fmt.Errorf("failed to sign request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return true, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The endpoint understood the request and refused it
		return false, nil
	default:
		return false, fmt.Errorf("endpoint returned %s", resp.Status)
	}
}

// digest returns the hex SHA3-256 digest of the message body
func digest(message []byte) string {
	sum := sha3.Sum256(message)
	return hex.EncodeToString(sum[:])
}

func (s *Sender) bearerToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": s.fromASID,
		"aud": s.endpoint,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"jti": uuid.New().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.signingSecret))
}
