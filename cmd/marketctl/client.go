package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
)

// apiError is a non-2xx response from the daemon.
type apiError struct {
	Status  int
	Kind    string
	Message string
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// client calls the daemon's HTTP API, signing writes with signer.
type client struct {
	base   string
	signer *crypto.Signer
	http   *http.Client
	now    func() time.Time
}

func newClient(base string, signer *crypto.Signer) *client {
	return &client{
		base:   strings.TrimRight(base, "/"),
		signer: signer,
		http:   &http.Client{Timeout: 15 * time.Second},
		now:    time.Now,
	}
}

var errNoKey = errors.New("this command needs a key: set -key, MARKETCTL_KEY or -key-file")

// do sends body as JSON and decodes the response into out. Requests other
// than GET are signed.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if method != http.MethodGet {
		if c.signer == nil {
			return errNoKey
		}
		// The daemon verifies the path without the query string.
		headers, err := c.signer.SignRequest(method, req.URL.Path, raw, c.now())
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Kind: e.Kind, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
