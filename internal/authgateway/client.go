// Package authgateway implements the account provider on top of a gateway
// sidecar which speaks the account protocol and owns the session files.
package authgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/openkcm/session-exporter/internal/auth"
)

const (
	pathChallenge = "/v1/challenge"
	pathCode      = "/v1/sign-in/code"
	pathPassword  = "/v1/sign-in/password"

	// errPasswordNeeded is the gateway error for accounts with a second factor.
	errPasswordNeeded = "SESSION_PASSWORD_NEEDED"
)

type Credentials struct {
	APIID   int64
	APIHash string
}

// Client is an auth.Provider backed by the gateway.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	credentials Credentials
}

func NewClient(baseURL string, credentials Credentials, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing gateway url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:     u,
		httpClient:  httpClient,
		credentials: credentials,
	}, nil
}

type challengeRequest struct {
	APIID       int64  `json:"apiId"`
	APIHash     string `json:"apiHash"`
	SessionPath string `json:"sessionPath"`
	PhoneNumber string `json:"phoneNumber"`
}

type challengeResponse struct {
	PhoneCodeHash string `json:"phoneCodeHash"`
}

type codeRequest struct {
	APIID         int64  `json:"apiId"`
	APIHash       string `json:"apiHash"`
	SessionPath   string `json:"sessionPath"`
	PhoneNumber   string `json:"phoneNumber"`
	PhoneCodeHash string `json:"phoneCodeHash"`
	Code          string `json:"code"`
}

type passwordRequest struct {
	APIID       int64  `json:"apiId"`
	APIHash     string `json:"apiHash"`
	SessionPath string `json:"sessionPath"`
	Password    string `json:"password"`
}

type signInResponse struct {
	UserID string `json:"userId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) IssueChallenge(ctx context.Context, storePath, identifier string) (string, error) {
	var resp challengeResponse
	err := c.post(ctx, pathChallenge, challengeRequest{
		APIID:       c.credentials.APIID,
		APIHash:     c.credentials.APIHash,
		SessionPath: storePath,
		PhoneNumber: identifier,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.PhoneCodeHash == "" {
		return "", errors.New("gateway returned an empty code hash")
	}

	return resp.PhoneCodeHash, nil
}

func (c *Client) VerifyCode(ctx context.Context, storePath, identifier, challengeHash, code string) (auth.Account, error) {
	var resp signInResponse
	err := c.post(ctx, pathCode, codeRequest{
		APIID:         c.credentials.APIID,
		APIHash:       c.credentials.APIHash,
		SessionPath:   storePath,
		PhoneNumber:   identifier,
		PhoneCodeHash: challengeHash,
		Code:          code,
	}, &resp)
	if err != nil {
		return auth.Account{}, err
	}

	return auth.Account{ID: resp.UserID}, nil
}

func (c *Client) VerifyPassword(ctx context.Context, storePath, password string) (auth.Account, error) {
	var resp signInResponse
	err := c.post(ctx, pathPassword, passwordRequest{
		APIID:       c.credentials.APIID,
		APIHash:     c.credentials.APIHash,
		SessionPath: storePath,
		Password:    password,
	}, &resp)
	if err != nil {
		return auth.Account{}, err
	}

	return auth.Account{ID: resp.UserID}, nil
}

func (c *Client) post(ctx context.Context, path string, body, into any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath(path).String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == errPasswordNeeded {
			return auth.ErrPasswordRequired
		}
		if e.Error != "" {
			return errors.New(e.Error)
		}

		return fmt.Errorf("gateway request failed with status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
