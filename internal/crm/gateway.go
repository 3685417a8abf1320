// Package crm is a gateway to a Bitrix24-style CRM inbound webhook: it
// builds the form-encoded and query-string requests the webhook protocol
// expects, classifies failures into transport versus semantic errors
// (spec.md §7), and exposes one verb per CRM operation the orchestrator
// needs. It never retries internally; retry policy belongs to the caller.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/axelmiami/callbridge/internal/config"
)

// Gateway is a client bound to one CRM webhook.
type Gateway struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	callAdminID  string
	leadUFField  string
	dealUFField  string
}

// New builds a Gateway from the [Bitrix24] and [Daemon] configuration
// sections. The outbound rate limiter is grounded on SPEC_FULL.md §5's
// CRMRatePerSecond knob, shared across every call the gateway serves.
func New(cfg *config.Bitrix24, ratePerSecond float64) *Gateway {
	limit := rate.Limit(ratePerSecond)
	if ratePerSecond <= 0 {
		limit = rate.Inf
	}
	return &Gateway{
		baseURL:     cfg.WebhookURL,
		http:        &http.Client{Timeout: cfg.RequestTimeout},
		limiter:     rate.NewLimiter(limit, 1),
		callAdminID: cfg.CallAdminID,
		leadUFField: cfg.LeadUFListID,
		dealUFField: cfg.DealUFListID,
	}
}

// CallAdminID is the configured service-user on whose behalf calls are
// registered when no agent has yet accepted the call.
func (g *Gateway) CallAdminID() string { return g.callAdminID }

type envelope struct {
	Result           json.RawMessage `json:"result"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// doRequest performs one webhook call and returns the decoded "result"
// payload. method is "GET" or "POST"; for GET, params go on the query
// string, for POST they're form-encoded in the body.
func (g *Gateway) doRequest(ctx context.Context, method, endpoint string, params url.Values) (json.RawMessage, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	target := fmt.Sprintf("%s/%s", g.baseURL, endpoint)

	var req *http.Request
	var err error
	switch method {
	case http.MethodGet:
		if params != nil {
			target += "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	case http.MethodPost:
		body := strings.NewReader(params.Encode())
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, body)
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("unsupported method %s", method)}
	}
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	return g.do(req, endpoint)
}

func (g *Gateway) do(req *http.Request, endpoint string) (json.RawMessage, error) {
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if env.Error != "" {
		return nil, &SemanticError{Endpoint: endpoint, Code: env.Error, Description: env.ErrorDescription}
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil, &SemanticError{Endpoint: endpoint}
	}
	return env.Result, nil
}

// uploadAttachment performs the two-step telephony.externalCall.attachRecord
// upload: a multipart POST to the webhook endpoint to obtain an uploadUrl,
// then a second multipart POST of the same file to that URL (spec.md §6).
func (g *Gateway) uploadAttachment(ctx context.Context, endpoint string, form url.Values, filePath string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}

	step1, err := g.postMultipart(ctx, fmt.Sprintf("%s/%s", g.baseURL, endpoint), form, filePath)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	defer step1.Body.Close()

	body, err := io.ReadAll(step1.Body)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	if step1.StatusCode != http.StatusOK {
		return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("http status %d", step1.StatusCode)}
	}

	var env struct {
		Result struct {
			UploadURL string `json:"uploadUrl"`
		} `json:"result"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if env.Error != "" || env.Result.UploadURL == "" {
		return &SemanticError{Endpoint: endpoint, Code: env.Error, Description: "response did not contain an uploadUrl"}
	}

	step2, err := g.postMultipart(ctx, env.Result.UploadURL, nil, filePath)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	defer step2.Body.Close()
	if step2.StatusCode != http.StatusOK {
		return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("upload http status %d", step2.StatusCode)}
	}
	return nil
}

func (g *Gateway) postMultipart(ctx context.Context, target string, form url.Values, filePath string) (*http.Response, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, values := range form {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, err
			}
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return g.http.Do(req)
}
