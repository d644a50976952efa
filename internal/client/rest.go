package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/docservice"
	"github.com/starford/quire/internal/models"
)

// Backend is the durable side of the client: hydration, fresh reads of a
// document being opened, and the durable write contract.
type Backend interface {
	Workspaces(ctx context.Context, ownerID string) ([]models.Workspace, error)
	Document(ctx context.Context, id string) (*docservice.DocumentDetail, error)
	UpdateDocument(ctx context.Context, id string, p models.Patch) error
	CreateDocument(ctx context.Context, req docservice.CreateRequest) (*docservice.DocumentDetail, error)
}

// REST talks to the document API.
type REST struct {
	base  string
	token string
	http  *http.Client
}

// NewREST creates a backend for the API rooted at base,
// e.g. http://localhost:8080/api.
func NewREST(base, token string, hc *http.Client) *REST {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &REST{base: strings.TrimRight(base, "/"), token: token, http: hc}
}

// Workspaces fetches the hydration tree of ownerID.
func (r *REST) Workspaces(ctx context.Context, ownerID string) ([]models.Workspace, error) {
	var resp struct {
		Workspaces []models.Workspace `json:"workspaces"`
	}
	path := "/workspaces"
	if ownerID != "" {
		path += "?owner=" + url.QueryEscape(ownerID)
	}
	if err := r.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workspaces, nil
}

// Document fetches one document with its content.
func (r *REST) Document(ctx context.Context, id string) (*docservice.DocumentDetail, error) {
	var doc docservice.DocumentDetail
	if err := r.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocument performs the durable write.
func (r *REST) UpdateDocument(ctx context.Context, id string, p models.Patch) error {
	return r.do(ctx, http.MethodPatch, "/documents/"+url.PathEscape(id), p, nil)
}

// CreateDocument inserts a workspace, folder or file.
func (r *REST) CreateDocument(ctx context.Context, req docservice.CreateRequest) (*docservice.DocumentDetail, error) {
	var doc docservice.DocumentDetail
	if err := r.do(ctx, http.MethodPost, "/documents", req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *REST) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, reader)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return fmt.Errorf("client: %s %s: %w", method, path, statusError(resp.StatusCode, e.Error))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func statusError(code int, msg string) error {
	if msg == "" {
		msg = http.StatusText(code)
	}
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", apperr.ErrConflict, msg)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", apperr.ErrInvalidContent, msg)
	}
	return fmt.Errorf("status %d: %s", code, msg)
}
