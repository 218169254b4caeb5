package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/sqlchat-go/internal/metrics"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

// =============================================================================
// PROJECT OPERATIONS
// =============================================================================

// ListProjects returns the authenticated user's projects.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := c.Do(ctx, http.MethodGet, "/projects/", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject creates a project. The name must not be blank.
func (c *Client) CreateProject(ctx context.Context, name, description string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrValidation)
	}

	body := map[string]string{"name": name, "description": description}
	var project models.Project
	if err := c.Do(ctx, http.MethodPost, "/projects/", body, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// DeleteProject deletes a project by ID.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(id), nil, nil)
}

// =============================================================================
// DOCUMENT OPERATIONS
// =============================================================================

// ProjectDocuments is the document listing of a project.
type ProjectDocuments struct {
	Documents []models.Document     `json:"documents"`
	Counts    models.DocumentCounts `json:"counts"`
}

// ProjectDocuments lists a project's documents with per-type counts.
func (c *Client) ProjectDocuments(ctx context.Context, projectID string) (*ProjectDocuments, error) {
	var result ProjectDocuments
	path := "/documents/project/" + url.PathEscape(projectID)
	if err := c.Do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EmbeddingStatusResponse is the embedding progress of a project.
type EmbeddingStatusResponse struct {
	Status       models.EmbeddingStatus `json:"embedding_status"`
	IsProcessing bool                   `json:"is_processing"`
}

// Processing combines the server flag with the counts.
func (r EmbeddingStatusResponse) Processing() bool {
	return r.IsProcessing || r.Status.IsProcessing()
}

// EmbeddingStatus returns the embedding progress of a project.
func (c *Client) EmbeddingStatus(ctx context.Context, projectID string) (*EmbeddingStatusResponse, error) {
	var result EmbeddingStatusResponse
	path := "/documents/project/" + url.PathEscape(projectID) + "/embedding-status"
	if err := c.Do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadResult summarizes a batch upload.
type UploadResult struct {
	Success      bool              `json:"success"`
	SuccessCount int               `json:"success_count"`
	FailedCount  int               `json:"failed_count"`
	Documents    []models.Document `json:"documents"`
	Errors       []map[string]any  `json:"errors"`
}

// UploadDocuments uploads files to a project as one multipart request.
// Embedding starts server-side after upload; poll EmbeddingStatus to follow it.
func (c *Client) UploadDocuments(ctx context.Context, projectID, documentType string, paths []string) (*UploadResult, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project is required", ErrValidation)
	}
	if !models.ValidDocumentType(documentType) {
		return nil, fmt.Errorf("%w: invalid document type %q", ErrValidation, documentType)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files provided", ErrValidation)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("project_id", projectID); err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}
	if err := w.WriteField("document_type", documentType); err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}
	for _, p := range paths {
		if err := addFilePart(w, p); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/documents/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result UploadResult
	if err := c.send(req, metrics.OpUpload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func addFilePart(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: empty file %s", ErrValidation, path)
	}

	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}

// DeleteDocument deletes a document by ID.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodDelete, "/documents/"+url.PathEscape(id), nil, nil)
}
