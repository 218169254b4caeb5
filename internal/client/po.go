package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/raphaelgruber/sqlchat-go/internal/metrics"
	"github.com/raphaelgruber/sqlchat-go/internal/models"
)

// =============================================================================
// PURCHASE ORDER OPERATIONS
// =============================================================================

// POList is a filtered listing of a project's purchase orders.
type POList struct {
	POs         []models.PurchaseOrder `json:"pos"`
	Count       int                    `json:"count"`
	ProjectName string                 `json:"project_name"`
	Summary     models.POSummary       `json:"summary"`
}

// ProjectPOs lists a project's purchase orders. orderDate (YYYY-MM-DD) is
// optional; when empty all orders are returned.
func (c *Client) ProjectPOs(ctx context.Context, projectID, orderDate string) (*POList, error) {
	path := "/po/project/" + url.PathEscape(projectID)
	if orderDate != "" {
		path += "?" + url.Values{"order_date": {orderDate}}.Encode()
	}

	var result POList
	if err := c.Do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DownloadPO returns the PDF of a purchase order.
func (c *Client) DownloadPO(ctx context.Context, poNumber string) ([]byte, error) {
	return c.fetchPDF(ctx, http.MethodGet, "/po/download/"+url.PathEscape(poNumber), nil)
}

// ViewPO returns the inline-rendered PDF of a purchase order.
func (c *Client) ViewPO(ctx context.Context, poNumber string) ([]byte, error) {
	return c.fetchPDF(ctx, http.MethodGet, "/po/view/"+url.PathEscape(poNumber), nil)
}

// ReportRequest describes a report to render as PDF.
type ReportRequest struct {
	Title       string           `json:"title"`
	Query       string           `json:"query,omitempty"`
	SQLQuery    string           `json:"sql_query,omitempty"`
	Data        []map[string]any `json:"data"`
	Chart       map[string]any   `json:"chart,omitempty"`
	Explanation string           `json:"explanation,omitempty"`
}

// GeneratePDF renders a query result as a PDF report.
func (c *Client) GeneratePDF(ctx context.Context, req ReportRequest) ([]byte, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("%w: report title is required", ErrValidation)
	}
	return c.fetchPDF(ctx, http.MethodPost, "/visualizations/generate-pdf", req)
}

func (c *Client) fetchPDF(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, _, err := c.fetchBinary(req, metrics.OpREST, isPDF)
	return data, err
}
