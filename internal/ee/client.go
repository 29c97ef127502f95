// Package ee is the adapter for the remote geospatial computation platform.
// It submits expression graphs for reduction, export, and preview rendering.
// All raster state lives on the platform; this client only moves expressions
// out and scalars (or job handles) back.
package ee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fadodo/flood-mapper/internal/config"
	"github.com/fadodo/flood-mapper/internal/ee/expr"
	"github.com/fadodo/flood-mapper/internal/geometry"
	"github.com/fadodo/flood-mapper/internal/observability"
)

// Histogram is the result of a histogram reduction: per-bucket counts and
// the mean value of each bucket.
type Histogram struct {
	Counts      []float64 `json:"counts"`
	BucketMeans []float64 `json:"bucketMeans"`
}

// ExportSpec describes an asset export job.
type ExportSpec struct {
	AssetID   string
	Region    geometry.AOI
	Scale     float64
	CRS       string
	MaxPixels int64
}

// JobStatus reports the state of a submitted export job.
type JobStatus struct {
	ID    string `json:"id"`
	State string `json:"state"` // PENDING, RUNNING, SUCCEEDED, FAILED
	Error string `json:"error,omitempty"`
}

// Client talks to the platform's REST API.
type Client struct {
	baseURL    string
	token      string
	project    string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a platform client from config.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.PlatformBaseURL,
		token:   cfg.PlatformToken,
		project: cfg.PlatformProject,
		httpClient: &http.Client{
			Timeout: cfg.PlatformTimeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

type reduceRequest struct {
	Expression expr.Image   `json:"expression"`
	Region     geometry.AOI `json:"region"`
	Scale      float64      `json:"scale"`
	Reducer    string       `json:"reducer"`
	MaxBuckets int          `json:"maxBuckets,omitempty"`
	BestEffort bool         `json:"bestEffort"`
}

type reduceResponse struct {
	Sum       *float64   `json:"sum,omitempty"`
	Mean      *float64   `json:"mean,omitempty"`
	Histogram *Histogram `json:"histogram,omitempty"`
}

// ReduceSum evaluates the expression and sums pixel values over the region.
func (c *Client) ReduceSum(ctx context.Context, img expr.Image, region geometry.AOI, scale float64) (float64, error) {
	var resp reduceResponse
	req := reduceRequest{Expression: img, Region: region, Scale: scale, Reducer: "sum", BestEffort: true}
	if err := c.post(ctx, "reduce", c.projectPath("value:compute"), req, &resp); err != nil {
		return 0, err
	}
	if resp.Sum == nil {
		return 0, fmt.Errorf("platform response missing sum")
	}
	return *resp.Sum, nil
}

// ReduceMean evaluates the expression and averages pixel values over the region.
func (c *Client) ReduceMean(ctx context.Context, img expr.Image, region geometry.AOI, scale float64) (float64, error) {
	var resp reduceResponse
	req := reduceRequest{Expression: img, Region: region, Scale: scale, Reducer: "mean", BestEffort: true}
	if err := c.post(ctx, "reduce", c.projectPath("value:compute"), req, &resp); err != nil {
		return 0, err
	}
	if resp.Mean == nil {
		return 0, fmt.Errorf("platform response missing mean")
	}
	return *resp.Mean, nil
}

// ReduceHistogram evaluates the expression and histograms pixel values over
// the region with at most maxBuckets buckets.
func (c *Client) ReduceHistogram(ctx context.Context, img expr.Image, region geometry.AOI, scale float64, maxBuckets int) (Histogram, error) {
	var resp reduceResponse
	req := reduceRequest{
		Expression: img, Region: region, Scale: scale,
		Reducer: "histogram", MaxBuckets: maxBuckets, BestEffort: true,
	}
	if err := c.post(ctx, "reduce", c.projectPath("value:compute"), req, &resp); err != nil {
		return Histogram{}, err
	}
	if resp.Histogram == nil {
		return Histogram{}, fmt.Errorf("platform response missing histogram")
	}
	return *resp.Histogram, nil
}

// CollectionSize returns the number of images matched by a collection expression.
func (c *Client) CollectionSize(ctx context.Context, coll expr.Collection) (int, error) {
	req := struct {
		Expression expr.Collection `json:"expression"`
	}{Expression: coll}
	var resp struct {
		Size int `json:"size"`
	}
	if err := c.post(ctx, "size", c.projectPath("collection:size"), req, &resp); err != nil {
		return 0, err
	}
	return resp.Size, nil
}

// ExportImage submits an asynchronous asset export job and returns its ID.
// The job runs on the platform; callers may poll ExportStatus or ignore it.
func (c *Client) ExportImage(ctx context.Context, img expr.Image, spec ExportSpec) (string, error) {
	req := struct {
		Expression expr.Image   `json:"expression"`
		AssetID    string       `json:"assetId"`
		Region     geometry.AOI `json:"region"`
		Scale      float64      `json:"scale"`
		CRS        string       `json:"crs"`
		MaxPixels  int64        `json:"maxPixels"`
	}{img, spec.AssetID, spec.Region, spec.Scale, spec.CRS, spec.MaxPixels}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "export", c.projectPath("image:export"), req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("platform response missing export job id")
	}
	return resp.ID, nil
}

// ExportStatus fetches the current state of an export job.
func (c *Client) ExportStatus(ctx context.Context, jobID string) (JobStatus, error) {
	var status JobStatus
	if err := c.get(ctx, "export", c.projectPath("operations/"+jobID), &status); err != nil {
		return JobStatus{}, err
	}
	return status, nil
}

// Thumbnail renders the expression to a PNG preview of at most dim pixels on
// the longest side and returns the image bytes.
func (c *Client) Thumbnail(ctx context.Context, img expr.Image, region geometry.AOI, dim int) ([]byte, error) {
	req := struct {
		Expression expr.Image   `json:"expression"`
		Region     geometry.AOI `json:"region"`
		Dimensions int          `json:"dimensions"`
		Format     string       `json:"format"`
	}{img, region, dim, "png"}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode thumbnail request: %w", err)
	}
	data, err := c.doRaw(ctx, "thumbnail", http.MethodPost, c.projectPath("image:thumbnail"), body)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) projectPath(suffix string) string {
	return fmt.Sprintf("%s/v1/projects/%s/%s", c.baseURL, c.project, suffix)
}

func (c *Client) post(ctx context.Context, operation, url string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", operation, err)
	}
	data, err := c.doRaw(ctx, operation, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, respBody); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, operation, url string, respBody any) error {
	data, err := c.doRaw(ctx, operation, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, respBody); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, operation, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.PlatformDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.countRequest(operation, "error")
		return nil, fmt.Errorf("%s request: %w", operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countRequest(operation, "error")
		return nil, fmt.Errorf("read %s response: %w", operation, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.countRequest(operation, "error")
		return nil, fmt.Errorf("platform API error: status %d: %s", resp.StatusCode, data)
	}

	c.countRequest(operation, "success")
	return data, nil
}

func (c *Client) countRequest(operation, outcome string) {
	if c.metrics != nil {
		c.metrics.PlatformRequests.WithLabelValues(operation, outcome).Inc()
	}
}
