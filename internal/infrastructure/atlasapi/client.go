package atlasapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
	"github.com/kirillkom/atlas-slicer/internal/core/ports"
	"github.com/kirillkom/atlas-slicer/internal/infrastructure/resilience"
)

const (
	UploadPath  = "/api/v1/upload"
	ProcessPath = "/api/v1/process"

	uploadField = "image"
)

type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Limiter    *rate.Limiter
	Executor   *resilience.Executor
	Contract   *Contract
	Observer   ports.RequestObserver
	Logger     *slog.Logger
}

type uploadResponse struct {
	Filename string `json:"filename"`
}

type processResponse struct {
	DownloadURL string `json:"download_url"`
}

// Client talks to the atlas slicing service. It implements both
// ports.Uploader and ports.Processor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
	contract   *Contract
	observer   ports.RequestObserver
	logger     *slog.Logger
}

func New(baseURL string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		limiter:    opts.Limiter,
		executor:   opts.Executor,
		contract:   opts.Contract,
		observer:   opts.Observer,
		logger:     logger,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Upload(ctx context.Context, file domain.CandidateFile) (domain.AssetIdentifier, error) {
	response, err := resilience.Do(ctx, c.executor, breakerOperation("upload"), func(callCtx context.Context) (uploadResponse, error) {
		var out uploadResponse
		body, contentType, err := encodeUpload(file)
		if err != nil {
			return out, fmt.Errorf("encode upload body: %w", err)
		}
		err = c.post(callCtx, "upload", UploadPath, body, contentType, schemaUploadResponse, &out)
		return out, err
	}, classifyAtlasError)
	if err != nil {
		return "", wrapOperationError(domain.ErrUpload, "upload", err)
	}
	filename := strings.TrimSpace(response.Filename)
	if filename == "" {
		return "", domain.WrapError(domain.ErrUpload, "upload", errors.New("response has no filename"))
	}
	return domain.AssetIdentifier(filename), nil
}

func (c *Client) Process(ctx context.Context, asset domain.AssetIdentifier) (domain.ResultLocator, error) {
	if strings.TrimSpace(string(asset)) == "" {
		return "", domain.WrapError(domain.ErrProcessing, "process", errors.New("empty asset identifier"))
	}

	payload, err := json.Marshal(struct {
		Filename string `json:"filename"`
	}{Filename: string(asset)})
	if err != nil {
		return "", domain.WrapError(domain.ErrProcessing, "process", fmt.Errorf("marshal request: %w", err))
	}

	response, err := resilience.Do(ctx, c.executor, breakerOperation("process"), func(callCtx context.Context) (processResponse, error) {
		var out processResponse
		err := c.post(callCtx, "process", ProcessPath, bytes.NewReader(payload), "application/json", schemaProcessResponse, &out)
		return out, err
	}, classifyAtlasError)
	if err != nil {
		return "", wrapOperationError(domain.ErrProcessing, "process", err)
	}
	locator := strings.TrimSpace(response.DownloadURL)
	if locator == "" {
		return "", domain.WrapError(domain.ErrProcessing, "process", errors.New("response has no download_url"))
	}
	return domain.ResultLocator(locator), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeUpload builds a multipart body with the file bytes in the image
// field, keeping the declared media type on the part.
func encodeUpload(file domain.CandidateFile) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	name := file.Name
	if strings.TrimSpace(name) == "" {
		name = "image.png"
	}
	mediaType := file.MediaType
	if strings.TrimSpace(mediaType) == "" {
		mediaType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadField, quoteEscaper.Replace(name)))
	header.Set("Content-Type", mediaType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
