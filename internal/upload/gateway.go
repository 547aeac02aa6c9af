package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/h2non/filetype"
	"go.uber.org/zap"
)

// File is a binary payload handed to the gateway for upload
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result is the per-file upload outcome. Exactly one of URL or Err is set,
// and results are positionally aligned with the input batch.
type Result struct {
	URL string
	Err error
}

// Gateway uploads a batch of files to an external object store. A failed
// individual upload is reported in its Result, not as a returned error;
// only total gateway unavailability returns a non-nil error.
type Gateway interface {
	UploadFiles(ctx context.Context, files []File) ([]Result, error)
}

// Config holds object store connection settings
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPGateway implements Gateway against an HTTP object store API that
// accepts a multipart batch and answers with one outcome per file.
type HTTPGateway struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewHTTPGateway creates an HTTPGateway with its own timeout-bounded client
func NewHTTPGateway(config Config, logger *zap.Logger) *HTTPGateway {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &HTTPGateway{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// uploadResponse is the store's answer: one entry per uploaded part, in
// request order
type uploadResponse struct {
	Results []uploadResult `json:"results"`
}

type uploadResult struct {
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// UploadFiles posts the whole batch as a single multipart request. An empty
// batch short-circuits without touching the network.
func (g *HTTPGateway) UploadFiles(ctx context.Context, files []File) ([]Result, error) {
	if len(files) == 0 {
		return []Result{}, nil
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, file := range files {
		part, err := writer.CreatePart(partHeader(file))
		if err != nil {
			return nil, fmt.Errorf("failed to build upload request: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, fmt.Errorf("failed to build upload request: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("upload gateway returned status %d: %s", resp.StatusCode, raw)
	}

	var decoded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}

	// The store must answer per file; a mismatched count breaks positional
	// correlation and is treated as total failure.
	if len(decoded.Results) != len(files) {
		return nil, fmt.Errorf("upload gateway returned %d results for %d files", len(decoded.Results), len(files))
	}

	results := make([]Result, len(files))
	for i, r := range decoded.Results {
		if r.URL != "" {
			results[i] = Result{URL: r.URL}
			continue
		}

		message := r.Error
		if message == "" {
			message = "upload rejected"
		}
		results[i] = Result{Err: fmt.Errorf("upload failed for %s: %s", files[i].Name, message)}

		g.logger.Warn("File upload failed",
			zap.String("file", files[i].Name),
			zap.String("reason", message),
		)
	}

	return results, nil
}

// partHeader builds the multipart header for a file, sniffing the content
// type from the payload when the caller did not supply one
func partHeader(file File) textproto.MIMEHeader {
	contentType := file.ContentType
	if contentType == "" {
		if kind, err := filetype.Match(file.Data); err == nil && kind != filetype.Unknown {
			contentType = kind.MIME.Value
		} else {
			contentType = "application/octet-stream"
		}
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, file.Name))
	header.Set("Content-Type", contentType)
	return header
}
