package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"hotelpipe/internal/logging"
)

// UploadFile posts the file at path to a running server's upload endpoint
// and returns the name the server stored it under. Connection failures and
// 5xx responses are retried a few times.
func UploadFile(ctx context.Context, serverURL, path string, timeout time.Duration) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(serverURL, "/") + "/upload-csv/"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body.Bytes())
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload %s: server returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	logging.Ctx(ctx).Info().Str("file", path).Str("stored_as", out.Filename).Msg("file uploaded")
	return out.Filename, nil
}
