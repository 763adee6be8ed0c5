package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// Streamer is the subset of *oauth.Client the HTTP store needs.
type Streamer interface {
	Stream(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error)
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// HTTPStore talks to the media service.
//
//	GET  {base}/int/media/file/download/id/{id}
//	POST {base}/ext/media/file/upload   (multipart: file, metadata)
type HTTPStore struct {
	baseURL string
	client  Streamer
	logger  *slog.Logger
}

// NewHTTPStore creates an HTTPStore rooted at baseURL.
func NewHTTPStore(baseURL string, client Streamer, logger *slog.Logger) *HTTPStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With(slog.String("component", "content_http")),
	}
}

var _ Store = (*HTTPStore)(nil)

// Download implements Store.Download.
func (s *HTTPStore) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	endpoint := fmt.Sprintf("%s/int/media/file/download/id/%s", s.baseURL, url.PathEscape(id))
	n, err := s.client.Download(ctx, endpoint, w)
	if err != nil {
		return n, fmt.Errorf("failed to download content %s: %w", id, err)
	}
	return n, nil
}

type uploadResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Upload implements Store.Upload. The multipart body is produced on the fly
// through a pipe so the file is never held in memory.
func (s *HTTPStore) Upload(ctx context.Context, obj Object, meta UploadMetadata) (string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode upload metadata: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, obj, metaJSON))
	}()

	header := http.Header{"Content-Type": []string{mw.FormDataContentType()}}
	resp, err := s.client.Stream(ctx, http.MethodPost, s.baseURL+"/ext/media/file/upload", pr, header)
	if err != nil {
		_ = pr.CloseWithError(err)
		return "", fmt.Errorf("failed to upload %s: %w", obj.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode upload response for %s: %w", obj.Name, err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingContentID, obj.Name)
	}

	s.logger.Debug("uploaded content",
		slog.String("name", obj.Name),
		slog.String("content_id", out.Data.ID))
	return out.Data.ID, nil
}

func writeMultipart(mw *multipart.Writer, obj Object, metaJSON []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, obj.Name))
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, obj.Body); err != nil {
		return err
	}

	if err := mw.WriteField("metadata", string(metaJSON)); err != nil {
		return err
	}
	return mw.Close()
}
