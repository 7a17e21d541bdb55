package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/audiolibrelab/cliptalk/internal/media"
)

// SessionHeader identifies the conversation on follow-up requests.
const SessionHeader = "X-Session-ID"

// ClientConfig configures the HTTP transport.
type ClientConfig struct {
	Endpoint      string
	ReplyEndpoint string
	FieldName     string
	FileName      string
	Timeout       time.Duration
	UserAgent     string
}

// Client posts clips to the backend over HTTP as multipart form data.
type Client struct {
	http *resty.Client
	cfg  ClientConfig
}

// NewClient creates a Client. Empty field and file names fall back to
// "video" and "recording.webm".
func NewClient(cfg ClientConfig) *Client {
	if cfg.FieldName == "" {
		cfg.FieldName = "video"
	}
	if cfg.FileName == "" {
		cfg.FileName = "recording.webm"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cliptalk"
	}

	hc := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json, text/plain, */*")

	return &Client{http: hc, cfg: cfg}
}

// FollowUp reports whether a reply endpoint is configured.
func (c *Client) FollowUp() bool {
	return c.cfg.ReplyEndpoint != ""
}

// Upload sends the clip and its metadata. progress is called from the
// sending goroutine as body bytes are handed to the connection.
func (c *Client) Upload(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	fieldName, fileName := c.cfg.FieldName, c.cfg.FileName
	if req.FieldName != "" {
		fieldName = req.FieldName
	}
	if req.FileName != "" {
		fileName = req.FileName
	}

	body, contentType, err := encodeMultipart(req, fieldName, fileName)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("failed to encode upload: %w", err)}
	}

	// An io.Reader body without SetContentLength is streamed by resty, so
	// the reader sees the bytes as the connection consumes them.
	reader := &progressReader{r: bytes.NewReader(body), total: int64(len(body)), fn: progress}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(reader).
		SetError(&apiError{}).
		Post(c.cfg.Endpoint)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if !resp.IsSuccess() {
		return nil, rejected(resp)
	}
	return parseResult(resp)
}

// Reply asks the backend for its response to the last upload.
func (c *Client) Reply(ctx context.Context, sessionID string) (*Reply, error) {
	if c.cfg.ReplyEndpoint == "" {
		return nil, ErrNoReplyEndpoint
	}

	r := c.http.R().SetContext(ctx).SetError(&apiError{})
	if sessionID != "" {
		r.SetHeader(SessionHeader, sessionID)
	}
	resp, err := r.Get(c.cfg.ReplyEndpoint)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if !resp.IsSuccess() {
		return nil, rejected(resp)
	}
	return &Reply{
		ContentType: resp.Header().Get("Content-Type"),
		Payload:     resp.Body(),
	}, nil
}

func transportError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return &Error{Kind: KindAborted, Err: ctx.Err()}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

func encodeMultipart(req Request, fieldName, fileName string) ([]byte, string, error) {
	if req.Clip == nil {
		return nil, "", fmt.Errorf("no clip")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, fileName))
	h.Set("Content-Type", req.Clip.ContainerType())
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, req.Clip.Reader()); err != nil {
		return nil, "", err
	}

	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, "", err
	}
	mh := make(textproto.MIMEHeader)
	mh.Set("Content-Disposition", `form-data; name="metadata"`)
	mh.Set("Content-Type", "application/json")
	part, err = w.CreatePart(mh)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(meta); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}

// apiError is the error body shape the backend uses. Any of the three
// fields may carry the explanation.
type apiError struct {
	Detail  json.RawMessage `json:"detail"`
	Reason  string          `json:"error"`
	Message string          `json:"message"`
}

func (a *apiError) text() string {
	if a == nil {
		return ""
	}
	if len(a.Detail) > 0 && string(a.Detail) != "null" {
		var s string
		if err := json.Unmarshal(a.Detail, &s); err == nil {
			if s != "" {
				return s
			}
		} else {
			return string(a.Detail)
		}
	}
	if a.Reason != "" {
		return a.Reason
	}
	return a.Message
}

func rejected(resp *resty.Response) *Error {
	e := &Error{Kind: KindServerRejected, Status: resp.StatusCode()}
	if apiErr, ok := resp.Error().(*apiError); ok {
		e.Detail = apiErr.text()
	}
	if e.Detail == "" && isText(resp.Header().Get("Content-Type")) {
		if text := strings.TrimSpace(string(resp.Body())); len(text) <= 200 {
			e.Detail = text
		}
	}
	return e
}

// referenceKeys are the response fields that may hold the remote reference,
// in order of preference.
var referenceKeys = []string{"reference", "url", "video_url", "id"}

func parseResult(resp *resty.Response) (*Result, error) {
	ct := resp.Header().Get("Content-Type")
	body := resp.Body()
	res := &Result{
		ContentType: ct,
		Payload:     body,
		Reference:   resp.Header().Get("Location"),
	}
	if !isJSON(ct) || len(bytes.TrimSpace(body)) == 0 {
		return res, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &Error{
			Kind:   KindServerRejected,
			Status: resp.StatusCode(),
			Detail: "malformed response payload",
			Err:    err,
		}
	}
	for _, key := range referenceKeys {
		if v, ok := fields[key].(string); ok && v != "" {
			res.Reference = v
			break
		}
	}
	return res, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func isText(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && strings.HasPrefix(mt, "text/")
}

var _ Transport = (*Client)(nil)

// clipRequest builds a request for a clip with default form names.
func clipRequest(clip *media.Clip, meta media.Metadata) Request {
	return Request{Clip: clip, Metadata: meta}
}
