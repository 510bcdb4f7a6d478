package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ozerpan/ercom-sync/internal/cache"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/resilience"
)

const maxResponseBytes = 32 << 20

// Outcome is the result of invoking a named remote operation.
type Outcome struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// FileRef identifies an uploaded attachment.
type FileRef struct {
	URL  string `json:"file_url"`
	Name string `json:"file_name"`
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	APIKey    string
	APISecret string
	// HTTP carries the transport, breaker and retry policy for reads.
	HTTP   resilience.HTTPClient
	Cache  *cache.JSON
	Logger zerolog.Logger
}

// Client talks to a Frappe site over its REST API.
//
// Reads go through the retrying HTTP client. Writes and Invoke make exactly
// one attempt: a failed user action is reported once and never replayed.
type Client struct {
	base   string
	auth   string
	read   resilience.HTTPClient
	write  resilience.HTTPClient
	cache  *cache.JSON
	logger zerolog.Logger
}

// New constructs a Client.
func New(opts Options) *Client {
	auth := ""
	if opts.APIKey != "" || opts.APISecret != "" {
		auth = "token " + opts.APIKey + ":" + opts.APISecret
	}
	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		auth:   auth,
		read:   opts.HTTP,
		write:  opts.HTTP.WithAttempts(1),
		cache:  opts.Cache,
		logger: obs.Component(opts.Logger, "erp"),
	}
}

// Invoke calls a whitelisted server method. Every failure is terminal.
func (c *Client) Invoke(ctx context.Context, method string, args map[string]any) (Outcome, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return Outcome{}, errors.New("erp: method name required")
	}
	if args == nil {
		args = map[string]any{}
	}
	var envelope struct {
		Message any `json:"message"`
	}
	if err := c.call(ctx, c.write, "method", http.MethodPost, "/api/method/"+method, nil, args, &envelope); err != nil {
		out := Outcome{OK: false, Message: err.Error()}
		var re *RemoteError
		if errors.As(err, &re) && re.Message != "" {
			out.Message = re.Message
		}
		return out, err
	}
	return outcomeFrom(envelope.Message), nil
}

func outcomeFrom(payload any) Outcome {
	out := Outcome{OK: true, Payload: payload}
	switch p := payload.(type) {
	case string:
		out.Message = p
	case map[string]any:
		if msg, ok := p["message"].(string); ok {
			out.Message = msg
		}
		if status, ok := p["status"].(string); ok {
			switch strings.ToLower(status) {
			case "success", "ok":
			default:
				out.OK = false
			}
		}
	}
	return out
}

// GetDoc fetches a document by name.
func (c *Client) GetDoc(ctx context.Context, doctype, name string) (Doc, error) {
	key := cache.KeyDoc(doctype, name)
	var cached Doc
	if ok, err := c.cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	return c.GetDocFresh(ctx, doctype, name)
}

// GetDocFresh fetches a document from the ERP without consulting the cache
// and stores the result for later GetDoc calls. Use it when the read decides
// a write.
func (c *Client) GetDocFresh(ctx context.Context, doctype, name string) (Doc, error) {
	key := cache.KeyDoc(doctype, name)
	var envelope struct {
		Data Doc `json:"data"`
	}
	if err := c.call(ctx, c.read, "resource", http.MethodGet, resourcePath(doctype, name), nil, nil, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("%s %q: %w", doctype, name, ErrNotFound)
	}
	if err := c.cache.Set(ctx, key, envelope.Data); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("erp_cache_set_failed")
	}
	return envelope.Data, nil
}

// GetList lists documents matching q.
func (c *Client) GetList(ctx context.Context, doctype string, q ListQuery) ([]Doc, error) {
	params := url.Values{}
	if len(q.Filters) > 0 {
		raw, err := json.Marshal(q.Filters)
		if err != nil {
			return nil, err
		}
		params.Set("filters", string(raw))
	}
	fields := q.Fields
	if len(fields) == 0 {
		fields = []string{"name"}
	}
	rawFields, _ := json.Marshal(fields)
	params.Set("fields", string(rawFields))
	if q.OrderBy != "" {
		params.Set("order_by", q.OrderBy)
	}
	params.Set("limit_page_length", strconv.Itoa(q.Limit))

	var envelope struct {
		Data []Doc `json:"data"`
	}
	if err := c.call(ctx, c.read, "resource", http.MethodGet, resourcePath(doctype, ""), params, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Exists returns the name of the first document matching filters, or "".
func (c *Client) Exists(ctx context.Context, doctype string, filters Filters) (string, error) {
	docs, err := c.GetList(ctx, doctype, ListQuery{Filters: filters, Fields: []string{"name"}, Limit: 1})
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	return docs[0].Name(), nil
}

// FindDoc loads the first document matching filters.
func (c *Client) FindDoc(ctx context.Context, doctype string, filters Filters) (Doc, error) {
	name, err := c.Exists(ctx, doctype, filters)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%s matching %v: %w", doctype, map[string]any(filters), ErrNotFound)
	}
	return c.GetDoc(ctx, doctype, name)
}

// Insert creates doc, which must carry its doctype.
func (c *Client) Insert(ctx context.Context, doc Doc) (Doc, error) {
	doctype := doc.Doctype()
	if doctype == "" {
		return nil, errors.New("erp: insert requires doctype")
	}
	var envelope struct {
		Data Doc `json:"data"`
	}
	if err := c.call(ctx, c.write, "resource", http.MethodPost, resourcePath(doctype, ""), nil, doc, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Save writes every field of an existing doc.
func (c *Client) Save(ctx context.Context, doc Doc) (Doc, error) {
	doctype, name := doc.Doctype(), doc.Name()
	if doctype == "" || name == "" {
		return nil, errors.New("erp: save requires doctype and name")
	}
	var envelope struct {
		Data Doc `json:"data"`
	}
	err := c.call(ctx, c.write, "resource", http.MethodPut, resourcePath(doctype, name), nil, doc, &envelope)
	c.invalidate(ctx, doctype, name)
	if err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// SetValue updates a single field.
func (c *Client) SetValue(ctx context.Context, doctype, name, field string, value any) error {
	err := c.call(ctx, c.write, "resource", http.MethodPut, resourcePath(doctype, name), nil, map[string]any{field: value}, nil)
	c.invalidate(ctx, doctype, name)
	return err
}

// Submit submits a saved draft.
func (c *Client) Submit(ctx context.Context, doc Doc) (Doc, error) {
	var envelope struct {
		Message Doc `json:"message"`
	}
	err := c.call(ctx, c.write, "method", http.MethodPost, "/api/method/frappe.client.submit", nil, map[string]any{"doc": doc}, &envelope)
	c.invalidate(ctx, doc.Doctype(), doc.Name())
	if err != nil {
		return nil, err
	}
	return envelope.Message, nil
}

// Cancel cancels a submitted document.
func (c *Client) Cancel(ctx context.Context, doctype, name string) error {
	err := c.call(ctx, c.write, "method", http.MethodPost, "/api/method/frappe.client.cancel", nil,
		map[string]any{"doctype": doctype, "name": name}, nil)
	c.invalidate(ctx, doctype, name)
	return err
}

// Delete removes a document. Submitted documents must be cancelled first.
func (c *Client) Delete(ctx context.Context, doctype, name string) error {
	err := c.call(ctx, c.write, "resource", http.MethodDelete, resourcePath(doctype, name), nil, nil, nil)
	c.invalidate(ctx, doctype, name)
	return err
}

// UploadFile stores content as a File attachment.
func (c *Client) UploadFile(ctx context.Context, filename string, content []byte, private bool) (FileRef, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return FileRef{}, err
	}
	if _, err := part.Write(content); err != nil {
		return FileRef{}, err
	}
	isPrivate := "0"
	if private {
		isPrivate = "1"
	}
	_ = mw.WriteField("is_private", isPrivate)
	_ = mw.WriteField("file_name", filename)
	if err := mw.Close(); err != nil {
		return FileRef{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/method/upload_file", nil, &buf)
	if err != nil {
		return FileRef{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var envelope struct {
		Message FileRef `json:"message"`
	}
	if err := c.do(ctx, c.write, "file", req, &envelope); err != nil {
		return FileRef{}, err
	}
	if envelope.Message.URL == "" {
		return FileRef{}, errors.New("erp: upload returned no file_url")
	}
	return envelope.Message, nil
}

// Download fetches an attachment by its file_url.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	if !strings.HasPrefix(fileURL, "/files/") && !strings.HasPrefix(fileURL, "/private/files/") {
		return nil, fmt.Errorf("erp: unsupported file url %q", fileURL)
	}
	req, err := c.newRequest(ctx, http.MethodGet, fileURL, nil, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.read.Do(ctx, req)
	if err != nil {
		obs.Observe(obs.ERPRequestDuration, obs.DurationMillis(time.Since(start)), "file", "error")
		return nil, err
	}
	defer resp.Body.Close()
	obs.Observe(obs.ERPRequestDuration, obs.DurationMillis(time.Since(start)), "file", strconv.Itoa(resp.StatusCode))
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, parseRemoteError(resp.StatusCode, body)
	}
	return body, nil
}

// Ping returns the user the API credentials belong to.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := c.call(ctx, c.write, "method", http.MethodGet, "/api/method/frappe.auth.get_logged_user", nil, nil, &envelope); err != nil {
		return "", err
	}
	return envelope.Message, nil
}

func (c *Client) invalidate(ctx context.Context, doctype, name string) {
	if doctype == "" || name == "" {
		return
	}
	if err := c.cache.Delete(ctx, cache.KeyDoc(doctype, name)); err != nil {
		c.logger.Debug().Err(err).Str("doctype", doctype).Str("name", name).Msg("erp_cache_invalidate_failed")
	}
}

func (c *Client) call(ctx context.Context, hc resilience.HTTPClient, kind, method, path string, params url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("erp: encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, params, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(ctx, hc, kind, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values, body io.Reader) (*http.Request, error) {
	target := c.base + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, hc resilience.HTTPClient, kind string, req *http.Request, out any) error {
	start := time.Now()
	resp, err := hc.Do(ctx, req)
	if err != nil {
		obs.Observe(obs.ERPRequestDuration, obs.DurationMillis(time.Since(start)), kind, "error")
		c.logger.Warn().Err(err).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("operation", obs.OperationFromContext(ctx)).
			Msg("erp_request_failed")
		return fmt.Errorf("erp: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	obs.Observe(obs.ERPRequestDuration, obs.DurationMillis(time.Since(start)), kind, strconv.Itoa(resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("erp: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		re := parseRemoteError(resp.StatusCode, data)
		c.logger.Info().
			Int("status", re.Status).
			Str("exc_type", re.ExcType).
			Str("path", req.URL.Path).
			Str("operation", obs.OperationFromContext(ctx)).
			Msg("erp_error_response")
		return re
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("erp: decode response: %w", err)
	}
	return nil
}

func resourcePath(doctype, name string) string {
	p := "/api/resource/" + url.PathEscape(doctype)
	if name != "" {
		p += "/" + url.PathEscape(name)
	}
	return p
}
