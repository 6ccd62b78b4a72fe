package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"trustproxy/internal/core"
	"trustproxy/internal/payload"
	"trustproxy/internal/redact"
	"trustproxy/internal/security"
)

// sessionHeader lets a client pin its session explicitly; without it the
// client source IP is the session key.
const sessionHeader = "X-Session-ID"

// hopHeaders are stripped before forwarding. Accept-Encoding is dropped so
// upstream compression choices stay within what decompressBody can decode.
var hopHeaders = []string{
	"Host",
	"Connection",
	"Content-Length",
	"Accept-Encoding",
	"Proxy-Authorization",
	sessionHeader,
}

// Gateway is the per-request pipeline: validate the target, extract text,
// redact PII, forward upstream, restore PII in the response.
type Gateway struct {
	redactor  *redact.Redactor
	restorer  *redact.Restorer
	gate      *security.Gate
	extractor core.FileExtractor
	collector core.Collector
	client    *http.Client

	forwardTimeout time.Duration
	// scheme is https in production; tests point it at a plain HTTP upstream.
	scheme string
}

// GatewayConfig wires a Gateway.
type GatewayConfig struct {
	Redactor       *redact.Redactor
	Restorer       *redact.Restorer
	Gate           *security.Gate
	Extractor      core.FileExtractor
	Collector      core.Collector
	Client         *http.Client
	ForwardTimeout time.Duration
	Scheme         string
}

// NewGateway creates the proxy request handler.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = 30 * time.Second
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Collector == nil {
		cfg.Collector = core.MultiCollector{}
	}
	return &Gateway{
		redactor:       cfg.Redactor,
		restorer:       cfg.Restorer,
		gate:           cfg.Gate,
		extractor:      cfg.Extractor,
		collector:      cfg.Collector,
		client:         cfg.Client,
		forwardTimeout: cfg.ForwardTimeout,
		scheme:         cfg.Scheme,
	}
}

// request carries per-request pipeline state across stages.
type request struct {
	id        string
	sessionID string
	clientIP  string
	host      string
	path      string
	method    string
	start     time.Time
}

func (g *Gateway) emit(r *request, stage core.Stage, status int, errType string, counts map[string]int) {
	g.collector.Record(core.Event{
		Timestamp:    r.start,
		RequestID:    r.id,
		SessionID:    r.sessionID,
		Stage:        stage,
		ClientIP:     r.clientIP,
		Host:         r.host,
		Path:         r.path,
		Method:       r.method,
		Status:       status,
		Duration:     time.Since(r.start),
		ErrorType:    errType,
		EntityCounts: counts,
	})
}

func (g *Gateway) reject(c echo.Context, r *request, perr *core.ProxyError) error {
	stage := core.StageRejected
	if perr.Type == core.ErrorTypeUpstreamUnavailable {
		stage = core.StageUpstreamFailed
	}
	if perr.Err != nil {
		slog.Warn("request failed", "request_id", r.id, "type", perr.Type, "error", perr.Err)
	}
	g.emit(r, stage, perr.HTTPStatusCode(), string(perr.Type), nil)
	return c.JSON(perr.HTTPStatusCode(), perr.ToJSON())
}

// Handle is the catch-all route: any method, any path.
func (g *Gateway) Handle(c echo.Context) error {
	req := &request{
		id:        uuid.NewString(),
		sessionID: sessionID(c),
		clientIP:  c.RealIP(),
		host:      c.Request().Host,
		path:      c.Request().URL.Path,
		method:    c.Request().Method,
		start:     time.Now(),
	}
	ctx := c.Request().Context()

	g.emit(req, core.StageReceived, 0, "", nil)

	if !g.gate.DomainAllowed(req.host) {
		return g.reject(c, req, core.NewDomainRejectedError(req.host))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return g.reject(c, req, core.NewInvalidRequestError("failed to read request body", err))
	}

	contentType := c.Request().Header.Get("Content-Type")
	extraction, contentType, perr := g.extract(body, contentType)
	if perr != nil {
		return g.reject(c, req, perr)
	}
	g.emit(req, core.StageExtracted, 0, "", nil)

	for _, part := range extraction.Parts {
		if g.gate.ContainsInjection(part) {
			return g.reject(c, req, core.NewInjectionDetectedError())
		}
	}

	redactedParts := make([]string, len(extraction.Parts))
	known := make([]string, 0, 8)
	counts := make(map[string]int)
	for i, part := range extraction.Parts {
		result, err := g.redactor.Redact(ctx, part, req.sessionID)
		if err != nil {
			return g.reject(c, req, core.NewInternalError(err))
		}
		redactedParts[i] = result.RedactedText
		for placeholder := range result.Mapping {
			known = append(known, placeholder)
			counts[redact.PlaceholderEntityType(placeholder)]++
		}
	}
	g.emit(req, core.StageRedacted, 0, "", counts)

	forwardBody, err := extraction.Reassemble(redactedParts)
	if err != nil {
		return g.reject(c, req, core.NewInternalError(err))
	}

	g.emit(req, core.StageForwarded, 0, "", nil)
	// The forward context must stay alive until the response body is fully
	// read: the request context governs body reads, and cancelling it early
	// aborts a still-streaming upstream response.
	fctx, cancel := context.WithTimeout(ctx, g.forwardTimeout)
	defer cancel()
	resp, perr := g.forward(fctx, c.Request(), req.host, contentType, forwardBody)
	if perr != nil {
		return g.reject(c, req, perr)
	}
	defer resp.Body.Close()
	g.emit(req, core.StageResponseReceived, resp.StatusCode, "", nil)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return g.reject(c, req, core.NewUpstreamUnavailableError(req.host, err))
	}

	respBody, decoded := decompressBody(respBody, resp.Header.Get("Content-Encoding"))
	restored := g.restorer.Restore(ctx, respBody, known, req.sessionID)
	g.emit(req, core.StageRestored, resp.StatusCode, "", nil)

	copyResponseHeaders(c.Response().Header(), resp.Header, decoded || !bytes.Equal(restored, respBody))
	g.emit(req, core.StageReturned, resp.StatusCode, "", nil)
	return c.Blob(resp.StatusCode, resp.Header.Get("Content-Type"), restored)
}

// extract turns the request body into text parts. Multipart uploads are
// rebuilt around the extracted file text; everything else goes through the
// payload shapes. The returned content type replaces the inbound one when
// the body representation changes.
func (g *Gateway) extract(body []byte, contentType string) (*payload.Extraction, string, *core.ProxyError) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == "multipart/form-data" {
		text, perr := g.extractMultipart(body, params["boundary"])
		if perr != nil {
			return nil, contentType, perr
		}
		return payload.FromFileText(text), "text/plain; charset=utf-8", nil
	}

	ex, err := payload.Extract(body, contentType)
	if err != nil {
		return nil, contentType, core.NewInvalidRequestError("failed to parse request body", err)
	}
	return ex, contentType, nil
}

// extractMultipart concatenates the text of every file part. Extraction
// failures surface as diagnostic placeholders in the text, not errors.
func (g *Gateway) extractMultipart(body []byte, boundary string) (string, *core.ProxyError) {
	if boundary == "" {
		return "", core.NewInvalidRequestError("multipart body missing boundary", nil)
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	var b strings.Builder
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", core.NewInvalidRequestError("malformed multipart body", err)
		}

		data, err := io.ReadAll(part)
		if err != nil {
			return "", core.NewInvalidRequestError("failed to read multipart part", err)
		}
		if part.FileName() == "" {
			continue
		}

		text, err := g.extractor.Extract(data, part.FileName())
		if err != nil {
			slog.Warn("file extraction failed",
				"filename", part.FileName(), "error", err)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// forward sends the redacted request upstream. The caller owns ctx and its
// deadline: it derives from the inbound request (client disconnect cancels
// the upstream call) and must not be cancelled before the response body has
// been consumed.
func (g *Gateway) forward(ctx context.Context, in *http.Request, host, contentType string, body []byte) (*http.Response, *core.ProxyError) {
	url := fmt.Sprintf("%s://%s%s", g.scheme, host, in.URL.RequestURI())

	var reqBody io.Reader
	if in.Method != http.MethodGet && len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	out, err := http.NewRequestWithContext(ctx, in.Method, url, reqBody)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to build upstream request", err)
	}

	out.Header = forwardHeaders(in.Header)
	if contentType != "" && reqBody != nil {
		out.Header.Set("Content-Type", contentType)
	}

	resp, err := g.client.Do(out) //nolint:bodyclose // caller closes
	if err != nil {
		return nil, core.NewUpstreamUnavailableError(host, err)
	}
	return resp, nil
}

// forwardHeaders copies inbound headers minus the hop-by-hop set.
func forwardHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		skip := false
		for _, h := range hopHeaders {
			if strings.EqualFold(key, h) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for _, v := range values {
			out.Add(key, v)
		}
	}
	return out
}

// copyResponseHeaders mirrors upstream headers onto the client response.
// When the body was decoded or modified, the encoding and length headers no
// longer describe it and are dropped.
func copyResponseHeaders(dst, src http.Header, modified bool) {
	for key, values := range src {
		if modified && (strings.EqualFold(key, "Content-Encoding") || strings.EqualFold(key, "Content-Length")) {
			continue
		}
		if strings.EqualFold(key, "Connection") || strings.EqualFold(key, "Content-Type") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// sessionID derives the session key for a request.
func sessionID(c echo.Context) string {
	if id := c.Request().Header.Get(sessionHeader); id != "" {
		return id
	}
	return c.RealIP()
}
