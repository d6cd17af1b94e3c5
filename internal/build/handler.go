package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/build-hub/build-hub/internal/bundle"
	"github.com/build-hub/build-hub/internal/cache"
	"github.com/build-hub/build-hub/internal/logging"
	"github.com/build-hub/build-hub/internal/metrics"
	"github.com/build-hub/build-hub/internal/server"
)

const (
	defaultTimeout          = 20 * time.Second
	defaultMaxBuildDuration = 60 * time.Second
	defaultExportName       = "Origami"
)

// BundleSource 返回请求对应的编译产物；bundle.Bundler 满足该接口。
type BundleSource interface {
	GetBundle(ctx context.Context, req bundle.Request) (*bundle.Artifact, error)
}

// Options 汇总 Handler 的依赖与时间预算。
type Options struct {
	Bundles          BundleSource
	Logger           *logrus.Logger
	Metrics          *metrics.Recorder
	Timeout          time.Duration
	MaxBuildDuration time.Duration
	DefaultExport    string
	Now              func() time.Time
}

// Handler 实现 server.BundleHandler。
type Handler struct {
	bundles  BundleSource
	logger   *logrus.Logger
	metrics  *metrics.Recorder
	timeout  time.Duration
	maxBuild time.Duration
	export   string
	now      func() time.Time
}

var _ server.BundleHandler = (*Handler)(nil)

// NewHandler 构造 Handler，未设置的时间预算使用 20s/60s。
func NewHandler(opts Options) (*Handler, error) {
	if opts.Bundles == nil {
		return nil, errors.New("bundle source is required")
	}
	h := &Handler{
		bundles:  opts.Bundles,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		timeout:  opts.Timeout,
		maxBuild: opts.MaxBuildDuration,
		export:   opts.DefaultExport,
		now:      opts.Now,
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	if h.timeout <= 0 {
		h.timeout = defaultTimeout
	}
	if h.maxBuild <= 0 {
		h.maxBuild = defaultMaxBuildDuration
	}
	if h.export == "" {
		h.export = defaultExportName
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// Handle 在 timeout 内等待 bundle；超时后按预算重定向或失败。
func (h *Handler) Handle(c fiber.Ctx, route *server.BundleRoute) error {
	started := time.Now()
	query, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		h.metrics.IncRequest(metrics.OutcomeError)
		return fiber.NewError(fiber.StatusBadRequest, "malformed query string")
	}
	params, err := ParseParams(query, h.export)
	if err != nil {
		h.metrics.IncRequest(metrics.OutcomeError)
		return err
	}

	fields := logging.RequestFields(route.Type.Key, params.Modules.Key(), params.Redirects, server.RequestID(c))
	if params.IgnoredNewerThan != "" {
		h.logger.WithFields(fields).WithField("newerthan", params.IgnoredNewerThan).Warn("newerthan_ignored")
	}

	parent := c.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	req := bundle.Request{
		Type:    route.Type.Key,
		Modules: params.Modules,
		Options: params.Options,
	}
	openBody := !params.HasRedirects && c.Method() != http.MethodHead
	artifact, body, err := h.acquire(ctx, req, openBody)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return h.redirectOrFail(c, query, params, fields)
		}
		h.metrics.IncRequest(metrics.OutcomeError)
		return err
	}

	if body != nil {
		defer body.Close()
	}

	if params.HasRedirects {
		query.Del("redirects")
		h.metrics.IncRequest(metrics.OutcomeRedirectCanonical)
		h.logger.WithFields(fields).Info("bundle_redirect_canonical")
		return redirect(c, c.Path(), query)
	}

	if err := h.serve(c, artifact, body); err != nil {
		h.metrics.IncRequest(metrics.OutcomeError)
		return err
	}
	outcome := metrics.OutcomeServe
	if params.Shrinkwrapped() {
		outcome = metrics.OutcomeServeShrinkwrap
	}
	h.metrics.IncRequest(outcome)
	h.logger.WithFields(fields).WithFields(logrus.Fields{
		"size":        artifact.Size,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("bundle_served")
	return nil
}

// redirectOrFail 处理等待窗口耗尽：累计等待不超过上限时 307 到 redirects+1，否则返回编译错误。
func (h *Handler) redirectOrFail(c fiber.Ctx, query url.Values, params Params, fields logrus.Fields) error {
	next := params.Redirects + 1
	if time.Duration(next)*h.timeout > h.maxBuild {
		h.metrics.IncRequest(metrics.OutcomeTimeout)
		h.logger.WithFields(fields).Warn("bundle_build_budget_exceeded")
		return bundle.NewCompileError(bundle.MaxBuildTimeExceeded)
	}
	query.Set("redirects", strconv.Itoa(next))
	h.metrics.IncRequest(metrics.OutcomeRedirectTimeout)
	h.logger.WithFields(fields).WithField("next_redirects", next).Info("bundle_redirect")
	return redirect(c, c.Path(), query)
}

// acquire 获取产物并按需打开正文。命中后正文被淘汰时按未命中重新获取一次。
func (h *Handler) acquire(ctx context.Context, req bundle.Request, openBody bool) (*bundle.Artifact, io.ReadSeekCloser, error) {
	for attempt := 0; ; attempt++ {
		artifact, err := h.bundles.GetBundle(ctx, req)
		if err != nil || !openBody {
			return artifact, nil, err
		}
		body, err := artifact.Open(ctx)
		if err == nil {
			return artifact, body, nil
		}
		if !errors.Is(err, cache.ErrNotFound) || attempt > 0 {
			return nil, nil, fmt.Errorf("open bundle: %w", err)
		}
		h.logger.WithField("key", artifact.Key).Warn("bundle_body_evicted")
	}
}

func (h *Handler) serve(c fiber.Ctx, artifact *bundle.Artifact, body io.Reader) error {
	c.Set(fiber.HeaderContentType, artifact.MimeType)
	c.Set(fiber.HeaderLastModified, artifact.CreatedTime.UTC().Format(http.TimeFormat))
	c.Set(fiber.HeaderCacheControl, fmt.Sprintf("public, max-age=%d", artifact.MaxAge(h.now())))
	if artifact.ShrinkwrapURL != "" {
		c.Set("X-Shrinkwrap-URL", artifact.ShrinkwrapURL)
	}
	c.Status(fiber.StatusOK)
	if c.Method() == http.MethodHead {
		c.Response().Header.SetContentLength(int(artifact.Size))
		c.Response().SkipBody = true
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), body)
	return err
}

func redirect(c fiber.Ctx, path string, query url.Values) error {
	location := path
	if encoded := query.Encode(); encoded != "" {
		location += "?" + encoded
	}
	c.Set(fiber.HeaderLocation, location)
	c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	return c.SendStatus(fiber.StatusTemporaryRedirect)
}
