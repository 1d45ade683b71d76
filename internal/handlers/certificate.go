package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"certforge/internal/certificate"
	"certforge/internal/chrome"
	"certforge/internal/ledger"
	"certforge/internal/mail"
	"certforge/internal/store"
	u "certforge/internal/utils"
)

// issuer is the pipeline entry point consumed by the HTTP layer.
type issuer interface {
	GenerateAndDeliver(ctx context.Context, req certificate.Request, recipient string) (certificate.IssueResult, error)
}

// previewRenderer renders HTML to PDF without persisting anything.
type previewRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// recorder appends issuance rows to the ledger.
type recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// CertificateService bundles the pipeline and its collaborators for the
// HTTP handlers. One instance is shared by all routes so they use the
// same Chrome pool.
type CertificateService struct {
	Config *u.Config
	Redis  *redis.Client

	chrome   *chrome.Renderer
	renderer previewRenderer
	issuer   issuer
	ledger   recorder
}

var certificateIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// NewCertificateService wires renderer, store, mailer and pipeline from
// configuration.
func NewCertificateService(cfg u.Config, rdb *redis.Client) (*CertificateService, error) {
	st, err := store.New(cfg)
	if err != nil {
		return nil, err
	}

	renderer := chrome.NewRenderer(cfg)
	pipeline := certificate.New(renderer, st, mail.New(cfg), cfg.Pipeline.TempDir)

	svc := &CertificateService{
		Config:   &cfg,
		Redis:    rdb,
		chrome:   renderer,
		renderer: renderer,
		issuer:   pipeline,
	}

	if cfg.Ledger.Postgres.Host != "" {
		l, err := ledger.Open(cfg.Ledger.Postgres)
		if err != nil {
			u.Error("issuance ledger unavailable, continuing without it", "error", err.Error())
		} else {
			svc.ledger = l
		}
	}
	return svc, nil
}

type issueRequest struct {
	RecipientName  string  `json:"recipient_name"`
	CourseTitle    string  `json:"course_title"`
	Grade          float64 `json:"grade"`
	IssueDate      string  `json:"issue_date"`
	CertificateID  string  `json:"certificate_id"`
	RecipientEmail string  `json:"recipient_email"`
}

type issueResponse struct {
	Success       bool   `json:"success"`
	CertificateID string `json:"certificate_id"`
	LocationRef   string `json:"location_ref"`
	Delivered     bool   `json:"delivered"`
	DeliveryError string `json:"delivery_error,omitempty"`
}

func parseIssueRequest(c *fiber.Ctx) (*issueRequest, error) {
	var body issueRequest
	if err := c.BodyParser(&body); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if body.RecipientName == "" || body.CourseTitle == "" || body.IssueDate == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "recipient_name, course_title and issue_date are required")
	}
	if body.CertificateID == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "certificate_id is required")
	}
	// The ID becomes a file name and object key.
	if !certificateIDPattern.MatchString(body.CertificateID) {
		return nil, fiber.NewError(fiber.StatusBadRequest, "certificate_id contains invalid characters")
	}
	return &body, nil
}

func (body *issueRequest) toRequest() certificate.Request {
	return certificate.Request{
		RecipientName: body.RecipientName,
		CourseTitle:   body.CourseTitle,
		Grade:         body.Grade,
		IssueDate:     body.IssueDate,
		CertificateID: body.CertificateID,
	}
}

// HandleIssue runs the full pipeline: render, persist, optional email,
// cleanup. A delivery failure still returns the artifact reference; the
// caller decides what it means.
func (svc *CertificateService) HandleIssue(c *fiber.Ctx) error {
	body, err := parseIssueRequest(c)
	if err != nil {
		return err
	}
	req := body.toRequest()

	ctx, cancel := context.WithTimeout(c.Context(), svc.requestTimeout())
	defer cancel()

	res, issueErr := svc.issuer.GenerateAndDeliver(ctx, req, body.RecipientEmail)
	if issueErr != nil && !errors.Is(issueErr, certificate.ErrDelivery) {
		switch {
		case errors.Is(issueErr, context.DeadlineExceeded):
			u.Error("certificate issuance timeout", "certificate_id", req.CertificateID, "error", issueErr.Error())
			return fiber.NewError(fiber.StatusRequestTimeout, "Certificate rendering took too long")
		case errors.Is(issueErr, certificate.ErrRender):
			if chrome.IsSessionInterrupted(issueErr) {
				u.Error("chrome session interrupted", "certificate_id", req.CertificateID, "error", issueErr.Error())
				return fiber.NewError(fiber.StatusServiceUnavailable, "Chrome session interrupted")
			}
			u.Error("certificate render failed", "certificate_id", req.CertificateID, "error", issueErr.Error())
			return fiber.NewError(fiber.StatusBadGateway, "Certificate rendering failed")
		case errors.Is(issueErr, certificate.ErrDistribution):
			u.Error("certificate distribution failed", "certificate_id", req.CertificateID, "error", issueErr.Error())
			return fiber.NewError(fiber.StatusBadGateway, "Certificate storage failed")
		default:
			u.Error("certificate issuance failed", "certificate_id", req.CertificateID, "error", issueErr.Error())
			return fiber.NewError(fiber.StatusInternalServerError, "Certificate issuance failed")
		}
	}

	svc.recordIssuance(ctx, req, res)

	resp := issueResponse{
		Success:       true,
		CertificateID: req.CertificateID,
		LocationRef:   res.LocationRef,
		Delivered:     res.Delivered,
	}
	if res.DeliveryErr != nil {
		resp.DeliveryError = res.DeliveryErr.Error()
		u.Warn("certificate issued but not delivered",
			"certificate_id", req.CertificateID, "error", res.DeliveryErr.Error())
	} else {
		requestID := c.Get("X-Request-ID")
		u.Info("certificate issued", "certificate_id", req.CertificateID, "request_id", requestID)
	}
	return c.JSON(resp)
}

// HandlePreview renders the certificate PDF without persisting or
// delivering it. Results are cached in Redis keyed by the request fields.
func (svc *CertificateService) HandlePreview(c *fiber.Ctx) error {
	body, err := parseIssueRequest(c)
	if err != nil {
		return err
	}
	req := body.toRequest()
	filename := req.ArtifactName()

	cacheKey := previewCacheKey(req)
	if svc.cacheEnabled() {
		if cached := svc.getCachedPreview(c, cacheKey); cached != nil {
			c.Set("Content-Type", "application/pdf")
			c.Set("Content-Disposition", "attachment; filename="+filename)
			return c.Send(cached)
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), svc.requestTimeout())
	defer cancel()

	pdf, err := svc.renderer.RenderPDF(ctx, certificate.RenderHTML(req))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			u.Error("preview timeout", "certificate_id", req.CertificateID, "error", err.Error())
			return fiber.NewError(fiber.StatusRequestTimeout, "PDF rendering took too long")
		}
		if chrome.IsSessionInterrupted(err) {
			u.Error("chrome session interrupted", "error", err.Error())
			return fiber.NewError(fiber.StatusServiceUnavailable, "Chrome session interrupted")
		}
		u.Error("preview render failed", "certificate_id", req.CertificateID, "error", err.Error())
		return fiber.NewError(fiber.StatusBadGateway, "Certificate rendering failed")
	}

	if len(pdf) > svc.Config.Limits.MaxPDFBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "PDF exceeds allowed size")
	}

	if svc.cacheEnabled() {
		svc.setCachedPreview(c, cacheKey, pdf)
	}

	c.Set("Content-Type", "application/pdf")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(pdf)
}

// HandleChromeStats exposes pool observability (capacity / idle / in_use).
func (svc *CertificateService) HandleChromeStats(c *fiber.Ctx) error {
	if svc.chrome == nil {
		return c.JSON(fiber.Map{"enabled": false})
	}
	s, err := svc.chrome.PoolStats()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Chrome pool init failed: "+err.Error())
	}
	return c.JSON(fiber.Map{
		"enabled":        s.Enabled,
		"capacity":       s.Capacity,
		"idle":           s.Idle,
		"in_use":         s.InUse,
		"pool_size_conf": s.PoolSizeConf,
		"profile_dir":    s.ProfileDir,
		"timeout_secs":   s.TimeoutSecs,
		"restarts":       s.Restarts,
		"last_restart":   s.LastRestart,
	})
}

func (svc *CertificateService) requestTimeout() time.Duration {
	secs := svc.Config.Chrome.TimeoutSecs
	if secs <= 0 {
		secs = 30
	}
	// Room for the acquire wait, retries with backoff and the settle delay
	// on top of the per-operation budget.
	return 2 * time.Duration(secs) * time.Second
}

func (svc *CertificateService) recordIssuance(ctx context.Context, req certificate.Request, res certificate.IssueResult) {
	if svc.ledger == nil {
		return
	}
	err := svc.ledger.Record(ctx, ledger.Entry{
		CertificateID: req.CertificateID,
		Recipient:     req.RecipientName,
		Course:        req.CourseTitle,
		Grade:         req.Grade,
		IssueDate:     req.IssueDate,
		LocationRef:   res.LocationRef,
		Delivered:     res.Delivered,
	})
	if err != nil {
		u.Warn("failed to record issuance", "certificate_id", req.CertificateID, "error", err.Error())
	}
}

func (svc *CertificateService) cacheEnabled() bool {
	return svc.Redis != nil && svc.Config.Cache.PreviewCacheEnabled
}

// previewCacheKey hashes the fields that influence the rendered bytes.
func previewCacheKey(req certificate.Request) string {
	h := sha256.New()
	h.Write([]byte(req.RecipientName))
	h.Write([]byte{0})
	h.Write([]byte(req.CourseTitle))
	h.Write([]byte{0})
	h.Write([]byte(req.GradeString()))
	h.Write([]byte{0})
	h.Write([]byte(req.IssueDate))
	h.Write([]byte{0})
	h.Write([]byte(req.CertificateID))
	return "previewcache:" + hex.EncodeToString(h.Sum(nil))
}

func (svc *CertificateService) getCachedPreview(c *fiber.Ctx, key string) []byte {
	ctx, cancel := context.WithTimeout(c.Context(), 1*time.Second)
	defer cancel()

	cached, err := svc.Redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		u.Warn("redis read failed", "error", err.Error())
		return nil
	}
	u.Info("preview cache hit", "key", key)
	return cached
}

func (svc *CertificateService) setCachedPreview(c *fiber.Ctx, key string, data []byte) {
	ctx, cancel := context.WithTimeout(c.Context(), 1*time.Second)
	defer cancel()

	ttl := time.Duration(svc.Config.Cache.PreviewCacheTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := svc.Redis.Set(ctx, key, data, ttl).Err(); err != nil {
		u.Warn("redis write failed", "error", err.Error())
	}
}
