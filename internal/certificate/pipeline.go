package certificate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"certforge/internal/mail"
	u "certforge/internal/utils"
)

// Renderer converts a self-contained HTML document to PDF bytes.
type Renderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// Store is the swappable distribution strategy. It receives the local
// file written by the pipeline (upload backends want a source path) and
// returns a retrievable reference: a filesystem path or a durable URL.
type Store interface {
	Persist(ctx context.Context, localPath, certificateID string) (string, error)
}

// Pipeline composes the four issuance stages. One Pipeline is shared by
// all requests; each invocation owns its own temp file and browser work,
// so concurrent calls for distinct certificate IDs do not interact.
type Pipeline struct {
	renderer Renderer
	store    Store
	mailer   mail.Mailer
	tempDir  string
}

// New builds a Pipeline. mailer may be nil when the deployment never
// sends notifications.
func New(renderer Renderer, store Store, mailer mail.Mailer, tempDir string) *Pipeline {
	return &Pipeline{
		renderer: renderer,
		store:    store,
		mailer:   mailer,
		tempDir:  tempDir,
	}
}

// GenerateAndDeliver runs the full pipeline for one request:
// HTML render, PDF capture, persist/distribute, then optional email
// notification when recipient is non-empty.
//
// The per-request temp file certificate_<id>.pdf is removed before this
// function returns, on every path after it was created. A delivery
// failure is reported both as IssueResult fields and as the returned
// error, but never discards the artifact reference.
func (p *Pipeline) GenerateAndDeliver(ctx context.Context, req Request, recipient string) (IssueResult, error) {
	doc := RenderHTML(req)

	pdf, err := p.renderer.RenderPDF(ctx, doc)
	if err != nil {
		return IssueResult{}, fmt.Errorf("%w: %w", ErrRender, err)
	}

	if err := os.MkdirAll(p.tempDir, 0o750); err != nil {
		return IssueResult{}, fmt.Errorf("%w: create temp dir: %v", ErrDistribution, err)
	}
	tmpPath := filepath.Join(p.tempDir, req.ArtifactName())
	if err := os.WriteFile(tmpPath, pdf, 0o640); err != nil {
		return IssueResult{}, fmt.Errorf("%w: write temp file: %v", ErrDistribution, err)
	}
	defer p.removeTemp(tmpPath)

	ref, err := p.store.Persist(ctx, tmpPath, req.CertificateID)
	if err != nil {
		return IssueResult{}, fmt.Errorf("%w: %w", ErrDistribution, err)
	}

	res := IssueResult{LocationRef: ref}
	if recipient == "" || p.mailer == nil {
		return res, nil
	}

	if err := p.deliver(ctx, req, recipient, tmpPath); err != nil {
		res.DeliveryErr = fmt.Errorf("%w: %w", ErrDelivery, err)
		return res, res.DeliveryErr
	}
	res.Delivered = true
	u.Info("certificate delivered", "certificate_id", req.CertificateID, "recipient", recipient)
	return res, nil
}

func (p *Pipeline) deliver(ctx context.Context, req Request, recipient, tmpPath string) error {
	attachment, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("read attachment: %v", err)
	}

	msg := mail.Message{
		To:      []string{recipient},
		Subject: "Your certificate for " + req.CourseTitle,
		TextBody: fmt.Sprintf(
			"Congratulations %s!\n\nYou completed %s with a final grade of %s/20 on %s.\nYour certificate is attached.\n",
			req.RecipientName, req.CourseTitle, req.GradeString(), req.IssueDate,
		),
		HTMLBody: fmt.Sprintf(
			"<p>Congratulations %s!</p><p>You completed <strong>%s</strong> with a final grade of %s/20 on %s. Your certificate is attached.</p>",
			req.RecipientName, req.CourseTitle, req.GradeString(), req.IssueDate,
		),
		Attachments: []mail.Attachment{{
			Filename:    req.ArtifactName(),
			ContentType: "application/pdf",
			Content:     attachment,
		}},
	}
	return p.mailer.Send(ctx, msg)
}

// removeTemp deletes the per-request temp file. Best-effort: a missing
// file is fine and a deletion error is logged, never propagated, so it
// cannot mask the primary result of the pipeline.
func (p *Pipeline) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		u.Warn("temp certificate cleanup failed", "path", path, "error", err.Error())
	}
}
