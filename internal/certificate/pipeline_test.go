package certificate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"certforge/internal/mail"
	"certforge/internal/store"
)

type fakeRenderer struct {
	err   error
	calls int
}

func (r *fakeRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if !strings.Contains(html, "<html") {
		return nil, errors.New("not an html document")
	}
	return []byte("%PDF-1.4 fake"), nil
}

type fakeStore struct {
	err   error
	ref   string
	calls int
	// path of the source file at Persist time, to verify it existed
	sawFile bool
}

func (s *fakeStore) Persist(_ context.Context, localPath, _ string) (string, error) {
	s.calls++
	if _, err := os.Stat(localPath); err == nil {
		s.sawFile = true
	}
	if s.err != nil {
		return "", s.err
	}
	if s.ref != "" {
		return s.ref, nil
	}
	return localPath, nil
}

type fakeMailer struct {
	err  error
	sent []mail.Message
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func testRequest() Request {
	return Request{
		RecipientName: "Ana Silva",
		CourseTitle:   "Intro to Testing",
		Grade:         18,
		IssueDate:     "2024-01-10",
		CertificateID: "abc123",
	}
}

func tempFilePath(dir string) string {
	return filepath.Join(dir, "certificate_abc123.pdf")
}

func TestGenerateAndDeliver_RoundTripLocal(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("local store: %v", err)
	}

	p := New(&fakeRenderer{}, st, nil, dir)
	res, err := p.GenerateAndDeliver(context.Background(), testRequest(), "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !strings.HasSuffix(res.LocationRef, "certificate_abc123.pdf") {
		t.Fatalf("unexpected location ref %q", res.LocationRef)
	}
	if res.Delivered {
		t.Fatal("nothing should be delivered without a recipient")
	}
	if _, err := os.Stat(tempFilePath(dir)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temp file must be removed after the pipeline, stat err = %v", err)
	}
}

func TestGenerateAndDeliver_RenderFailure(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("browser crashed")
	p := New(&fakeRenderer{err: boom}, &fakeStore{}, nil, dir)

	_, err := p.GenerateAndDeliver(context.Background(), testRequest(), "")
	if !errors.Is(err, ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
	if errors.Is(err, ErrDistribution) || errors.Is(err, ErrDelivery) {
		t.Fatalf("error must identify the render stage only: %v", err)
	}
	if _, statErr := os.Stat(tempFilePath(dir)); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("no temp file should exist after a render failure")
	}
}

func TestGenerateAndDeliver_DistributionFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	st := &fakeStore{err: errors.New("bucket unavailable")}
	p := New(&fakeRenderer{}, st, nil, dir)

	_, err := p.GenerateAndDeliver(context.Background(), testRequest(), "")
	if !errors.Is(err, ErrDistribution) {
		t.Fatalf("expected ErrDistribution, got %v", err)
	}
	if !st.sawFile {
		t.Fatal("store must receive an existing source file")
	}
	if _, statErr := os.Stat(tempFilePath(dir)); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("temp file must be removed even when distribution fails")
	}
}

func TestGenerateAndDeliver_DeliveryFailureIsolated(t *testing.T) {
	dir := t.TempDir()
	st := &fakeStore{ref: "https://bucket/certificates/certificate_abc123.pdf"}
	m := &fakeMailer{err: errors.New("smtp refused")}
	p := New(&fakeRenderer{}, st, m, dir)

	res, err := p.GenerateAndDeliver(context.Background(), testRequest(), "ana@example.com")
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if errors.Is(err, ErrRender) || errors.Is(err, ErrDistribution) {
		t.Fatalf("error must identify the delivery stage only: %v", err)
	}
	// The artifact reference survives a failed notification.
	if res.LocationRef != st.ref {
		t.Fatalf("expected location ref %q, got %q", st.ref, res.LocationRef)
	}
	if res.Delivered {
		t.Fatal("delivered must be false")
	}
	if res.DeliveryErr == nil {
		t.Fatal("delivery error must be reported in the result")
	}
	if _, statErr := os.Stat(tempFilePath(dir)); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("temp file must be removed even when delivery fails")
	}
}

func TestGenerateAndDeliver_DeliverySuccess(t *testing.T) {
	dir := t.TempDir()
	st := &fakeStore{ref: "https://bucket/certificates/certificate_abc123.pdf"}
	m := &fakeMailer{}
	p := New(&fakeRenderer{}, st, m, dir)

	res, err := p.GenerateAndDeliver(context.Background(), testRequest(), "ana@example.com")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !res.Delivered || res.DeliveryErr != nil {
		t.Fatalf("expected delivered result, got %+v", res)
	}
	if len(m.sent) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(m.sent))
	}
	msg := m.sent[0]
	if msg.To[0] != "ana@example.com" {
		t.Fatalf("unexpected recipient %v", msg.To)
	}
	if !strings.Contains(msg.TextBody, "Intro to Testing") || !strings.Contains(msg.TextBody, "18/20") {
		t.Fatalf("body missing course or grade: %q", msg.TextBody)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "certificate_abc123.pdf" {
		t.Fatalf("unexpected attachments %+v", msg.Attachments)
	}
	if msg.Attachments[0].ContentType != "application/pdf" {
		t.Fatalf("unexpected attachment content type %q", msg.Attachments[0].ContentType)
	}
	if _, statErr := os.Stat(tempFilePath(dir)); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("temp file must be removed after success")
	}
}

func TestGenerateAndDeliver_ConcurrentRequestsIsolated(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewLocalStore(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	p := New(&fakeRenderer{}, st, nil, dir)

	ids := []string{"c1", "c2", "c3", "c4"}
	done := make(chan error, len(ids))
	for _, id := range ids {
		go func(id string) {
			req := testRequest()
			req.CertificateID = id
			_, err := p.GenerateAndDeliver(context.Background(), req, "")
			done <- err
		}(id)
	}
	for range ids {
		if err := <-done; err != nil {
			t.Fatalf("concurrent request failed: %v", err)
		}
	}
	for _, id := range ids {
		if _, err := os.Stat(filepath.Join(dir, "certificate_"+id+".pdf")); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("temp file for %s must be removed", id)
		}
		if _, err := os.Stat(filepath.Join(dir, "out", "certificate_"+id+".pdf")); err != nil {
			t.Fatalf("persisted file for %s missing: %v", id, err)
		}
	}
}
