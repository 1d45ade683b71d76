// Package certificate implements the certificate issuance pipeline:
// HTML rendering, PDF capture, distribution and delivery with guaranteed
// cleanup of the per-request temp file.
package certificate

import "strconv"

// Request carries everything needed to issue one certificate. The caller
// guarantees CertificateID is unique per issuance; it becomes the file
// name and object key. Grade is display-only and is not validated here.
type Request struct {
	RecipientName string `json:"recipient_name"`
	CourseTitle   string `json:"course_title"`
	Grade         float64 `json:"grade"`
	IssueDate     string `json:"issue_date"`
	CertificateID string `json:"certificate_id"`
}

// ArtifactName returns the canonical file/object name for this request.
// Both the local temp file and the remote object key use it.
func (r Request) ArtifactName() string {
	return "certificate_" + r.CertificateID + ".pdf"
}

// GradeString formats the grade without a trailing ".0" for whole values.
func (r Request) GradeString() string {
	return strconv.FormatFloat(r.Grade, 'f', -1, 64)
}

// IssueResult is returned by GenerateAndDeliver. LocationRef is always
// populated once render+persist succeeded; the delivery outcome is carried
// in independent fields so the caller decides what a failed notification
// means for an otherwise issued certificate.
type IssueResult struct {
	LocationRef string
	Delivered   bool
	DeliveryErr error
}
