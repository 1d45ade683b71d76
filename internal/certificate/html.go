package certificate

import (
	"bytes"
	"html/template"
)

// The document is fully self-contained: inline styles only, no external
// fonts or images, so the PDF renderer never touches the network. Page
// geometry comes from the @page rule; the print call defers to it.
const certificateTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Certificate {{.CertificateID}}</title>
<style>
  @page { size: A4; margin: 0; }
  html, body { margin: 0; padding: 0; }
  body {
    width: 210mm;
    height: 297mm;
    font-family: Georgia, "Times New Roman", serif;
    color: #1f2a36;
    background: #fdfcf7;
  }
  .frame {
    box-sizing: border-box;
    width: 190mm;
    height: 277mm;
    margin: 10mm;
    border: 3px double #8a6d3b;
    padding: 20mm 15mm;
    text-align: center;
  }
  .heading { font-size: 28pt; letter-spacing: 4px; text-transform: uppercase; }
  .subheading { font-size: 12pt; color: #6b7680; margin-top: 6mm; }
  .recipient { font-size: 24pt; font-style: italic; margin-top: 14mm; }
  .course { font-size: 16pt; margin-top: 10mm; }
  .grade { font-size: 14pt; margin-top: 8mm; }
  .footer { margin-top: 22mm; font-size: 10pt; color: #6b7680; }
  .cert-id { margin-top: 4mm; font-size: 8pt; color: #9aa4ad; }
</style>
</head>
<body>
  <div class="frame">
    <div class="heading">Certificate of Completion</div>
    <div class="subheading">This certificate is proudly presented to</div>
    <div class="recipient">{{.RecipientName}}</div>
    <div class="course">for successfully completing the course<br><strong>{{.CourseTitle}}</strong></div>
    <div class="grade">Final grade: {{.Grade}}/20</div>
    <div class="footer">Issued on {{.IssueDate}}</div>
    <div class="cert-id">Certificate ID: {{.CertificateID}}</div>
  </div>
</body>
</html>
`

var certTmpl = template.Must(template.New("certificate").Parse(certificateTemplate))

type certificateView struct {
	RecipientName string
	CourseTitle   string
	Grade         string
	IssueDate     string
	CertificateID string
}

// RenderHTML produces the certificate document for the given request.
// It is pure and total: identical input yields byte-identical output, and
// missing fields surface as empty interpolations rather than errors.
func RenderHTML(req Request) string {
	view := certificateView{
		RecipientName: req.RecipientName,
		CourseTitle:   req.CourseTitle,
		Grade:         req.GradeString(),
		IssueDate:     req.IssueDate,
		CertificateID: req.CertificateID,
	}
	var buf bytes.Buffer
	// Execute cannot fail against a plain-string view.
	_ = certTmpl.Execute(&buf, view)
	return buf.String()
}
