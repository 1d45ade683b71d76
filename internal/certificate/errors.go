package certificate

import "errors"

// Sentinel errors identifying the pipeline stage that failed. Callers
// classify with errors.Is; the underlying cause is appended as text.
var (
	// ErrRender: the HTML could not be converted to PDF after retries, or
	// the browser/page became unusable mid-operation.
	ErrRender = errors.New("certificate render failed")
	// ErrDistribution: the local write or remote upload failed.
	ErrDistribution = errors.New("certificate distribution failed")
	// ErrDelivery: the notification email failed. Cleanup still ran and a
	// usable artifact reference exists.
	ErrDelivery = errors.New("certificate delivery failed")
)
