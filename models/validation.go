package models

// Threat levels, ordered
const (
	ThreatSafe     = "safe"
	ThreatMedium   = "medium"
	ThreatHigh     = "high"
	ThreatCritical = "critical"
)

// ThreatRank orders threat levels for comparisons; unknown levels rank as safe.
func ThreatRank(level string) int {
	switch level {
	case ThreatMedium:
		return 1
	case ThreatHigh:
		return 2
	case ThreatCritical:
		return 3
	default:
		return 0
	}
}

// Validation check names, in canonical execution order.
const (
	CheckRateLimit   = "rate_limit"
	CheckFilename    = "filename"
	CheckSize        = "size"
	CheckMIME        = "mime_type"
	CheckSignature   = "signature"
	CheckDigest      = "sha256"
	CheckContentScan = "content_scan"
	CheckPDFStruct   = "pdf_structure"
	CheckPDFSemantic = "pdf_semantic"
)

// CheckOrder is the canonical order of validation checks; a report's
// checks_performed is always a prefix of this.
var CheckOrder = []string{
	CheckRateLimit,
	CheckFilename,
	CheckSize,
	CheckMIME,
	CheckSignature,
	CheckDigest,
	CheckContentScan,
	CheckPDFStruct,
	CheckPDFSemantic,
}

// ValidationReport is the outcome of the upload validator.
type ValidationReport struct {
	Filename        string   `json:"filename"`
	FileSize        int64    `json:"file_size"`
	DetectedMIME    string   `json:"detected_mime"`
	SHA256          string   `json:"sha256"`
	ThreatLevel     string   `json:"threat_level"`
	Warnings        []string `json:"warnings,omitempty"`
	ChecksPerformed []string `json:"checks_performed"`
	Quarantined     bool     `json:"quarantined"`
	QuarantinePath  string   `json:"quarantine_path,omitempty"`
	// Set when a high threat was detected but quarantine is disabled.
	QuarantineBypassed bool `json:"quarantine_bypassed,omitempty"`

	PageCount      int  `json:"page_count,omitempty"`
	PDFEncrypted   bool `json:"pdf_encrypted,omitempty"`
	PDFHasForms    bool `json:"pdf_has_forms,omitempty"`
	PDFHasJS       bool `json:"pdf_has_javascript,omitempty"`
	PDFAttachments bool `json:"pdf_has_attachments,omitempty"`
}
