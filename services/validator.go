package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/logger"
	"paper-ingest-platform/models"
	"paper-ingest-platform/utils"
)

// FileValidator runs the ordered upload checks: rate limit, filename, size,
// MIME sniffing, signature, digest, content scan, PDF structure and PDF
// semantics. It short-circuits on the first fatal failure; everything else
// accumulates as warnings on the report.
type FileValidator struct {
	cfg       *config.Config
	limiter   UploadLimiter
	inspector *PDFInspector
}

func NewFileValidator(cfg *config.Config, limiter UploadLimiter, inspector *PDFInspector) *FileValidator {
	return &FileValidator{cfg: cfg, limiter: limiter, inspector: inspector}
}

var (
	forbiddenNameChars = `<>:"|?*`

	// Tokens whose presence in a PDF marks active or script content
	highRiskTokens = [][]byte{
		[]byte("/JavaScript"),
		[]byte("/JS"),
		[]byte("/OpenAction"),
		[]byte("/Launch"),
		[]byte("<script"),
		[]byte("cmd.exe"),
		[]byte("powershell"),
		[]byte("/bin/sh"),
		[]byte("/bin/bash"),
	}
	mediumRiskTokens = [][]byte{
		[]byte("/EmbeddedFile"),
		[]byte("/FileAttachment"),
		[]byte("/SubmitForm"),
		[]byte("/Encrypt"),
	}

	// Native executable magic
	executableMagics = [][]byte{
		{0x4D, 0x5A},             // PE
		{0x7F, 0x45, 0x4C, 0x46}, // ELF
		{0xCF, 0xFA, 0xED, 0xFE}, // Mach-O 64
		{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O 32
	}

	urlPattern = regexp.MustCompile(`https?://[^\s<>()"']+`)

	urlShorteners = []string{
		"bit.ly", "tinyurl.com", "goo.gl", "t.co", "ow.ly", "is.gd", "rb.gy",
	}
	suspiciousPorts = []string{":4444", ":1337", ":6666", ":8443", ":9001"}
)

// Validate checks the file at path against every rule, in order. clientID
// may be empty, which skips rate limiting (internal re-validation).
func (v *FileValidator) Validate(ctx context.Context, path, filename, clientID string) (*models.ValidationReport, error) {
	report := &models.ValidationReport{
		Filename:    filename,
		ThreatLevel: models.ThreatSafe,
	}

	// 1. Rate limit
	if clientID != "" {
		report.ChecksPerformed = append(report.ChecksPerformed, models.CheckRateLimit)
		ok, retryAfter, err := v.limiter.Allow(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("rate limiter failed: %w", err)
		}
		if !ok {
			return nil, models.NewValidationError(models.ErrKindRateLimit,
				fmt.Sprintf("upload limit reached, retry in %s", retryAfter.Round(time.Second)), report)
		}
	}

	// 2. Filename hygiene
	report.ChecksPerformed = append(report.ChecksPerformed, models.CheckFilename)
	if err := v.checkFilename(filename, report); err != nil {
		return nil, err
	}

	// 3. Size
	report.ChecksPerformed = append(report.ChecksPerformed, models.CheckSize)
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat upload: %w", err)
	}
	report.FileSize = stat.Size()
	if stat.Size() == 0 {
		return nil, models.NewValidationError(models.ErrKindEmpty, "file is empty", report)
	}
	if stat.Size() > v.cfg.MaxFileSize {
		return nil, models.NewValidationError(models.ErrKindTooLarge,
			fmt.Sprintf("file size %d exceeds limit %d", stat.Size(), v.cfg.MaxFileSize), report)
	}

	// Size check passed, so the whole file fits in memory comfortably.
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	// 4. MIME via content sniffing
	report.ChecksPerformed = append(report.ChecksPerformed, models.CheckMIME)
	detected := mimetype.Detect(content)
	report.DetectedMIME = detected.String()
	if !v.mimeAllowed(detected) {
		return nil, models.NewValidationError(models.ErrKindWrongType,
			fmt.Sprintf("detected MIME type %s is not allowed", detected.String()), report)
	}

	// 5. Signature
	report.ChecksPerformed = append(report.ChecksPerformed, models.CheckSignature)
	if !bytes.HasPrefix(content, []byte("%PDF-1.")) && !bytes.HasPrefix(content, []byte("%PDF-2.")) {
		return nil, models.NewValidationError(models.ErrKindBadSignature, "file does not start with a PDF signature", report)
	}

	// 6. SHA-256 digest, reused downstream
	report.ChecksPerformed = append(report.ChecksPerformed, models.CheckDigest)
	report.SHA256 = utils.SHA256Bytes(content)

	// 7. Content scan
	report.ChecksPerformed = append(report.ChecksPerformed, models.CheckContentScan)
	v.scanContent(content, report)
	if models.ThreatRank(report.ThreatLevel) >= models.ThreatRank(models.ThreatHigh) {
		if v.cfg.EnableQuarantine {
			if qerr := v.quarantine(path, report); qerr != nil {
				logger.Error("Failed to quarantine file", "filename", filename, "error", qerr)
			}
			return nil, models.NewValidationError(models.ErrKindMalicious,
				fmt.Sprintf("malicious content detected (threat level %s)", report.ThreatLevel), report)
		}
		report.QuarantineBypassed = true
		logger.Warn("Quarantine disabled, accepting file with elevated threat level",
			"filename", filename, "threat_level", report.ThreatLevel)
	}

	// 8. PDF structure
	report.ChecksPerformed = append(report.ChecksPerformed, models.CheckPDFStruct)
	if err := v.checkStructure(content, report); err != nil {
		return nil, err
	}

	// 9. PDF semantics
	report.ChecksPerformed = append(report.ChecksPerformed, models.CheckPDFSemantic)
	info, err := v.inspector.Inspect(path)
	if err != nil {
		return nil, models.NewValidationError(models.ErrKindStructInvalid,
			fmt.Sprintf("PDF cannot be parsed: %v", err), report)
	}
	report.PageCount = info.PageCount
	if info.PageCount > v.cfg.MaxPDFPages {
		return nil, models.NewValidationError(models.ErrKindStructInvalid,
			fmt.Sprintf("page count %d exceeds limit %d", info.PageCount, v.cfg.MaxPDFPages), report)
	}

	return report, nil
}

func (v *FileValidator) checkFilename(filename string, report *models.ValidationReport) error {
	fail := func(msg string) error {
		return models.NewValidationError(models.ErrKindBadName, msg, report)
	}
	if filename == "" {
		return fail("filename is empty")
	}
	if len(filename) > v.cfg.MaxFilenameLength {
		return fail(fmt.Sprintf("filename longer than %d characters", v.cfg.MaxFilenameLength))
	}
	if strings.Contains(filename, "..") {
		return fail("filename contains path traversal")
	}
	if strings.ContainsAny(filename, "/\\\x00\n\r") || strings.ContainsAny(filename, forbiddenNameChars) {
		return fail("filename contains forbidden characters")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range v.cfg.AllowedExtensions {
		if ext == strings.ToLower(strings.TrimSpace(allowed)) {
			return nil
		}
	}
	return fail(fmt.Sprintf("extension %q is not allowed", ext))
}

func (v *FileValidator) mimeAllowed(detected *mimetype.MIME) bool {
	for _, allowed := range v.cfg.AllowedMimeTypes {
		if detected.Is(strings.TrimSpace(allowed)) {
			return true
		}
	}
	return false
}

// scanContent raises the report's threat level and records a warning per
// finding. It never fails by itself; the caller decides what the final
// threat level means.
func (v *FileValidator) scanContent(content []byte, report *models.ValidationReport) {
	raise := func(level, warning string) {
		if models.ThreatRank(level) > models.ThreatRank(report.ThreatLevel) {
			report.ThreatLevel = level
		}
		report.Warnings = append(report.Warnings, warning)
	}

	for _, magic := range executableMagics {
		// Offset 0 is the PDF signature, so search the whole body
		if idx := bytes.Index(content, magic); idx > 0 {
			raise(models.ThreatCritical, fmt.Sprintf("embedded executable magic at offset %d", idx))
			break
		}
	}

	for _, token := range highRiskTokens {
		if bytes.Contains(content, token) {
			raise(models.ThreatHigh, fmt.Sprintf("active content token %s", token))
			switch string(token) {
			case "/JavaScript", "/JS":
				report.PDFHasJS = true
			}
		}
	}

	for _, token := range mediumRiskTokens {
		if bytes.Contains(content, token) {
			raise(models.ThreatMedium, fmt.Sprintf("suspicious PDF token %s", token))
			switch string(token) {
			case "/EmbeddedFile", "/FileAttachment":
				report.PDFAttachments = true
			case "/Encrypt":
				report.PDFEncrypted = true
			}
		}
	}
	if bytes.Contains(content, []byte("/AcroForm")) {
		report.PDFHasForms = true
	}

	for _, raw := range urlPattern.FindAll(content, 200) {
		url := strings.ToLower(string(raw))
		for _, shortener := range urlShorteners {
			if strings.Contains(url, shortener) {
				raise(models.ThreatMedium, fmt.Sprintf("URL shortener link: %s", url))
			}
		}
		for _, port := range suspiciousPorts {
			if strings.Contains(url, port) {
				raise(models.ThreatMedium, fmt.Sprintf("URL with suspicious port: %s", url))
			}
		}
	}
}

// Object and stream counts beyond these caps indicate a decompression-bomb
// style document rather than a paper.
const (
	maxPDFObjects = 500000
	maxPDFStreams = 100000
)

func (v *FileValidator) checkStructure(content []byte, report *models.ValidationReport) error {
	fail := func(msg string) error {
		return models.NewValidationError(models.ErrKindStructInvalid, msg, report)
	}

	// Trailing junk after %%EOF is tolerated up to 1 KiB
	tail := content
	if len(tail) > 1024 {
		tail = tail[len(tail)-1024:]
	}
	if !bytes.Contains(tail, []byte("%%EOF")) {
		return fail("missing %%EOF marker")
	}

	if n := bytes.Count(content, []byte(" obj")); n > maxPDFObjects {
		return fail(fmt.Sprintf("object count %d exceeds sanity cap", n))
	}
	if n := bytes.Count(content, []byte("stream")); n > maxPDFStreams {
		return fail(fmt.Sprintf("stream count %d exceeds sanity cap", n))
	}
	return nil
}

// quarantine copies the offending file plus a JSON sidecar of the report
// into the quarantine directory.
func (v *FileValidator) quarantine(path string, report *models.ValidationReport) error {
	if err := os.MkdirAll(v.cfg.QuarantineDir, 0755); err != nil {
		return fmt.Errorf("failed to create quarantine dir: %w", err)
	}

	id := uuid.NewString()
	dst := filepath.Join(v.cfg.QuarantineDir, id+".pdf")
	if err := utils.CopyFileAtomic(path, dst); err != nil {
		return fmt.Errorf("failed to copy file to quarantine: %w", err)
	}
	report.Quarantined = true
	report.QuarantinePath = dst

	sidecar, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(v.cfg.QuarantineDir, id+".json"), sidecar, 0644); err != nil {
		return fmt.Errorf("failed to write quarantine sidecar: %w", err)
	}

	logger.Warn("File quarantined", "filename", report.Filename, "threat_level", report.ThreatLevel, "path", dst)
	return nil
}
