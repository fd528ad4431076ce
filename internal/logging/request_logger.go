package logging

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/odatalink/odatalink/internal/util"
)

// requestLogSubdir is the directory under the log dir that holds exchange dumps.
const requestLogSubdir = "requests"

var (
	requestLogID      atomic.Uint64
	unsafeFilenameRe  = regexp.MustCompile(`[<>:"|?*\s$!'(),=&]`)
	repeatedHyphensRe = regexp.MustCompile(`-+`)
)

// Exchange captures one outbound OData request and the response it produced.
type Exchange struct {
	Method         string
	URL            string
	RequestHeader  http.Header
	RequestBody    []byte
	StatusCode     int
	ResponseHeader http.Header
	ResponseBody   []byte
	RequestID      string
	Started        time.Time
	Duration       time.Duration
	Err            error
}

// RequestLogger records request/response exchanges.
type RequestLogger interface {
	LogExchange(ex *Exchange) error
	IsEnabled() bool
}

// FileRequestLogger writes each exchange to its own file. Secrets in headers and
// OAuth2 query parameters are masked; binary bodies are summarized instead of dumped.
type FileRequestLogger struct {
	enabled atomic.Bool
	logsDir string
}

// NewFileRequestLogger creates a logger that writes under logsDir/requests.
func NewFileRequestLogger(enabled bool, logsDir string) *FileRequestLogger {
	l := &FileRequestLogger{logsDir: filepath.Join(logsDir, requestLogSubdir)}
	l.enabled.Store(enabled)
	return l
}

// IsEnabled reports whether exchanges are being written.
func (l *FileRequestLogger) IsEnabled() bool {
	return l != nil && l.enabled.Load()
}

// SetEnabled toggles exchange logging at runtime.
func (l *FileRequestLogger) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

// Dir returns the directory exchange files are written to.
func (l *FileRequestLogger) Dir() string {
	return l.logsDir
}

// LogExchange writes ex to a new file. It is a no-op when the logger is disabled.
func (l *FileRequestLogger) LogExchange(ex *Exchange) error {
	if !l.IsEnabled() || ex == nil {
		return nil
	}
	if err := os.MkdirAll(l.logsDir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create request log directory: %w", err)
	}
	path := filepath.Join(l.logsDir, l.generateFilename(ex))
	if err := os.WriteFile(path, []byte(formatExchange(ex)), 0o644); err != nil {
		return fmt.Errorf("logging: failed to write request log: %w", err)
	}
	return nil
}

// generateFilename builds a filename from the entity path and the start time.
// Format: sap-opu-odata-sap-ZSRV-Customers-2026-03-02T101404-a1b2c3d4.log
func (l *FileRequestLogger) generateFilename(ex *Exchange) string {
	path := ex.URL
	if parsed, err := url.Parse(ex.URL); err == nil {
		path = parsed.Path
	} else if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	started := ex.Started
	if started.IsZero() {
		started = time.Now()
	}
	idPart := ex.RequestID
	if idPart == "" {
		idPart = fmt.Sprintf("%d", requestLogID.Add(1))
	}
	return fmt.Sprintf("%s-%s-%s.log", sanitizeForFilename(path), started.Format("2006-01-02T150405"), idPart)
}

func sanitizeForFilename(path string) string {
	sanitized := strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", "-")
	sanitized = unsafeFilenameRe.ReplaceAllString(sanitized, "-")
	sanitized = repeatedHyphensRe.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		sanitized = "root"
	}
	return sanitized
}

func formatExchange(ex *Exchange) string {
	var content strings.Builder

	content.WriteString("=== REQUEST INFO ===\n")
	fmt.Fprintf(&content, "URL: %s\n", maskURL(ex.URL))
	fmt.Fprintf(&content, "Method: %s\n", ex.Method)
	if !ex.Started.IsZero() {
		fmt.Fprintf(&content, "Timestamp: %s\n", ex.Started.Format(time.RFC3339Nano))
	}
	if ex.RequestID != "" {
		fmt.Fprintf(&content, "Request-ID: %s\n", ex.RequestID)
	}
	content.WriteString("\n=== REQUEST HEADERS ===\n")
	writeHeaders(&content, ex.RequestHeader)
	content.WriteString("\n=== REQUEST BODY ===\n")
	writeBody(&content, ex.RequestHeader, ex.RequestBody)

	content.WriteString("\n\n=== RESPONSE ===\n")
	if ex.Err != nil {
		fmt.Fprintf(&content, "Error: %v\n", ex.Err)
	}
	if ex.StatusCode > 0 {
		fmt.Fprintf(&content, "Status: %d\n", ex.StatusCode)
	}
	fmt.Fprintf(&content, "Duration: %s\n", ex.Duration)
	writeHeaders(&content, ex.ResponseHeader)
	content.WriteString("\n")
	writeBody(&content, ex.ResponseHeader, ex.ResponseBody)
	content.WriteString("\n")
	return content.String()
}

func writeHeaders(b *strings.Builder, headers http.Header) {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, value := range headers[key] {
			fmt.Fprintf(b, "%s: %s\n", key, util.MaskSensitiveHeaderValue(key, value))
		}
	}
}

func writeBody(b *strings.Builder, headers http.Header, body []byte) {
	if len(body) == 0 {
		return
	}
	if util.IsBinaryContent(body) {
		fmt.Fprintf(b, "<binary content, %d bytes, %s>", len(body), util.DetectContentType(headers.Get("Content-Type"), body))
		return
	}
	if headers != nil && strings.Contains(strings.ToLower(headers.Get("Content-Type")), "x-www-form-urlencoded") {
		b.WriteString(util.MaskSensitiveQuery(string(body)))
		return
	}
	b.Write(body)
}

func maskURL(raw string) string {
	idx := strings.IndexByte(raw, '?')
	if idx < 0 {
		return raw
	}
	return raw[:idx+1] + util.MaskSensitiveQuery(raw[idx+1:])
}
