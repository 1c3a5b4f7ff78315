package export

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/reportql/internal/domain"
)

// Format selects the file layout an export is written in.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts format names case-insensitively. Empty means CSV.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

func (f Format) extension() string {
	return "." + string(f)
}

// MimeType is the content type used when serving the file.
func (f Format) MimeType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	errFileNotFound      = errors.New("export file not found")
)

// RenderOptions controls how a view is laid out.
type RenderOptions struct {
	Title string
	// Tree renders the row hierarchy with indentation instead of flat leaf rows.
	Tree bool
	// OmitTotals drops the row total columns and the trailing totals row.
	OmitTotals bool
}

// File describes an export written to the export directory.
type File struct {
	Name      string    `json:"name"`
	Format    Format    `json:"format"`
	MimeType  string    `json:"mimeType"`
	Rows      int       `json:"rows"`
	ByteSize  int64     `json:"byteSize"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service renders views to CSV or XLSX and manages saved export files.
type Service struct {
	exportDir      string
	now            func() time.Time
	downloadSigner *downloadSigner
	logger         *zap.Logger
}

type Option func(*Service)

func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

// WithDownloadTokenTTL customizes the TTL for generated download links.
func WithDownloadTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.downloadSigner = newDownloadSigner(ttl)
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(opts ...Option) *Service {
	service := &Service{
		exportDir: filepath.Join(os.TempDir(), "reportql-exports"),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.downloadSigner == nil {
		service.downloadSigner = newDownloadSigner(5 * time.Minute)
	}
	if service.now == nil {
		service.now = time.Now
	}
	service.logger = service.logger.Named("export")
	return service
}

// Render writes the view to w and returns the number of data rows written.
func (s *Service) Render(w io.Writer, view domain.View, format Format, opts RenderOptions) (int, error) {
	table := layoutView(view, opts)
	var err error
	switch format {
	case FormatCSV:
		err = writeCSV(w, table)
	case FormatXLSX:
		err = writeXLSX(w, table, opts)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return 0, err
	}
	return len(table.body), nil
}

// Save renders the view into the export directory under a unique name.
func (s *Service) Save(ctx context.Context, name string, view domain.View, format Format, opts RenderOptions) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	if err := s.ensureExportDirectory(); err != nil {
		return File{}, err
	}

	base := sanitizeFileComponent(name)
	if base == "" {
		base = "report"
	}
	fileName := fmt.Sprintf("%s-%s%s", base, uuid.NewString(), format.extension())
	finalPath := filepath.Join(s.exportDir, fileName)
	tempPath := finalPath + ".tmp"

	out, err := os.Create(tempPath)
	if err != nil {
		return File{}, fmt.Errorf("create export file: %w", err)
	}
	counter := &countingWriter{writer: bufio.NewWriter(out)}
	rows, renderErr := s.Render(counter, view, format, opts)
	if renderErr == nil {
		renderErr = counter.writer.Flush()
	}
	closeErr := out.Close()
	if renderErr != nil || closeErr != nil {
		_ = os.Remove(tempPath)
		if renderErr != nil {
			return File{}, fmt.Errorf("render export: %w", renderErr)
		}
		return File{}, fmt.Errorf("close export file: %w", closeErr)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return File{}, fmt.Errorf("finalize export file: %w", err)
	}

	file := File{
		Name:      fileName,
		Format:    format,
		MimeType:  format.MimeType(),
		Rows:      rows,
		ByteSize:  counter.count,
		CreatedAt: s.now().UTC(),
	}
	s.logger.Info("export written",
		zap.String("file", file.Name),
		zap.String("format", string(format)),
		zap.Int("rows", rows),
		zap.Int64("bytes", file.ByteSize),
	)
	return file, nil
}

// BuildDownloadURL returns a relative, signed link for the saved file.
func (s *Service) BuildDownloadURL(file File) string {
	token := s.downloadSigner.Sign(file.Name, s.now())
	return fmt.Sprintf("/exports/files/%s?token=%s", url.PathEscape(file.Name), url.QueryEscape(token))
}

func (s *Service) ValidateDownloadToken(name, token string) error {
	return s.downloadSigner.Verify(name, token, s.now())
}

// OpenFile opens a saved export. Names that would escape the export
// directory are rejected.
func (s *Service) OpenFile(name string) (*os.File, os.FileInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" || filepath.Base(name) != name || strings.HasSuffix(name, ".tmp") {
		return nil, nil, errFileNotFound
	}
	file, err := os.Open(filepath.Join(s.exportDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, errFileNotFound
		}
		return nil, nil, fmt.Errorf("open export file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("stat export file: %w", err)
	}
	return file, info, nil
}

func (s *Service) ensureExportDirectory() error {
	if strings.TrimSpace(s.exportDir) == "" {
		return errors.New("export directory is not configured")
	}
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return fmt.Errorf("ensure export directory: %w", err)
	}
	return nil
}

func formatFromName(name string) Format {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

type downloadSigner struct {
	secret []byte
	ttl    time.Duration
}

func newDownloadSigner(ttl time.Duration) *downloadSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &downloadSigner{secret: []byte(uuid.New().String()), ttl: ttl}
}

func (s *downloadSigner) Sign(name string, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	payload := fmt.Sprintf("%s:%d", name, expires)
	raw := fmt.Sprintf("%s:%s", payload, s.mac(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (s *downloadSigner) Verify(name, token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("missing download token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return errors.New("invalid token format")
	}
	if parts[0] != name {
		return errors.New("token does not match export file")
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token expiration: %w", err)
	}
	if now.Unix() > expires {
		return errors.New("download token expired")
	}
	expected, _ := hex.DecodeString(s.mac(parts[0] + ":" + parts[1]))
	provided, err := hex.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("invalid token signature: %w", err)
	}
	if !hmac.Equal(expected, provided) {
		return errors.New("invalid download token")
	}
	return nil
}

func (s *downloadSigner) mac(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
