// Package media loads image attachments for outbound messages. Sources
// are either local files under a configured base directory or http(s)
// URLs; both are size-capped before upload.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// MaxImageBytes caps attachment size.
const MaxImageBytes = 6 * 1024 * 1024 // 6MB

// fetchTimeout bounds URL downloads independently of the caller.
const fetchTimeout = 30 * time.Second

// ErrLocalDisabled is returned for file paths when no base directory is
// configured.
var ErrLocalDisabled = errors.New("local file attachments are not enabled")

// ErrOutsideBaseDir is returned when a path escapes the base directory.
var ErrOutsideBaseDir = errors.New("image path is outside the allowed directory")

// ErrTooLarge is returned when an image exceeds MaxImageBytes.
var ErrTooLarge = errors.New("image exceeds size limit")

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
}

// Image is a loaded attachment ready for upload.
type Image struct {
	Data     []byte
	Filename string
	MIME     string
}

// Loader resolves image references.
type Loader struct {
	baseDir    string
	httpClient *http.Client
	readFile   func(string) ([]byte, error)
}

// NewLoader creates a loader. An empty baseDir disables local files;
// URLs still work. A nil client gets a default with fetchTimeout.
func NewLoader(baseDir string, client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &Loader{
		baseDir:    baseDir,
		httpClient: client,
		readFile:   readFileCapped,
	}
}

// Load resolves ref, which is either an http(s) URL or a path relative
// to the base directory.
func (l *Loader) Load(ctx context.Context, ref string) (*Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("image reference is empty")
	}
	if isURL(ref) {
		return l.fetch(ctx, ref)
	}
	return l.readLocal(ref)
}

func isURL(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (l *Loader) readLocal(ref string) (*Image, error) {
	if l.baseDir == "" {
		return nil, ErrLocalDisabled
	}

	full := filepath.Join(l.baseDir, filepath.Clean("/"+ref))
	rel, err := filepath.Rel(l.baseDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, ErrOutsideBaseDir
	}

	ext := strings.ToLower(filepath.Ext(full))
	mime, ok := imageExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported image extension %q", ext)
	}

	data, err := l.readFile(full)
	if err != nil {
		return nil, err
	}
	return &Image{Data: data, Filename: filepath.Base(full), MIME: mime}, nil
}

func (l *Loader) fetch(ctx context.Context, rawURL string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, ErrTooLarge
	}

	filename := filenameFromURL(rawURL)
	mime := resp.Header.Get("Content-Type")
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		ext := strings.ToLower(filepath.Ext(filename))
		if m, ok := imageExtensions[ext]; ok {
			mime = m
		} else {
			return nil, fmt.Errorf("fetched content is not an image (content type %q)", mime)
		}
	}
	return &Image{Data: data, Filename: filename, MIME: mime}, nil
}

func readFileCapped(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxImageBytes {
		return nil, ErrTooLarge
	}
	return io.ReadAll(f)
}

func filenameFromURL(rawURL string) string {
	trimmed := rawURL
	if idx := strings.IndexAny(trimmed, "?#"); idx != -1 {
		trimmed = trimmed[:idx]
	}
	name := path.Base(trimmed)
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		return "image.jpg"
	}
	return name
}
