package services

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sitephoto/server/internal/models"
)

// BlobStore persists photo binaries and returns their public URL
type BlobStore interface {
	Put(ctx context.Context, data []byte, objectPath string) (string, error)
}

// BlobLimits are the checks every blob store applies before writing
type BlobLimits struct {
	AllowedExtensions map[string]bool
	MaxFileSizeBytes  int64
}

var defaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".heif", ".bmp", ".tiff", ".tif"}

// NewBlobLimits builds limits from configuration. An empty extension list
// allows the common image formats.
func NewBlobLimits(allowedExtensions []string, maxFileSizeMB int64) BlobLimits {
	if len(allowedExtensions) == 0 {
		allowedExtensions = defaultImageExtensions
	}
	extSet := make(map[string]bool, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		extSet[strings.ToLower(ext)] = true
	}
	return BlobLimits{
		AllowedExtensions: extSet,
		MaxFileSizeBytes:  maxFileSizeMB * 1024 * 1024,
	}
}

// Clean validates size and extension and returns a sanitized slash path
func (l BlobLimits) Clean(size int64, objectPath string) (string, error) {
	if l.MaxFileSizeBytes > 0 && size > l.MaxFileSizeBytes {
		return "", models.ErrFileTooLarge
	}

	cleaned := CleanObjectPath(objectPath)
	if cleaned == "" {
		return "", models.ErrEmptyPath
	}
	if !l.AllowedExtensions[strings.ToLower(path.Ext(cleaned))] {
		return "", models.ErrInvalidExtension
	}
	return cleaned, nil
}

// CleanObjectPath sanitizes every segment of a slash separated path and
// drops empty ones
func CleanObjectPath(objectPath string) string {
	segments := strings.Split(strings.ReplaceAll(objectPath, "\\", "/"), "/")
	kept := segments[:0]
	for _, seg := range segments {
		seg = sanitizeSegment(seg)
		if seg == "" || seg == "." {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, "/")
}

// LocalBlobStore writes blobs under a base directory and serves them from
// publicBaseURL. Created folders are remembered in the PathCache.
type LocalBlobStore struct {
	basePath      string
	publicBaseURL string
	limits        BlobLimits
	folders       PathCache
}

// NewLocalBlobStore creates a LocalBlobStore rooted at basePath
func NewLocalBlobStore(basePath, publicBaseURL string, limits BlobLimits, folders PathCache) (*LocalBlobStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, err
	}

	return &LocalBlobStore{
		basePath:      absPath,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		limits:        limits,
		folders:       folders,
	}, nil
}

// BasePath returns the absolute storage root
func (s *LocalBlobStore) BasePath() string {
	return s.basePath
}

// Put writes data at objectPath, renaming on collision, and returns the URL
func (s *LocalBlobStore) Put(ctx context.Context, data []byte, objectPath string) (string, error) {
	cleaned, err := s.limits.Clean(int64(len(data)), objectPath)
	if err != nil {
		return "", err
	}

	relativeFolder := path.Dir(cleaned)
	absoluteFolder := filepath.Join(s.basePath, filepath.FromSlash(relativeFolder))
	if err := s.ensureFolder(ctx, absoluteFolder); err != nil {
		return "", err
	}

	uniqueFilename := generateUniqueFilename(path.Base(cleaned), absoluteFolder)
	absoluteFilePath := filepath.Join(absoluteFolder, uniqueFilename)
	if !strings.HasPrefix(absoluteFilePath, s.basePath+string(os.PathSeparator)) {
		return "", models.ErrPathTraversal
	}

	file, err := os.OpenFile(absoluteFilePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		// The folder may have been removed behind the cache's back.
		s.folders.Invalidate(ctx, absoluteFolder)
		return "", err
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		os.Remove(absoluteFilePath)
		return "", err
	}

	return s.publicBaseURL + "/" + path.Join(relativeFolder, uniqueFilename), nil
}

// GetFullPath returns the absolute path for a stored slash path
func (s *LocalBlobStore) GetFullPath(storedPath string) (string, error) {
	if strings.TrimSpace(storedPath) == "" {
		return "", models.ErrEmptyPath
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, filepath.FromSlash(storedPath)))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absPath, s.basePath) {
		return "", models.ErrPathTraversal
	}
	return absPath, nil
}

// Exists checks if a blob exists at the given stored path
func (s *LocalBlobStore) Exists(storedPath string) bool {
	fullPath, err := s.GetFullPath(storedPath)
	if err != nil {
		return false
	}

	_, err = os.Stat(fullPath)
	return err == nil
}

func (s *LocalBlobStore) ensureFolder(ctx context.Context, absoluteFolder string) error {
	if _, ok := s.folders.Get(ctx, absoluteFolder); ok {
		return nil
	}
	if err := os.MkdirAll(absoluteFolder, 0755); err != nil {
		return err
	}
	s.folders.Set(ctx, absoluteFolder, absoluteFolder)
	return nil
}

// sanitizeSegment removes invalid characters from one path segment
func sanitizeSegment(name string) string {
	replacer := strings.NewReplacer(
		"..", "",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	name = strings.TrimSpace(replacer.Replace(name))

	const maxLength = 200
	if len(name) > maxLength {
		ext := filepath.Ext(name)
		nameWithoutExt := strings.TrimSuffix(name, ext)
		if len(nameWithoutExt) > maxLength-len(ext) {
			nameWithoutExt = nameWithoutExt[:maxLength-len(ext)]
		}
		name = nameWithoutExt + ext
	}

	return name
}

// generateUniqueFilename creates a unique filename if collision exists
func generateUniqueFilename(filename, folderPath string) string {
	nameWithoutExt := strings.TrimSuffix(filename, filepath.Ext(filename))
	ext := filepath.Ext(filename)
	candidate := filename
	counter := 1

	for {
		if _, err := os.Stat(filepath.Join(folderPath, candidate)); os.IsNotExist(err) {
			break
		}

		candidate = fmt.Sprintf("%s_%03d%s", nameWithoutExt, counter, ext)
		counter++

		if counter > 9999 {
			candidate = fmt.Sprintf("%s_%d%s", nameWithoutExt, time.Now().UnixNano(), ext)
			break
		}
	}

	return candidate
}
