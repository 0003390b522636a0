package services

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"

	_ "image/gif"
	_ "image/png"
)

// ThumbnailPrefix is the object path prefix under which previews are stored
const ThumbnailPrefix = "thumbs"

// ThumbnailService renders JPEG previews of uploaded photos
type ThumbnailService struct {
	maxDim  int
	quality int
}

// NewThumbnailService creates a ThumbnailService. Zero values fall back to
// 500px and quality 85.
func NewThumbnailService(maxDim, quality int) *ThumbnailService {
	if maxDim <= 0 {
		maxDim = 500
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &ThumbnailService{maxDim: maxDim, quality: quality}
}

// Generate decodes imageData, applies the EXIF orientation and returns a
// JPEG no larger than maxDim on either side
func (s *ThumbnailService) Generate(imageData []byte, filename string, orientation int) ([]byte, error) {
	img, err := decodeImage(imageData, filename)
	if err != nil {
		return nil, err
	}

	img = applyOrientation(img, orientation)

	bounds := img.Bounds()
	if bounds.Dx() > s.maxDim || bounds.Dy() > s.maxDim {
		img = imaging.Fit(img, s.maxDim, s.maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// ThumbnailPath maps a photo's object path to its preview's object path
func ThumbnailPath(objectPath string) string {
	ext := path.Ext(objectPath)
	return path.Join(ThumbnailPrefix, strings.TrimSuffix(objectPath, ext)+".jpg")
}

func decodeImage(data []byte, filename string) (image.Image, error) {
	if IsHEIC(filename) {
		img, err := goheif.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode HEIC image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// applyOrientation corrects image orientation based on EXIF data
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Rotate270(imaging.FlipH(img))
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Rotate90(imaging.FlipH(img))
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// IsHEIC checks if the file is HEIC/HEIF format
func IsHEIC(filename string) bool {
	ext := strings.ToLower(path.Ext(filename))
	return ext == ".heic" || ext == ".heif"
}
