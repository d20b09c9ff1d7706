package camera

import (
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
)

const photoQuality = 95

// SaveImage writes f to path. The format follows the extension: .png is
// lossless, anything else is JPEG.
func SaveImage(f *Frame, path string) error {
	if f.Empty() {
		return fmt.Errorf("%w: empty frame", ErrPersist)
	}
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrPersist)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create dir: %w", ErrPersist, err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(file, f.Image)
	default:
		err = jpeg.Encode(file, f.Image, &jpeg.Options{Quality: photoQuality})
	}

	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersist, path, errors.Join(err, os.Remove(path)))
	}

	return nil
}
