package image_renderer

import (
	"fmt"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"
)

const pngContentType = "image/png"

type Renderer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Renderer {
	return &Renderer{
		logger: logger,
	}
}

// ShouldCrop reports whether a rendered tile carries a gutter to remove.
// Only png content requested as png is cropped.
func ShouldCrop(contentType, extension string, gutter int) bool {
	return contentType == pngContentType && extension == "png" && gutter > 0
}

// CropGutter removes gutter pixels from every side of a png image and
// encodes the result as png again.
func (r *Renderer) CropGutter(content []byte, gutter int) ([]byte, error) {
	if gutter <= 0 {
		return content, nil
	}

	image, err := vips.NewPngloadBuffer(content, vips.DefaultPngloadBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}
	defer image.Close()

	width := image.Width() - 2*gutter
	height := image.Height() - 2*gutter
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gutter %d too large for %dx%d image", gutter, image.Width(), image.Height())
	}

	if err := image.ExtractArea(gutter, gutter, width, height); err != nil {
		return nil, fmt.Errorf("failed to extract area: %w", err)
	}

	out, err := image.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	r.logger.Debug("Cropped tile gutter",
		zap.Int("gutter", gutter),
		zap.Int("width", width),
		zap.Int("height", height),
	)
	return out, nil
}
