package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
)

// ErrNotRenderable is returned for inputs that are neither PDFs nor images
var ErrNotRenderable = errors.New("no renderable pages")

// RenderError wraps any failure to rasterize a document
type RenderError struct {
	MimeType string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering %s: %v", e.MimeType, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Page is one rasterized page, JPEG encoded
type Page struct {
	Data   []byte
	Width  int
	Height int
	DPI    int
}

// RenderConfig bounds how documents are rasterized
type RenderConfig struct {
	MaxPages    int
	DPI         int
	MaxWidth    int
	JPEGQuality int
}

// DefaultRenderConfig returns the stock render settings
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		MaxPages:    2,
		DPI:         180,
		MaxWidth:    1800,
		JPEGQuality: 85,
	}
}

// Renderer turns source files into pages for the vision model
type Renderer struct {
	cfg RenderConfig
}

// NewRenderer creates a Renderer, filling zero settings with defaults
func NewRenderer(cfg RenderConfig) *Renderer {
	def := DefaultRenderConfig()
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.DPI <= 0 {
		cfg.DPI = def.DPI
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = def.MaxWidth
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	return &Renderer{cfg: cfg}
}

// Render rasterizes up to MaxPages pages of a PDF, or returns an image as a single page
func (r *Renderer) Render(data []byte, contentType string) ([]Page, error) {
	mimeType := normalizeMimeType(contentType)

	var (
		pages []Page
		err   error
	)
	switch {
	case mimeType == "application/pdf":
		pages, err = r.renderPDF(data)
	case strings.HasPrefix(mimeType, "image/") || isHEICFormat(data):
		var page Page
		page, err = r.renderImage(data, mimeType)
		pages = []Page{page}
	default:
		err = ErrNotRenderable
	}
	if err != nil {
		return nil, &RenderError{MimeType: mimeType, Err: err}
	}
	return pages, nil
}

func (r *Renderer) renderPDF(data []byte) ([]Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n > r.cfg.MaxPages {
		n = r.cfg.MaxPages
	}
	if n == 0 {
		return nil, ErrNotRenderable
	}

	pages := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.ImageDPI(i, float64(r.cfg.DPI))
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		page, err := r.encode(img, r.cfg.DPI)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (r *Renderer) renderImage(data []byte, mimeType string) (Page, error) {
	var img image.Image
	var err error

	// Go's standard image package doesn't decode HEIC (common on iPhones)
	if isHEICFormat(data) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return Page{}, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return Page{}, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return Page{}, fmt.Errorf("decoding image: %w", err)
		}
	}

	return r.encode(img, 0)
}

// encode flattens img onto white, downscales it past MaxWidth and encodes it as JPEG
func (r *Renderer) encode(img image.Image, dpi int) (Page, error) {
	src := img.Bounds()
	width, height := src.Dx(), src.Dy()
	if width == 0 || height == 0 {
		return Page{}, fmt.Errorf("empty image")
	}
	if width > r.cfg.MaxWidth {
		height = int(float64(height) * float64(r.cfg.MaxWidth) / float64(width))
		if height < 1 {
			height = 1
		}
		width = r.cfg.MaxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if width == src.Dx() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: r.cfg.JPEGQuality}); err != nil {
		return Page{}, fmt.Errorf("encoding JPEG: %w", err)
	}

	return Page{
		Data:   buf.Bytes(),
		Width:  width,
		Height: height,
		DPI:    dpi,
	}, nil
}

func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box at offset 4 with a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
