package scanning

import (
	"bytes"
	_ "embed"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// threePagePDF is three US Letter pages (612x792 points) of text
//
//go:embed testdata/three-pages.pdf
var threePagePDF []byte

func pngOf(width, height int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, height/2, color.NRGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Renderer", func() {
	var (
		renderer    *Renderer
		data        []byte
		contentType string
		pages       []Page
		err         error
	)

	BeforeEach(func() {
		renderer = NewRenderer(RenderConfig{MaxWidth: 100})
	})

	JustBeforeEach(func() {
		pages, err = renderer.Render(data, contentType)
	})

	When("rendering an image wider than the maximum", func() {
		BeforeEach(func() {
			data = pngOf(400, 200)
			contentType = "image/png"
		})

		It("should return a single page", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(1))
		})

		It("should downscale preserving the aspect ratio", func() {
			Expect(pages[0].Width).To(Equal(100))
			Expect(pages[0].Height).To(Equal(50))
		})

		It("should encode the page as JPEG", func() {
			cfg, format, decodeErr := image.DecodeConfig(bytes.NewReader(pages[0].Data))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(format).To(Equal("jpeg"))
			Expect(cfg.Width).To(Equal(100))
		})
	})

	When("rendering a small image", func() {
		BeforeEach(func() {
			data = pngOf(40, 20)
			contentType = "image/png; charset=binary"
		})

		It("should keep its size", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages[0].Width).To(Equal(40))
			Expect(pages[0].Height).To(Equal(20))
		})
	})

	When("rendering a JPEG", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10)), nil)).To(Succeed())
			data = buf.Bytes()
			contentType = "IMAGE/JPEG"
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(1))
		})
	})

	When("the image bytes are garbage", func() {
		BeforeEach(func() {
			data = []byte("definitely not an image")
			contentType = "image/png"
		})

		It("returns a render error", func() {
			var renderErr *RenderError
			Expect(errors.As(err, &renderErr)).To(BeTrue())
			Expect(renderErr.MimeType).To(Equal("image/png"))
			Expect(pages).To(BeNil())
		})
	})

	When("rendering a PDF with more pages than the cap", func() {
		BeforeEach(func() {
			renderer = NewRenderer(RenderConfig{MaxPages: 2, DPI: 300, MaxWidth: 1800})
			data = threePagePDF
			contentType = "application/pdf"
		})

		It("should stop at MaxPages", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(2))
		})

		It("should record the render DPI on every page", func() {
			for _, page := range pages {
				Expect(page.DPI).To(Equal(300))
			}
		})

		It("should clamp the width and keep the aspect ratio", func() {
			for _, page := range pages {
				// 2550x3300 at 300 DPI
				Expect(page.Width).To(Equal(1800))
				Expect(page.Height).To(Equal(2329))
				cfg, format, decodeErr := image.DecodeConfig(bytes.NewReader(page.Data))
				Expect(decodeErr).NotTo(HaveOccurred())
				Expect(format).To(Equal("jpeg"))
				Expect(cfg.Width).To(Equal(1800))
			}
		})
	})

	When("rendering a PDF with fewer pages than the cap", func() {
		BeforeEach(func() {
			renderer = NewRenderer(RenderConfig{MaxPages: 5, DPI: 72, MaxWidth: 1800})
			data = threePagePDF
			contentType = "application/pdf"
		})

		It("should stop at the end of the document without scaling", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(3))
			Expect(pages[2].Width).To(Equal(612))
			Expect(pages[2].Height).To(Equal(792))
			Expect(pages[2].DPI).To(Equal(72))
		})
	})

	When("the PDF bytes are garbage", func() {
		BeforeEach(func() {
			data = []byte("%PDF-1.4 broken")
			contentType = "application/pdf"
		})

		It("returns a render error", func() {
			var renderErr *RenderError
			Expect(errors.As(err, &renderErr)).To(BeTrue())
		})
	})

	When("the file is plain text", func() {
		BeforeEach(func() {
			data = []byte("hello")
			contentType = "text/plain"
		})

		It("returns ErrNotRenderable", func() {
			Expect(errors.Is(err, ErrNotRenderable)).To(BeTrue())
		})
	})
})

var _ = Describe("NewRenderer", func() {
	It("should fill zero settings with defaults", func() {
		r := NewRenderer(RenderConfig{})
		Expect(r.cfg).To(Equal(DefaultRenderConfig()))
	})
})

var _ = Describe("isHEICFormat", func() {
	It("should detect the ftyp brand", func() {
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypheic0000"))).To(BeTrue())
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypmp420000"))).To(BeFalse())
		Expect(isHEICFormat([]byte("short"))).To(BeFalse())
	})
})

var _ = Describe("TextSummary", func() {
	It("should collapse whitespace", func() {
		Expect(TextSummary([]byte("Invoice   1024\n\nTotal: 5.00"), "text/plain")).To(Equal("Invoice 1024 Total: 5.00"))
	})

	It("should drop invalid UTF-8", func() {
		Expect(TextSummary([]byte("ok\xff\xfe done"), "application/octet-stream")).To(Equal("ok done"))
	})

	It("should truncate long text", func() {
		long := bytes.Repeat([]byte("é"), 800)
		Expect([]rune(TextSummary(long, "text/plain"))).To(HaveLen(500))
	})

	It("should fall back to raw text for an unreadable PDF", func() {
		Expect(TextSummary([]byte("%PDF-1.4 broken"), "application/pdf")).To(Equal("%PDF-1.4 broken"))
	})
})
