package cabinet_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/file-cabinet/internal/cabinet"
	"github.com/zombor/file-cabinet/internal/dedupe"
	"github.com/zombor/file-cabinet/internal/metrics"
	"github.com/zombor/file-cabinet/internal/scanning"
)

// chatReply is an OpenAI chat completion whose message content is payload
func chatReply(payload map[string]any) http.HandlerFunc {
	content, err := json.Marshal(payload)
	Expect(err).NotTo(HaveOccurred())
	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
		ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": string(content)}},
			},
		}),
	)
}

func samplePNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		img.Set(x, x%48, color.Black)
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

func upload(url, filename string, data []byte) *http.Response {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	resp, err := http.Post(url, writer.FormDataContentType(), body)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

var _ = Describe("Integration", func() {
	var (
		db       cabinet.DB
		model    *ghttp.Server
		app      *ghttp.Server
		server   *cabinet.Server
		registry *metrics.Metrics
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = cabinet.NewBoltDB(filepath.Join(tempDir, "cabinet.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err := cabinet.NewLocalStorage(filepath.Join(tempDir, "files"))
		Expect(err).NotTo(HaveOccurred())

		model = ghttp.NewServer()
		provider, err := scanning.NewOpenAI("test-key", model.URL()+"/v1")
		Expect(err).NotTo(HaveOccurred())

		registry = metrics.New()
		gateway := scanning.NewGateway(provider, scanning.DefaultGatewayConfig(), registry)
		scanner := scanning.NewVisionScanner(gateway, "o3", "o3", "Jackson Electric")
		renderer := scanning.NewRenderer(scanning.DefaultRenderConfig())

		service := cabinet.NewService(db, store, renderer, scanner, cabinet.Options{
			Company: "Jackson Electric",
			Policy:  dedupe.DefaultPolicy(),
			Metrics: registry,
		})
		server = cabinet.NewServer(service, registry.Handler())
		app = ghttp.NewServer()
	})

	AfterEach(func() {
		app.Close()
		model.Close()
		if db != nil {
			db.Close()
		}
	})

	It("should ingest a bill, reject the same file again and list it as payable", func() {
		app.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)
		model.AppendHandlers(
			chatReply(map[string]any{"type": "vendor_bill_ap", "confidence": 0.93}),
			chatReply(map[string]any{
				"vendor":         "Acme Supply Co.",
				"invoice_number": "INV-0042",
				"invoice_date":   "03/01/2024",
				"due_date":       "2024-03-31",
				"total":          "$1,234.50",
				"line_items":     []any{map[string]any{"description": "Wire", "quantity": 2, "amount": 1234.5}},
			}),
		)

		data := samplePNG()

		// --- Step 1: first upload runs the whole pipeline ---
		resp := upload(app.URL()+"/api/ingest", "bill.png", data)
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var result cabinet.IngestResult
		Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
		resp.Body.Close()

		Expect(result.Document.Pages).To(Equal(1))
		Expect(result.Record.VendorNorm).To(Equal("acme supply"))
		Expect(result.Record.InvoiceNumberNorm).To(Equal("42"))
		Expect(result.Extraction.Confidence).To(Equal(0.93))
		Expect(result.Suggestion).To(Equal("I think this is an invoice from Acme Supply Co. for ~2 units totaling $1234.50. Would you like me to add this to Jackson Electric's database?"))
		Expect(model.ReceivedRequests()).To(HaveLen(2))

		// --- Step 2: the same bytes are an exact duplicate and never reach the model ---
		resp = upload(app.URL()+"/api/ingest", "bill-copy.png", data)
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		var conflict map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&conflict)).To(Succeed())
		resp.Body.Close()
		Expect(conflict).To(HaveKeyWithValue("existing_document_id", result.Document.ID))
		Expect(model.ReceivedRequests()).To(HaveLen(2))

		// --- Step 3: the bill is open in the payables view ---
		resp, err := http.Get(app.URL() + "/api/ap/bills")
		Expect(err).NotTo(HaveOccurred())
		var bills struct {
			Bills []cabinet.Bill `json:"bills"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&bills)).To(Succeed())
		resp.Body.Close()
		Expect(bills.Bills).To(HaveLen(1))
		Expect(bills.Bills[0].Total).To(Equal(1234.5))
		Expect(bills.Bills[0].DueDate).To(Equal("2024-03-31"))
		Expect(bills.Bills[0].Number).To(Equal("INV-0042"))

		// --- Step 4: metrics saw one ingest of each outcome ---
		resp, err = http.Get(app.URL() + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(string(body)).To(ContainSubstring(`file_cabinet_ingest_documents_total{outcome="ok"} 1`))
		Expect(string(body)).To(ContainSubstring(`file_cabinet_ingest_documents_total{outcome="duplicate"} 1`))
	})
})
