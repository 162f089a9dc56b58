package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/option"
)

var _ = Describe("OpenAI", func() {
	var (
		server   *ghttp.Server
		provider *OpenAI
		req      Request
		content  string
		err      error
		captured map[string]any
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		captured = nil

		var setupErr error
		provider, setupErr = NewOpenAI("test-key", server.URL()+"/v1/")
		Expect(setupErr).NotTo(HaveOccurred())

		temp := float32(0.2)
		req = Request{
			Model:       "gpt-4o",
			System:      "sys",
			User:        "user",
			Pages:       []Page{{Data: []byte("page1")}, {Data: []byte("page2")}},
			Temperature: &temp,
		}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		content, err = provider.Complete(context.Background(), req)
	})

	capture := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		Expect(json.Unmarshal(body, &captured)).To(Succeed())
	}

	When("the API answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
				capture,
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"choices": []map[string]any{
						{"message": map[string]any{"content": ` {"type": "receipt"} `}},
					},
				}),
			))
		})

		It("should return the message content", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(Equal(`{"type": "receipt"}`))
		})

		It("should request JSON mode with the temperature", func() {
			Expect(captured).To(HaveKeyWithValue("model", "gpt-4o"))
			Expect(captured).To(HaveKeyWithValue("response_format", map[string]any{"type": "json_object"}))
			Expect(captured["temperature"]).To(BeNumerically("~", 0.2, 0.0001))
		})

		It("should send one image part per page after the text", func() {
			messages := captured["messages"].([]any)
			Expect(messages).To(HaveLen(2))
			user := messages[1].(map[string]any)
			parts := user["content"].([]any)
			Expect(parts).To(HaveLen(3))
			Expect(parts[0]).To(HaveKeyWithValue("type", "text"))
			Expect(parts[1]).To(HaveKeyWithValue("type", "image_url"))
			image := parts[1].(map[string]any)["image_url"].(map[string]any)
			Expect(image["url"]).To(HavePrefix("data:image/jpeg;base64,"))
			Expect(image["detail"]).To(Equal("high"))
		})
	})

	When("temperature is omitted", func() {
		BeforeEach(func() {
			req.Temperature = nil
			server.AppendHandlers(ghttp.CombineHandlers(
				capture,
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"choices": []map[string]any{{"message": map[string]any{"content": "{}"}}},
				}),
			))
		})

		It("should leave temperature out of the body", func() {
			Expect(captured).NotTo(HaveKey("temperature"))
		})
	})

	When("the API rejects the request", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusBadRequest, map[string]any{
				"error": map[string]any{"message": "Unsupported parameter: 'temperature'"},
			}))
		})

		It("returns a rejection error", func() {
			var rej *RejectionError
			Expect(errors.As(err, &rej)).To(BeTrue())
			Expect(rej.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(rej.Message).To(Equal("Unsupported parameter: 'temperature'"))
			Expect(rej.Body).To(ContainSubstring("Unsupported parameter"))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "upstream exploded"))
		})

		It("returns a status error", func() {
			var status *StatusError
			Expect(errors.As(err, &status)).To(BeTrue())
			Expect(status.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(status.Message).To(Equal("upstream exploded"))
		})
	})

	When("the API returns no choices", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"choices": []any{}}))
		})

		It("returns an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("NewOpenAI", func() {
	It("requires an API key", func() {
		_, err := NewOpenAI("", "")
		Expect(err).To(MatchError(ContainSubstring("api key is required")))
	})
})

var _ = Describe("Gemini", func() {
	var (
		server   *ghttp.Server
		provider *Gemini
		req      Request
		content  string
		err      error
		captured map[string]any
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		captured = nil

		var setupErr error
		provider, setupErr = NewGemini("test-key", option.WithEndpoint(server.URL()))
		Expect(setupErr).NotTo(HaveOccurred())

		temp := float32(0.2)
		req = Request{
			Model:       "gemini-2.5-pro",
			System:      "sys",
			User:        "user",
			Pages:       []Page{{Data: []byte("page1")}, {Data: []byte("page2")}},
			Temperature: &temp,
		}
	})

	AfterEach(func() {
		provider.Close()
		server.Close()
	})

	JustBeforeEach(func() {
		content, err = provider.Complete(context.Background(), req)
	})

	capture := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		Expect(json.Unmarshal(body, &captured)).To(Succeed())
	}

	When("the API answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/v1beta/models/gemini-2.5-pro:generateContent"),
				ghttp.VerifyHeaderKV("X-Goog-Api-Key", "test-key"),
				capture,
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"candidates": []any{
						map[string]any{"content": map[string]any{
							"role":  "model",
							"parts": []any{map[string]any{"text": ` {"type": "receipt"} `}},
						}},
					},
				}),
			))
		})

		It("should return the candidate text", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(Equal(`{"type": "receipt"}`))
		})

		It("should ask for a JSON response with the temperature", func() {
			config, ok := captured["generationConfig"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(config).To(HaveKeyWithValue("responseMimeType", "application/json"))
			Expect(config["temperature"]).To(BeNumerically("~", 0.2, 0.0001))
		})

		It("should send the prompt and one JPEG part per page", func() {
			contents := captured["contents"].([]any)
			Expect(contents).To(HaveLen(1))
			parts := contents[0].(map[string]any)["parts"].([]any)
			Expect(parts).To(HaveLen(3))
			Expect(parts[0]).To(HaveKeyWithValue("text", "sys\n\nuser"))
			inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
			Expect(inline).To(HaveKeyWithValue("mimeType", "image/jpeg"))
		})
	})

	When("the API rejects the request", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusBadRequest, map[string]any{
				"error": map[string]any{"code": 400, "message": "Unsupported image", "status": "INVALID_ARGUMENT"},
			}))
		})

		It("returns a rejection error", func() {
			var rej *RejectionError
			Expect(errors.As(err, &rej)).To(BeTrue())
			Expect(rej.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(rej.Message).To(Equal("Unsupported image"))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusInternalServerError, map[string]any{
				"error": map[string]any{"code": 500, "message": "internal", "status": "INTERNAL"},
			}))
		})

		It("returns a status error", func() {
			var status *StatusError
			Expect(errors.As(err, &status)).To(BeTrue())
			Expect(status.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})
})

var _ = Describe("withJSONResponse", func() {
	It("should keep existing generation settings", func() {
		body, err := withJSONResponse([]byte(`{"generationConfig":{"temperature":0.2},"model":"models/x"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(MatchJSON(`{"generationConfig":{"temperature":0.2,"responseMimeType":"application/json"},"model":"models/x"}`))
	})

	It("should add a generation config when there is none", func() {
		body, err := withJSONResponse([]byte(`{"model":"models/x"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(MatchJSON(`{"generationConfig":{"responseMimeType":"application/json"},"model":"models/x"}`))
	})

	It("should reject a body that is not JSON", func() {
		_, err := withJSONResponse([]byte("nope"))
		Expect(err).To(MatchError(ContainSubstring("decoding gemini request")))
	})
})

var _ = Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		provider *Ollama
		req      Request
		content  string
		err      error
		captured map[string]any
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		captured = nil

		var setupErr error
		provider, setupErr = NewOllama(server.URL())
		Expect(setupErr).NotTo(HaveOccurred())

		temp := float32(0.2)
		req = Request{
			Model:       "qwen2.5vl",
			System:      "sys",
			User:        "user",
			Pages:       []Page{{Data: []byte("page1")}},
			Temperature: &temp,
		}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		content, err = provider.Complete(context.Background(), req)
	})

	capture := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		Expect(json.Unmarshal(body, &captured)).To(Succeed())
	}

	When("the server answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				capture,
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]any{"role": "assistant", "content": `{"summary": "ok"}`},
					"done":    true,
				}),
			))
		})

		It("should return the message content", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(Equal(`{"summary": "ok"}`))
		})

		It("should request JSON format without streaming", func() {
			Expect(captured).To(HaveKeyWithValue("format", "json"))
			Expect(captured).To(HaveKeyWithValue("stream", false))
			Expect(captured["options"]).To(HaveKey("temperature"))
		})

		It("should attach the pages to the user message", func() {
			messages := captured["messages"].([]any)
			user := messages[1].(map[string]any)
			Expect(user["images"]).To(HaveLen(1))
		})
	})

	When("the model is not found", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusNotFound, map[string]any{
				"error": "model 'qwen2.5vl' not found",
			}))
		})

		It("returns a rejection error", func() {
			var rej *RejectionError
			Expect(errors.As(err, &rej)).To(BeTrue())
			Expect(rej.Message).To(Equal("model 'qwen2.5vl' not found"))
		})
	})

	When("the server fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, "loading"))
		})

		It("returns a status error", func() {
			var status *StatusError
			Expect(errors.As(err, &status)).To(BeTrue())
			Expect(status.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})
	})
})
