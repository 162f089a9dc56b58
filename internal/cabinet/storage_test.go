package cabinet

import (
	"context"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			key       string
			savedPath string
			err       error
		)

		BeforeEach(func() {
			key = "doc_1.pdf"
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(key, []byte("%PDF-1.4"))
		})

		When("the key is a plain filename", func() {
			It("should return the key", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal(key))
			})

			It("should write the file to disk", func() {
				Expect(filepath.Join(tmpDir, key)).To(BeAnExistingFile())
			})
		})

		When("the key escapes the base directory", func() {
			BeforeEach(func() {
				key = "../outside.pdf"
			})

			It("should return an error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid storage key")))
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("doc_2.png", []byte("png bytes"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return its contents", func() {
				data, err := storage.Get("doc_2.png")
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("png bytes")))
			})
		})

		When("the file does not exist", func() {
			It("should return ErrNotFound", func() {
				_, err := storage.Get("missing.png")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("Delete", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("doc_3.txt", []byte("note"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove it", func() {
				Expect(storage.Delete("doc_3.txt")).To(Succeed())
				Expect(filepath.Join(tmpDir, "doc_3.txt")).NotTo(BeAnExistingFile())
			})
		})

		When("the file does not exist", func() {
			It("should return ErrNotFound", func() {
				Expect(storage.Delete("missing.txt")).To(MatchError(ErrNotFound))
			})
		})
	})
})

var _ = Describe("S3Storage", func() {
	var (
		server *ghttp.Server
		cfg    S3Config
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		server.SetAllowUnhandledRequests(false)
		cfg = S3Config{
			Endpoint:  strings.TrimPrefix(server.URL(), "http://"),
			AccessKey: "minio",
			SecretKey: "minio123",
			Bucket:    "files",
			Region:    "us-east-1",
		}
	})

	AfterEach(func() {
		server.Close()
	})

	When("the bucket exists", func() {
		var putPath string

		BeforeEach(func() {
			server.RouteToHandler(http.MethodHead, regexp.MustCompile(`^/files/?$`), ghttp.RespondWith(http.StatusOK, nil))
			server.RouteToHandler(http.MethodPut, regexp.MustCompile(`^/files/.+`), func(w http.ResponseWriter, r *http.Request) {
				putPath = r.URL.Path
				w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
				w.WriteHeader(http.StatusOK)
			})
		})

		It("should upload objects under the key", func() {
			storage, err := NewS3Storage(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			key, err := storage.Save("doc_1.pdf", []byte("%PDF-1.4"))
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("doc_1.pdf"))
			Expect(putPath).To(Equal("/files/doc_1.pdf"))
		})
	})

	When("the bucket cannot be checked", func() {
		BeforeEach(func() {
			server.RouteToHandler(http.MethodHead, regexp.MustCompile(`^/files/?$`), ghttp.RespondWith(http.StatusForbidden, nil))
		})

		It("should return an error", func() {
			_, err := NewS3Storage(context.Background(), cfg)
			Expect(err).To(MatchError(ContainSubstring("check bucket files")))
		})
	})
})
