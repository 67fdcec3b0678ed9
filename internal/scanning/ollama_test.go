package scanning

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		scanner *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		scanner, err = NewOllama(server.URL(), "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("ScanReceipt", func() {
		When("the model returns clean JSON", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/api/chat"),
					ghttp.VerifyContentType("application/json"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
						"message": map[string]any{
							"role":    "assistant",
							"content": `{"Burger": "12.50", "Fries": "4.25", "Total": "16.75"}`,
						},
						"done": true,
					}),
				))
			})

			It("extracts line items and drops the total line", func() {
				items, err := scanner.ScanReceipt([]byte("fake png bytes"), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(2))
				Expect(items[0].Name).To(Equal("Burger"))
				Expect(items[0].Price).To(Equal(12.50))
				Expect(items[1].ID).To(Equal(2))
			})
		})

		When("the model wraps its answer in prose and fences", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]any{
						"role":    "assistant",
						"content": "Here is the receipt:\n```json\n{\"Soda\": \"2.75\"}\n```\n",
					},
					"done": true,
				}))
			})

			It("still extracts the items", func() {
				items, err := scanner.ScanReceipt([]byte("fake png bytes"), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(1))
				Expect(items[0].Name).To(Equal("Soda"))
			})
		})

		When("the model returns no JSON at all", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]any{
						"role":    "assistant",
						"content": "I could not read this image.",
					},
					"done": true,
				}))
			})

			It("returns ErrMalformedExtraction", func() {
				_, err := scanner.ScanReceipt([]byte("fake png bytes"), "image/png")
				Expect(err).To(MatchError(ErrMalformedExtraction))
			})
		})

		When("the API returns an error status", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
			})

			It("returns the error with the response body", func() {
				_, err := scanner.ScanReceipt([]byte("fake png bytes"), "image/png")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("model not loaded"))
			})
		})
	})
})
