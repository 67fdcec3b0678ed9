package receipt

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tabsplit/internal/auth"
)

var _ = Describe("Server", func() {
	var (
		db         *mockDB
		tokens     *auth.JWTManager
		userToken  string
		otherToken string
		server     *Server
		testServer *httptest.Server
	)

	doRequest := func(method, path, token string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, testServer.URL+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeReceipt := func(resp *http.Response) *Receipt {
		defer resp.Body.Close()
		var receipt Receipt
		Expect(json.NewDecoder(resp.Body).Decode(&receipt)).NotTo(HaveOccurred())
		return &receipt
	}

	BeforeEach(func() {
		db = newMockDB()
		tokens = auth.NewJWTManager("test-secret", time.Hour)
		var err error
		userToken, err = tokens.Generate("user-1", "Alice")
		Expect(err).NotTo(HaveOccurred())
		otherToken, err = tokens.Generate("user-2", "Mallory")
		Expect(err).NotTo(HaveOccurred())

		service := NewServiceWithDeps(db, newMockScanner(), newMockStorage(),
			&mockIDGenerator{id: "test-id-123"},
			&mockTimeSource{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, tokens, http.NewServeMux())
		testServer = httptest.NewServer(server)
	})

	AfterEach(func() {
		if testServer != nil {
			testServer.Close()
		}
	})

	Describe("handleIndex", func() {
		It("should return HTML containing TabSplit", func() {
			resp, err := http.Get(testServer.URL + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("TabSplit"))
		})
	})

	Describe("handleUploadReceipt", func() {
		uploadImage := func(token string) *http.Response {
			var buf bytes.Buffer
			writer := multipart.NewWriter(&buf)
			part, err := writer.CreateFormFile("image", "receipt.jpg")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("fake image data"))
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).NotTo(HaveOccurred())

			req, err := http.NewRequest("POST", testServer.URL+"/api/receipts", &buf)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", writer.FormDataContentType())
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("the caller is authenticated", func() {
			It("returns 201 with the scanned receipt and persists it", func() {
				resp := uploadImage(userToken)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				receipt := decodeReceipt(resp)
				Expect(receipt.Items).To(HaveLen(3))
				Expect(db.receipts).To(HaveKey("test-id-123"))
			})
		})

		When("the caller is a guest", func() {
			It("returns the scanned receipt without persisting it", func() {
				resp := uploadImage("")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				receipt := decodeReceipt(resp)
				Expect(receipt.Items).To(HaveLen(3))
				Expect(db.receipts).To(BeEmpty())
			})
		})

		When("the upload exceeds the size limit", func() {
			It("returns 400 with a too-large error", func() {
				var buf bytes.Buffer
				writer := multipart.NewWriter(&buf)
				part, err := writer.CreateFormFile("image", "huge.jpg")
				Expect(err).NotTo(HaveOccurred())
				_, err = part.Write(bytes.Repeat([]byte("x"), (50<<20)+1))
				Expect(err).NotTo(HaveOccurred())
				Expect(writer.Close()).NotTo(HaveOccurred())

				req, err := http.NewRequest("POST", testServer.URL+"/api/receipts", &buf)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", writer.FormDataContentType())
				req.Header.Set("Authorization", "Bearer "+userToken)
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("too large"))
				Expect(db.receipts).To(BeEmpty())
			})
		})

		When("no image field is sent", func() {
			It("returns 400", func() {
				resp := doRequest("POST", "/api/receipts", userToken, map[string]any{})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{ID: "r1", OwnerID: "user-1", Items: []Item{{ID: 1, Name: "Burger", Price: 12.50}}}
		})

		It("rejects missing tokens with 401", func() {
			resp := doRequest("GET", "/api/receipts/r1", "", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("rejects garbage tokens with 401", func() {
			resp := doRequest("GET", "/api/receipts/r1", "not-a-token", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("rejects another user's receipt with 403", func() {
			resp := doRequest("GET", "/api/receipts/r1", otherToken, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("returns 404 for a missing receipt", func() {
			resp := doRequest("GET", "/api/receipts/missing", userToken, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("serves the owner's receipt", func() {
			resp := doRequest("GET", "/api/receipts/r1", userToken, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeReceipt(resp).ID).To(Equal("r1"))
		})
	})

	Describe("item and member routes", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{
				ID:      "r1",
				OwnerID: "user-1",
				Items: []Item{
					{ID: 1, Name: "Burger", Price: 12.50},
					{ID: 2, Name: "Fries", Price: 4.25},
				},
				Subtotal: 16.75,
				Total:    16.75,
			}
		})

		It("adds an item", func() {
			resp := doRequest("POST", "/api/receipts/r1/items", userToken, map[string]any{"name": "Pie", "price": 6.0})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeReceipt(resp).Items).To(HaveLen(3))
		})

		It("edits an item", func() {
			resp := doRequest("PATCH", "/api/receipts/r1/items/1", userToken, map[string]any{"price": 11.0})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeReceipt(resp).Items[0].Price).To(Equal(11.0))
		})

		It("returns 404 for an unknown item id", func() {
			resp := doRequest("PATCH", "/api/receipts/r1/items/99", userToken, map[string]any{"price": 11.0})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("removes an item", func() {
			resp := doRequest("DELETE", "/api/receipts/r1/items/2", userToken, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeReceipt(resp).Items).To(HaveLen(1))
		})

		It("updates tax and tip", func() {
			resp := doRequest("PATCH", "/api/receipts/r1", userToken, map[string]any{"tax": 1.5, "tip": 3.0})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			receipt := decodeReceipt(resp)
			Expect(receipt.Tax).To(Equal(1.5))
			Expect(receipt.Total).To(BeNumerically("~", 21.25, 1e-9))
		})

		It("adds a member", func() {
			resp := doRequest("POST", "/api/receipts/r1/members", userToken, map[string]any{"name": "Alice"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeReceipt(resp).Members).To(Equal([]string{"Alice"}))
		})

		It("rejects a duplicate member with 400", func() {
			resp := doRequest("POST", "/api/receipts/r1/members", userToken, map[string]any{"name": "Alice"})
			resp.Body.Close()
			resp = doRequest("POST", "/api/receipts/r1/members", userToken, map[string]any{"name": "Alice"})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("renames a member through the path", func() {
			resp := doRequest("POST", "/api/receipts/r1/members", userToken, map[string]any{"name": "Bob"})
			resp.Body.Close()
			resp = doRequest("PATCH", "/api/receipts/r1/members/Bob", userToken, map[string]any{"name": "Robert"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeReceipt(resp).Members).To(Equal([]string{"Robert"}))
		})

		It("toggles an assignment", func() {
			resp := doRequest("POST", "/api/receipts/r1/members", userToken, map[string]any{"name": "Alice"})
			resp.Body.Close()
			resp = doRequest("POST", "/api/receipts/r1/assignments/toggle", userToken, map[string]any{"item_id": 1, "member": "Alice"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeReceipt(resp).Items[0].Assignees).To(Equal([]string{"Alice"}))
		})
	})

	Describe("finalize", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{
				ID:      "r1",
				OwnerID: "user-1",
				Items: []Item{
					{ID: 1, Name: "Burger", Price: 12.00, Assignees: []string{"Alice"}},
					{ID: 2, Name: "Fries", Price: 4.00, Assignees: []string{"Bob"}},
				},
				Members:  []string{"Alice", "Bob"},
				Subtotal: 16.00,
				Total:    16.00,
			}
		})

		It("returns the receipt with shares", func() {
			resp := doRequest("POST", "/api/receipts/r1/finalize", userToken, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result struct {
				Receipt *Receipt `json:"receipt"`
				Shares  []struct {
					Name   string  `json:"name"`
					Amount float64 `json:"amount"`
				} `json:"shares"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&result)).NotTo(HaveOccurred())
			Expect(result.Shares).To(HaveLen(2))
			Expect(result.Shares[0].Amount).To(BeNumerically("~", 12.00, 1e-9))
			Expect(result.Receipt.SplitDetails).To(HaveLen(2))
		})

		It("returns 409 while an item is unassigned", func() {
			db.receipts["r1"].Items[1].Assignees = nil
			resp := doRequest("POST", "/api/receipts/r1/finalize", userToken, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})
	})

	Describe("handlePreviewSplit", func() {
		It("computes a split for guests without persisting anything", func() {
			resp := doRequest("POST", "/api/split/preview", "", map[string]any{
				"items": []map[string]any{
					{"id": 1, "name": "Burger", "price": 10.0, "assignees": []string{"Alice", "Bob"}},
				},
				"members": []string{"Alice", "Bob"},
				"tip":     2.0,
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result struct {
				Shares []struct {
					Name   string  `json:"name"`
					Amount float64 `json:"amount"`
				} `json:"shares"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&result)).NotTo(HaveOccurred())
			Expect(result.Shares).To(HaveLen(2))
			Expect(result.Shares[0].Amount).To(BeNumerically("~", 6.00, 1e-9))
			Expect(db.receipts).To(BeEmpty())
		})

		It("returns 409 while an item is unassigned", func() {
			resp := doRequest("POST", "/api/split/preview", "", map[string]any{
				"items":   []map[string]any{{"id": 1, "name": "Burger", "price": 10.0}},
				"members": []string{"Alice"},
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})
	})

	Describe("metrics endpoint", func() {
		It("serves prometheus metrics", func() {
			resp, err := http.Get(testServer.URL + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
