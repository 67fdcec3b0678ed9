package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"tabsplit/internal/auth"
	"tabsplit/internal/scanning"
	"tabsplit/internal/split"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrUnassignedItems):
		return http.StatusConflict
	case errors.Is(err, scanning.ErrMalformedExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, split.ErrDuplicateMember),
		errors.Is(err, split.ErrMemberLimit),
		errors.Is(err, split.ErrUnknownMember):
		return http.StatusBadRequest
	case errors.Is(err, ErrPersistence):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	setCORSHeaders(w)
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleUploadReceipt accepts a receipt image, scans it and returns the
// extracted receipt. Authenticated uploads are persisted; guest uploads are
// returned without being stored.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	// 50MB to handle high-resolution phone photos
	maxFormSize := int64(50 << 20)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		setCORSHeaders(w)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorMsg})
		return
	}

	f, header, err := r.FormFile("image")
	if err != nil {
		slog.Error("Error getting image from form", "error", err)
		setCORSHeaders(w)
		errorMsg := "No image provided"
		if err.Error() == "http: no such file" {
			errorMsg = "No image was selected. Please choose a receipt image to upload."
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorMsg})
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "File is too large. Maximum size is 50MB. Please compress or resize your image.",
		})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading image data", "error", err, "filename", header.Filename)
		setCORSHeaders(w)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Error reading file. Please try again.",
		})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		switch ext {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}
	// Preserve HEIC/HEIF MIME types so conversion logic can detect them
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	receipt, err := s.service.ProcessReceipt(auth.UserID(r.Context()), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// handleCreateManual builds a receipt from user-entered items.
func (s *Server) handleCreateManual(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []ManualItem `json:"items"`
		Tax   float64      `json:"tax"`
		Tip   float64      `json:"tip"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.service.CreateManualReceipt(auth.UserID(r.Context()), req.Items, req.Tax, req.Tip)
	if err != nil {
		slog.Error("Error creating manual receipt", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// handleListReceipts returns the caller's receipt history
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts(auth.UserID(r.Context()))
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeError(w, err)
		return
	}

	// Ensure we always return an array, not nil
	if receipts == nil {
		receipts = []*Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptImage returns the stored image for a receipt
func (s *Server) handleGetReceiptImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptImage(auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(auth.UserID(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddItem appends a line item to a receipt
func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.service.AddItem(auth.UserID(r.Context()), r.PathValue("id"), req.Name, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleEditItem applies a partial edit to a line item
func (s *Server) handleEditItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseItemID(w, r.PathValue("itemID"))
	if !ok {
		return
	}

	var req struct {
		Name  *string  `json:"name"`
		Price *float64 `json:"price"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.service.EditItem(auth.UserID(r.Context()), r.PathValue("id"), itemID, ItemPatch{Name: req.Name, Price: req.Price})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleRemoveItem deletes a line item
func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseItemID(w, r.PathValue("itemID"))
	if !ok {
		return
	}

	receipt, err := s.service.RemoveItem(auth.UserID(r.Context()), r.PathValue("id"), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleAdjustments updates the receipt-level tax and tip amounts
func (s *Server) handleAdjustments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tax *float64 `json:"tax"`
		Tip *float64 `json:"tip"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.service.SetAdjustments(auth.UserID(r.Context()), r.PathValue("id"), req.Tax, req.Tip)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleAddMember adds a member to the receipt's group
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.service.AddMember(auth.UserID(r.Context()), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleRenameMember renames a member, keeping their assignments
func (s *Server) handleRenameMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.service.RenameMember(auth.UserID(r.Context()), r.PathValue("id"), r.PathValue("name"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleRemoveMember drops a member and their assignments
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.RemoveMember(auth.UserID(r.Context()), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleToggleAssignment flips one member's assignment on one item
func (s *Server) handleToggleAssignment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID int    `json:"item_id"`
		Member string `json:"member"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.service.ToggleAssignment(auth.UserID(r.Context()), r.PathValue("id"), req.ItemID, req.Member)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleAssignAllForMember assigns or clears every item for one member
func (s *Server) handleAssignAllForMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Member string `json:"member"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.service.AssignAllForMember(auth.UserID(r.Context()), r.PathValue("id"), req.Member)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleAssignAllForItem assigns or clears every member on one item
func (s *Server) handleAssignAllForItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID int `json:"item_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := s.service.AssignAllForItem(auth.UserID(r.Context()), r.PathValue("id"), req.ItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleFinalize computes the split and stamps it onto the receipt
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	receipt, shares, err := s.service.Finalize(auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"receipt": receipt,
		"shares":  shares,
	})
}

// handlePreviewSplit computes a split for a receipt supplied in the request
// body without persisting anything. Guests use this in place of finalize.
func (s *Server) handlePreviewSplit(w http.ResponseWriter, r *http.Request) {
	var receipt Receipt
	if !decodeBody(w, r, &receipt) {
		return
	}

	shares, err := s.service.Preview(&receipt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"shares": shares})
}

func parseItemID(w http.ResponseWriter, raw string) (int, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item id"})
		return 0, false
	}
	return id, true
}
