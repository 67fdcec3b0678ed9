package receipt

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"tabsplit/internal/scanning"
	"tabsplit/internal/split"
)

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations. Every method that touches a stored
// receipt takes the caller's owner id explicitly; an empty owner id means a
// guest session, which can scan and preview splits but never persists
// anything server-side.
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// loadOwned fetches a receipt and verifies ownership. Guests hold no
// server-side receipts, so an empty owner id is always unauthorized here.
func (s *Service) loadOwned(ownerID, receiptID string) (*Receipt, error) {
	if ownerID == "" {
		return nil, ErrUnauthorized
	}
	receipt, err := s.db.GetReceipt(receiptID)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	return receipt, nil
}

func (s *Service) save(receipt *Receipt) error {
	receipt.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(receipt); err != nil {
		return fmt.Errorf("saving receipt: %w", err)
	}
	return nil
}

func fromLineItems(lineItems []scanning.LineItem) []Item {
	items := make([]Item, len(lineItems))
	for i, li := range lineItems {
		items[i] = Item{ID: li.ID, Name: li.Name, Price: li.Price}
	}
	return items
}

func splitItems(receipt *Receipt) []split.Item {
	items := make([]split.Item, len(receipt.Items))
	for i, item := range receipt.Items {
		items[i] = split.Item{
			ID:        item.ID,
			Name:      item.Name,
			Price:     item.Price,
			Assignees: item.Assignees,
		}
	}
	return items
}

// assignmentsOf rebuilds the assignment set from the persisted receipt.
func assignmentsOf(receipt *Receipt) (*split.Assignments, error) {
	a := split.NewAssignments()
	for _, member := range receipt.Members {
		if err := a.AddMember(member); err != nil {
			return nil, err
		}
	}
	for _, item := range receipt.Items {
		for _, name := range item.Assignees {
			if a.Has(item.ID, name) {
				continue
			}
			if err := a.Toggle(item.ID, name); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// applyAssignments writes the assignment set back onto the receipt.
func applyAssignments(receipt *Receipt, a *split.Assignments) {
	receipt.Members = a.Members()
	for i := range receipt.Items {
		receipt.Items[i].Assignees = a.AssigneesFor(receipt.Items[i].ID)
	}
}

// ProcessReceipt scans an uploaded receipt image and, for authenticated
// callers, stores the image and the extracted receipt. Guests get the
// scanned receipt back but nothing is persisted.
func (s *Service) ProcessReceipt(ownerID, filename string, data []byte, contentType string) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	lineItems, err := s.scanner.ScanReceipt(data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	receipt := &Receipt{
		ID:        id,
		OwnerID:   ownerID,
		Items:     fromLineItems(lineItems),
		CreatedAt: now,
		UpdatedAt: now,
	}
	receipt.recompute()

	if ownerID == "" {
		return receipt, nil
	}

	cleanFilename := sanitizeFilename(filename)
	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, cleanFilename), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	receipt.ImagePath = savedPath
	receipt.ContentType = contentType

	if err := s.db.SaveReceipt(receipt); err != nil {
		// Clean up file if database save fails
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	return receipt, nil
}

// ManualItem is a line item supplied directly by the user instead of the
// scanner.
type ManualItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// CreateManualReceipt builds a receipt from user-entered items, bypassing
// the scanner. Guests get the receipt back without persistence.
func (s *Service) CreateManualReceipt(ownerID string, manualItems []ManualItem, tax, tip float64) (*Receipt, error) {
	now := s.timeSource.Now()

	items := make([]Item, len(manualItems))
	for i, mi := range manualItems {
		items[i] = Item{ID: i + 1, Name: mi.Name, Price: mi.Price}
	}

	receipt := &Receipt{
		ID:        s.idGenerator.Generate(),
		OwnerID:   ownerID,
		Items:     items,
		Tax:       tax,
		Tip:       tip,
		CreatedAt: now,
		UpdatedAt: now,
	}
	receipt.recompute()

	if ownerID == "" {
		return receipt, nil
	}
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return receipt, nil
}

// GetReceipt retrieves a receipt owned by the caller.
func (s *Service) GetReceipt(ownerID, receiptID string) (*Receipt, error) {
	return s.loadOwned(ownerID, receiptID)
}

// ListReceipts returns the caller's receipts, newest first.
func (s *Service) ListReceipts(ownerID string) ([]*Receipt, error) {
	if ownerID == "" {
		return nil, ErrUnauthorized
	}
	receipts, err := s.db.ListReceipts(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its stored image.
func (s *Service) DeleteReceipt(ownerID, receiptID string) error {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return err
	}

	if receipt.ImagePath != "" {
		if err := s.storage.Delete(receipt.ImagePath); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete file", "path", receipt.ImagePath, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(receiptID); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptImage retrieves the stored image data for a receipt.
func (s *Service) GetReceiptImage(ownerID, receiptID string) ([]byte, string, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, "", err
	}
	if receipt.ImagePath == "" {
		return nil, "", fmt.Errorf("%w: no image stored", ErrNotFound)
	}

	data, err := s.storage.Get(receipt.ImagePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, receipt.ContentType, nil
}

// AddItem appends a user-entered line item to a receipt.
func (s *Service) AddItem(ownerID, receiptID, name string, price float64) (*Receipt, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, err
	}
	receipt.AddItem(name, price)
	if err := s.save(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// EditItem applies a partial edit to one line item.
func (s *Service) EditItem(ownerID, receiptID string, itemID int, patch ItemPatch) (*Receipt, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, err
	}
	if err := receipt.EditItem(itemID, patch); err != nil {
		return nil, err
	}
	if err := s.save(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// RemoveItem deletes a line item from a receipt.
func (s *Service) RemoveItem(ownerID, receiptID string, itemID int) (*Receipt, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, err
	}
	if err := receipt.RemoveItem(itemID); err != nil {
		return nil, err
	}
	if err := s.save(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// SetAdjustments updates the receipt-level tax and tip amounts; nil fields
// are left unchanged.
func (s *Service) SetAdjustments(ownerID, receiptID string, tax, tip *float64) (*Receipt, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, err
	}
	if tax != nil {
		receipt.SetTax(*tax)
	}
	if tip != nil {
		receipt.SetTip(*tip)
	}
	if err := s.save(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// AddMember adds a member to the receipt's group.
func (s *Service) AddMember(ownerID, receiptID, name string) (*Receipt, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, err
	}
	a, err := assignmentsOf(receipt)
	if err != nil {
		return nil, err
	}
	if err := a.AddMember(name); err != nil {
		return nil, err
	}
	applyAssignments(receipt, a)
	if err := s.save(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// RemoveMember drops a member and all of their assignments.
func (s *Service) RemoveMember(ownerID, receiptID, name string) (*Receipt, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, err
	}
	a, err := assignmentsOf(receipt)
	if err != nil {
		return nil, err
	}
	a.RemoveMember(name)
	applyAssignments(receipt, a)
	if err := s.save(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// RenameMember renames a member, carrying their assignments over.
func (s *Service) RenameMember(ownerID, receiptID, oldName, newName string) (*Receipt, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, err
	}
	a, err := assignmentsOf(receipt)
	if err != nil {
		return nil, err
	}
	if err := a.RenameMember(oldName, newName); err != nil {
		return nil, err
	}
	applyAssignments(receipt, a)
	if err := s.save(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// ToggleAssignment flips one member's assignment on one item.
func (s *Service) ToggleAssignment(ownerID, receiptID string, itemID int, member string) (*Receipt, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, err
	}
	a, err := assignmentsOf(receipt)
	if err != nil {
		return nil, err
	}
	if err := a.Toggle(itemID, member); err != nil {
		return nil, err
	}
	applyAssignments(receipt, a)
	if err := s.save(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// AssignAllForMember assigns a member to every item, or clears them from
// every item if they already had all of them.
func (s *Service) AssignAllForMember(ownerID, receiptID, member string) (*Receipt, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, err
	}
	a, err := assignmentsOf(receipt)
	if err != nil {
		return nil, err
	}
	if err := a.SetAll(member, receipt.ItemIDs()); err != nil {
		return nil, err
	}
	applyAssignments(receipt, a)
	if err := s.save(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// AssignAllForItem assigns every member to one item, or clears the item if
// every member already had it.
func (s *Service) AssignAllForItem(ownerID, receiptID string, itemID int) (*Receipt, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, err
	}
	a, err := assignmentsOf(receipt)
	if err != nil {
		return nil, err
	}
	a.SetAllForItem(itemID)
	applyAssignments(receipt, a)
	if err := s.save(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// Finalize computes each member's owed amount and stamps the result onto
// the receipt. It fails while any item lacks an assignee. Re-finalizing
// after further edits overwrites the previous result.
func (s *Service) Finalize(ownerID, receiptID string) (*Receipt, []split.MemberShare, error) {
	receipt, err := s.loadOwned(ownerID, receiptID)
	if err != nil {
		return nil, nil, err
	}
	a, err := assignmentsOf(receipt)
	if err != nil {
		return nil, nil, err
	}
	if !a.CanFinalize(receipt.ItemIDs()) {
		return nil, nil, ErrUnassignedItems
	}

	shares := split.Allocate(splitItems(receipt), receipt.Subtotal, receipt.Tax, receipt.Tip, receipt.Members)

	details := make([]SplitDetail, len(shares))
	for i, share := range shares {
		details[i] = SplitDetail{Name: share.Name, Amount: share.Amount}
	}
	receipt.SplitDetails = details

	if err := s.save(receipt); err != nil {
		return nil, nil, err
	}
	return receipt, shares, nil
}

// Preview computes a split for a receipt supplied in the request body
// without persisting anything. This is the finalize path for guests. Totals
// are recomputed from the items; client-sent subtotals are ignored.
func (s *Service) Preview(receipt *Receipt) ([]split.MemberShare, error) {
	receipt.recompute()
	a, err := assignmentsOf(receipt)
	if err != nil {
		return nil, err
	}
	if !a.CanFinalize(receipt.ItemIDs()) {
		return nil, ErrUnassignedItems
	}
	return split.Allocate(splitItems(receipt), receipt.Subtotal, receipt.Tax, receipt.Tip, receipt.Members), nil
}
