package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveReceipt", func() {
		var (
			receipt *Receipt
			err     error
		)

		BeforeEach(func() {
			receipt = &Receipt{
				ID:      "test-id",
				OwnerID: "user-1",
				Items: []Item{
					{ID: 1, Name: "Burger", Price: 12.50, Assignees: []string{"Alice"}},
				},
				Members:     []string{"Alice"},
				Subtotal:    12.50,
				Tax:         1.25,
				Total:       13.75,
				ImagePath:   "test.jpg",
				ContentType: "image/jpeg",
				CreatedAt:   time.Now(),
				UpdatedAt:   time.Now(),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveReceipt(receipt)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should save the receipt to the database", func() {
				saved, getErr := db.GetReceipt("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.ID).To(Equal("test-id"))
			})

			It("should round-trip items, members and assignments", func() {
				saved, getErr := db.GetReceipt("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Items).To(HaveLen(1))
				Expect(saved.Items[0].Assignees).To(Equal([]string{"Alice"}))
				Expect(saved.Members).To(Equal([]string{"Alice"}))
				Expect(saved.Total).To(Equal(13.75))
			})
		})

		When("the receipt is saved again", func() {
			It("overwrites the previous record", func() {
				receipt.Tip = 2.00
				Expect(db.SaveReceipt(receipt)).NotTo(HaveOccurred())
				saved, getErr := db.GetReceipt("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Tip).To(Equal(2.00))
			})
		})
	})

	Describe("GetReceipt", func() {
		When("receipt does not exist", func() {
			It("returns ErrNotFound", func() {
				_, err := db.GetReceipt("nonexistent")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListReceipts", func() {
		When("receipts from several owners exist", func() {
			BeforeEach(func() {
				older := &Receipt{ID: "id1", OwnerID: "user-1", CreatedAt: time.Now().Add(-time.Hour)}
				newer := &Receipt{ID: "id2", OwnerID: "user-1", CreatedAt: time.Now()}
				other := &Receipt{ID: "id3", OwnerID: "user-2", CreatedAt: time.Now()}
				Expect(db.SaveReceipt(older)).NotTo(HaveOccurred())
				Expect(db.SaveReceipt(newer)).NotTo(HaveOccurred())
				Expect(db.SaveReceipt(other)).NotTo(HaveOccurred())
			})

			It("returns only the owner's receipts", func() {
				receipts, err := db.ListReceipts("user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).To(HaveLen(2))
			})

			It("orders them newest first", func() {
				receipts, err := db.ListReceipts("user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts[0].ID).To(Equal("id2"))
				Expect(receipts[1].ID).To(Equal("id1"))
			})
		})

		When("no receipts exist", func() {
			It("returns an empty list without error", func() {
				receipts, err := db.ListReceipts("user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).To(BeEmpty())
			})
		})
	})

	Describe("DeleteReceipt", func() {
		When("receipt exists", func() {
			BeforeEach(func() {
				receipt := &Receipt{ID: "test-id", OwnerID: "user-1", CreatedAt: time.Now()}
				Expect(db.SaveReceipt(receipt)).NotTo(HaveOccurred())
			})

			It("removes the receipt from the database", func() {
				Expect(db.DeleteReceipt("test-id")).NotTo(HaveOccurred())
				_, getErr := db.GetReceipt("test-id")
				Expect(getErr).To(MatchError(ErrNotFound))
			})
		})

		When("receipt does not exist", func() {
			It("should not return an error", func() {
				Expect(db.DeleteReceipt("nonexistent")).NotTo(HaveOccurred())
			})
		})
	})

	Describe("Close", func() {
		It("should not return an error", func() {
			Expect(db.Close()).NotTo(HaveOccurred())
		})
	})
})
