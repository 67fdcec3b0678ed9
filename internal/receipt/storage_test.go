package receipt

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewLocalStorage", func() {
		It("creates the storage directory", func() {
			info, err := os.Stat(filepath.Join(tmpDir, "receipts"))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})
	})

	Describe("Save and Get", func() {
		It("round-trips file data", func() {
			path, err := storage.Save("r1_receipt.jpg", []byte("image data"))
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal("r1_receipt.jpg"))

			data, err := storage.Get(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("image data")))
		})

		It("returns an error for a missing file", func() {
			_, err := storage.Get("missing.jpg")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("removes a stored file", func() {
			path, err := storage.Save("r1_receipt.jpg", []byte("image data"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete(path)).NotTo(HaveOccurred())
			_, err = storage.Get(path)
			Expect(err).To(HaveOccurred())
		})

		It("returns an error for a missing file", func() {
			Expect(storage.Delete("missing.jpg")).To(HaveOccurred())
		})
	})
})

var _ = Describe("Receipt model", func() {
	Describe("AddItem", func() {
		It("uses one past the highest id, not the item count", func() {
			r := &Receipt{Items: []Item{{ID: 1, Name: "A", Price: 1}, {ID: 5, Name: "B", Price: 2}}}
			item := r.AddItem("C", 3)
			Expect(item.ID).To(Equal(6))
			Expect(r.Subtotal).To(Equal(6.0))
		})

		It("starts at 1 on an empty receipt", func() {
			r := &Receipt{}
			Expect(r.AddItem("A", 1).ID).To(Equal(1))
		})
	})

	Describe("EditItem", func() {
		It("treats id zero and negative ids as not found", func() {
			r := &Receipt{Items: []Item{{ID: 1, Name: "A", Price: 1}}}
			Expect(r.EditItem(0, ItemPatch{})).To(MatchError(ErrItemNotFound))
			Expect(r.EditItem(-1, ItemPatch{})).To(MatchError(ErrItemNotFound))
		})
	})

	Describe("recompute", func() {
		It("keeps total equal to subtotal plus tax plus tip", func() {
			r := &Receipt{Items: []Item{{ID: 1, Name: "A", Price: 10}, {ID: 2, Name: "Discount", Price: -2}}}
			r.SetTax(1.5)
			r.SetTip(3)
			Expect(r.Subtotal).To(Equal(8.0))
			Expect(r.Total).To(Equal(12.5))
		})
	})
})
