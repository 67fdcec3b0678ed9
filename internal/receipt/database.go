package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"
)

var receiptsBucket = []byte("receipts")

// DB defines the interface for receipt persistence.
type DB interface {
	SaveReceipt(receipt *Receipt) error
	GetReceipt(id string) (*Receipt, error)
	ListReceipts(ownerID string) ([]*Receipt, error)
	DeleteReceipt(id string) error
	Close() error
}

// BoltDB implements DB using bbolt. Receipts are stored as JSON documents
// keyed by receipt id.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database file at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(receiptsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReceipt writes the receipt, overwriting any existing record with the
// same id.
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return tx.Bucket(receiptsBucket).Put([]byte(receipt.ID), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// GetReceipt loads a receipt by id.
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(receiptsBucket).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &receipt)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts belonging to the given owner, newest
// first.
func (b *BoltDB) ListReceipts(ownerID string) ([]*Receipt, error) {
	var receipts []*Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(receiptsBucket).ForEach(func(_, data []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(data, &receipt); err != nil {
				return err
			}
			if receipt.OwnerID == ownerID {
				receipts = append(receipts, &receipt)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt by id. Deleting a missing id is not an
// error at this layer.
func (b *BoltDB) DeleteReceipt(id string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(receiptsBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Close closes the underlying database file.
func (b *BoltDB) Close() error {
	return b.db.Close()
}
