package pool

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"tranchepool/storage"
)

var (
	metaKey     = []byte("pool/meta")
	ladderKey   = []byte("pool/ladder")
	receiptsKey = []byte("pool/receipts")
)

type metaRecord struct {
	Nonce       uint64
	Timestamp   uint64
	GracePeriod uint64
}

type holderRecord struct {
	Account common.Address
	Shares  *big.Int
}

type redemptionStoreRecord struct {
	Account         common.Address
	SharesRemaining *big.Int
	SharesSettled   *big.Int
	Price           *big.Int
	Settled         *big.Int
	Ticket          uint64
}

type trancheRecord struct {
	Depth         *big.Int
	Shares        *big.Int
	Available     *big.Int
	Used          *big.Int
	PendingShares *big.Int
	NextTicket    uint64
	Holders       []holderRecord
	Redemptions   []redemptionStoreRecord
}

type receiptRecord struct {
	Hash   common.Hash
	Status uint8
}

// Initialize writes the pool's current (typically empty) state as the first
// snapshot. It fails ErrAlreadyInitialized when the database already holds
// pool state, so a misconfigured data directory cannot silently be wiped.
func (p *Pool) Initialize(db storage.Database) error {
	ok, err := db.Has(metaKey)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}
	return p.Persist(db)
}

// Persist snapshots the full pool state: ladder, redemption queues, receipt
// registry and the origination counters. Holder maps are sorted by address so
// the encoding is deterministic.
func (p *Pool) Persist(db storage.Database) error {
	meta, err := rlp.EncodeToBytes(metaRecord{Nonce: p.nonce, Timestamp: p.timestamp, GracePeriod: p.gracePeriod})
	if err != nil {
		return err
	}

	tranches := make([]trancheRecord, 0, len(p.ledger.tranches))
	for _, t := range p.ledger.tranches {
		record := trancheRecord{
			Depth:         t.Depth,
			Shares:        t.Shares,
			Available:     t.Available,
			Used:          t.Used,
			PendingShares: t.PendingShares,
			NextTicket:    t.nextTicket,
		}
		for account, shares := range t.holders {
			record.Holders = append(record.Holders, holderRecord{Account: account, Shares: shares})
		}
		sort.Slice(record.Holders, func(i, j int) bool {
			return bytes.Compare(record.Holders[i].Account[:], record.Holders[j].Account[:]) < 0
		})
		for _, r := range t.redemptions {
			record.Redemptions = append(record.Redemptions, redemptionStoreRecord{
				Account:         r.Account,
				SharesRemaining: r.SharesRemaining,
				SharesSettled:   r.SharesSettled,
				Price:           r.Price,
				Settled:         r.Settled,
				Ticket:          r.Ticket,
			})
		}
		tranches = append(tranches, record)
	}
	ladder, err := rlp.EncodeToBytes(tranches)
	if err != nil {
		return err
	}

	receipts := make([]receiptRecord, 0, len(p.receipts))
	for hash, status := range p.receipts {
		receipts = append(receipts, receiptRecord{Hash: hash, Status: uint8(status)})
	}
	sort.Slice(receipts, func(i, j int) bool {
		return bytes.Compare(receipts[i].Hash[:], receipts[j].Hash[:]) < 0
	})
	registry, err := rlp.EncodeToBytes(receipts)
	if err != nil {
		return err
	}

	if err := db.Put(metaKey, meta); err != nil {
		return err
	}
	if err := db.Put(ladderKey, ladder); err != nil {
		return err
	}
	return db.Put(receiptsKey, registry)
}

// Restore rebuilds the pool state from the last snapshot, replacing the
// in-memory ladder and registry. It returns storage.ErrKeyNotFound when the
// database holds no pool state.
func (p *Pool) Restore(db storage.Database) error {
	raw, err := db.Get(metaKey)
	if err != nil {
		return err
	}
	var meta metaRecord
	if err := rlp.DecodeBytes(raw, &meta); err != nil {
		return fmt.Errorf("pool: corrupt meta snapshot: %w", err)
	}

	raw, err = db.Get(ladderKey)
	if err != nil {
		return err
	}
	var tranches []trancheRecord
	if err := rlp.DecodeBytes(raw, &tranches); err != nil {
		return fmt.Errorf("pool: corrupt ladder snapshot: %w", err)
	}

	raw, err = db.Get(receiptsKey)
	if err != nil {
		return err
	}
	var receipts []receiptRecord
	if err := rlp.DecodeBytes(raw, &receipts); err != nil {
		return fmt.Errorf("pool: corrupt receipt snapshot: %w", err)
	}

	ledger := NewTrancheLedger()
	for _, record := range tranches {
		tranche := ledger.ensure(record.Depth)
		tranche.Shares = record.Shares
		tranche.Available = record.Available
		tranche.Used = record.Used
		tranche.PendingShares = record.PendingShares
		tranche.nextTicket = record.NextTicket
		for _, holder := range record.Holders {
			tranche.holders[holder.Account] = holder.Shares
		}
		for _, r := range record.Redemptions {
			tranche.redemptions = append(tranche.redemptions, &RedemptionRecord{
				Account:         r.Account,
				SharesRemaining: r.SharesRemaining,
				SharesSettled:   r.SharesSettled,
				Price:           r.Price,
				Settled:         r.Settled,
				Ticket:          r.Ticket,
			})
		}
	}
	registry := make(map[common.Hash]ReceiptStatus, len(receipts))
	for _, record := range receipts {
		registry[record.Hash] = ReceiptStatus(record.Status)
	}

	p.ledger = ledger
	p.receipts = registry
	p.nonce = meta.Nonce
	p.timestamp = meta.Timestamp
	p.gracePeriod = meta.GracePeriod
	return nil
}
