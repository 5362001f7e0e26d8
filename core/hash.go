package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// deriveAccount hashes a seed list into a stable account name.
//
// Formula: prefix + ":" + hex(SHA256(seed_0 | seed_1 | ...))
func deriveAccount(prefix string, seeds ...[]byte) Account {
	h := sha256.New()
	for i, seed := range seeds {
		if i > 0 {
			h.Write([]byte("|"))
		}
		h.Write(seed)
	}
	return Account(fmt.Sprintf("%s:%x", prefix, h.Sum(nil)))
}

func auctionSeed(auctionID uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], auctionID)
	return buf[:]
}

// VaultAccount returns the account holding the collateral of an auction.
//
// Formula: "vault:" + hex(SHA256("vault" | le_u64(auction_id)))
func VaultAccount(auctionID uint64) Account {
	return deriveAccount("vault", []byte("vault"), auctionSeed(auctionID))
}

// ComputeBidKey returns the identifier of the bid slot for (auction, bidder).
//
// Formula: hex(SHA256("bid" | le_u64(auction_id) | bidder))
func ComputeBidKey(auctionID uint64, bidder Identity) string {
	h := sha256.New()
	h.Write([]byte("bid"))
	h.Write([]byte("|"))
	h.Write(auctionSeed(auctionID))
	h.Write([]byte("|"))
	h.Write([]byte(bidder))
	return fmt.Sprintf("%x", h.Sum(nil))
}
