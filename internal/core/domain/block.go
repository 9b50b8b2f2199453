package domain

// Chain start sentinels. The network reports the parent of its first real
// block as the zero hash; the blocks table stores that origin under the
// short config form.
const (
	ZeroParentHash  = "0x0000000000000000000000000000000000000000000000000000000000000000"
	OriginBlockHash = "0x0"
)

// Block is one row of the persisted block chain. Exactly one row is marked
// current at any time; it is the canonical tip known to this mirror.
type Block struct {
	Hash       string
	Number     *int64 // nil for the synthetic origin row
	ParentHash string
	IsCurrent  bool
}

// NumberOrZero returns the block number, treating the origin row as 0.
func (b *Block) NumberOrZero() int64 {
	if b == nil || b.Number == nil {
		return 0
	}
	return *b.Number
}

// ParentOrOrigin maps the zero-hash sentinel onto the stored origin hash.
func (b *Block) ParentOrOrigin() string {
	if b.ParentHash == ZeroParentHash {
		return OriginBlockHash
	}
	return b.ParentHash
}

// Int64Ptr is a convenience for building Block literals.
func Int64Ptr(n int64) *int64 { return &n }
