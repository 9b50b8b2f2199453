package domain

// ChainBlock is a block as reported by the chain client, before any of it
// is persisted.
type ChainBlock struct {
	Hash         string
	ParentHash   string
	Number       int64
	Timestamp    int64 // unix seconds
	Transactions []ChainTransaction
}

// ChainTransaction is the part of a transaction the indexer needs before
// receipts are fetched.
type ChainTransaction struct {
	Hash  string
	To    string // recipient contract address, may be empty for deploys
	Index int    // position within the block
}

// Receipt is the execution outcome of a transaction.
type Receipt struct {
	TxHash  string
	TxIndex int
	Status  int64
	To      string
	Logs    []Log
}

// Log is a single event log entry from a receipt.
type Log struct {
	Address string
	Topics  []string
	Data    string
}
