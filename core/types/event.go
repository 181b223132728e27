package types

// Event represents a typed record emitted after a successful state
// transition. Attributes carry the full post-mutation snapshot of the
// affected offer so off-chain indexers never need to read ledger state back.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
