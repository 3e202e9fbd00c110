package domain

// AccountActivation records that Parent funded the creation of Child.
// Corresponds to account_activations table in PostgreSQL.
type AccountActivation struct {
	Parent    string
	Child     string
	TxHash    string // activating transaction
	Timestamp int64  // unix seconds
}
