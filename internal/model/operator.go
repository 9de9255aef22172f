package model

import "time"

// Operator is one entry of the merchant/operator directory. The directory is
// owned by a separate data collaborator; the pipeline only reads it to resolve
// free-text operator names to a canonical application label and a P2P flag.
type Operator struct {
	CreatedAt     time.Time
	CanonicalName string
	AppName       string
	Synonyms      []string
	ID            int64
	IsP2P         bool
}
