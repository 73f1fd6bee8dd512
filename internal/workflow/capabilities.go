package workflow

import "context"

// WalletStatus exposes the reporter's wallet connection.
type WalletStatus interface {
	IsConnected() bool
	Address() string
	// RequestConnect prompts the reporter to connect. It must not block.
	RequestConnect()
}

// SimilarityService compares the protected artwork with the submitted evidence.
type SimilarityService interface {
	Assess(ctx context.Context, artworkID string, draft Draft) (Assessment, error)
}

// DisputeBackend hands a dispute to the arbitration process.
type DisputeBackend interface {
	Submit(ctx context.Context, sub Submission) error
}

// RecapInput identifies what the recap summarizes.
type RecapInput struct {
	ArtworkID string
	Document  string
}

// RecapService produces a plain-language summary of a document.
type RecapService interface {
	Summarize(ctx context.Context, in RecapInput) (string, error)
}
