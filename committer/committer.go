package committer

// Committer decides when a chain's pending batch should be made durable
type Committer interface {
	// C signals that the pending batch should be committed
	C() chan struct{}
	RecordProcessed(count int)
	// Committed resets the trigger after a commit made outside of C, such as a drain
	Committed()
	Close()
}
