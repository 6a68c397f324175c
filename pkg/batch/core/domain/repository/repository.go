package repository

// JobRepository persists and retrieves batch execution metadata.
// It embeds the smaller per-entity repositories.
//
// Update methods join the transaction carried by the context (see tx.WithTx) when one is
// present, so a chunk's checkpoint commits together with the chunk.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
