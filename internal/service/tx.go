package service

import "context"

// TxRepositories are the repositories a single transaction may touch. Every
// write made through them commits or rolls back together.
type TxRepositories interface {
	Datasets() DatasetRepositoryInterface
	DatasetData() DatasetDataRepositoryInterface
	TrainingJobs() TrainingJobRepositoryInterface
	Vectors() VectorWriter
}

// TxRunner runs fn inside a transaction. Implementations may call fn more than
// once when the database aborts the transaction, so fn must not have effects
// outside the repositories it is given.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
