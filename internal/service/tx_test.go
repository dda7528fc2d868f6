package service

import "context"

type testTxRepos struct {
	datasets     DatasetRepositoryInterface
	datasetData  DatasetDataRepositoryInterface
	trainingJobs TrainingJobRepositoryInterface
	vectors      VectorWriter
}

func (t *testTxRepos) Datasets() DatasetRepositoryInterface {
	return t.datasets
}

func (t *testTxRepos) DatasetData() DatasetDataRepositoryInterface {
	return t.datasetData
}

func (t *testTxRepos) TrainingJobs() TrainingJobRepositoryInterface {
	return t.trainingJobs
}

func (t *testTxRepos) Vectors() VectorWriter {
	return t.vectors
}

type testTxRunner struct {
	repos  TxRepositories
	called int
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called++
	return fn(t.repos)
}
