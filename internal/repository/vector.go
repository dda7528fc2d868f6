package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const (
	IndexHNSW    = "hnsw"
	IndexIVFFlat = "ivfflat"

	MetricCosine       = "cosine"
	MetricInnerProduct = "ip"

	// tieMargin extra rows are read past the limit so RankMatches, not the
	// index scan, picks between equal scores at the cut.
	tieMargin = 16
)

// VectorStore keeps one embedding per dataset_data row in dataset_vectors.
// The table dimension is fixed by configuration; EnsureSchema creates it.
type VectorStore struct {
	db        dbtx
	cfg       config.VectorConfig
	precision domain.Precision
}

func NewVectorStore(pool *pgxpool.Pool, cfg config.VectorConfig) *VectorStore {
	return newVectorStore(pool, cfg)
}

func NewVectorStoreWithTx(tx pgx.Tx, cfg config.VectorConfig) *VectorStore {
	return newVectorStore(tx, cfg)
}

func newVectorStore(db dbtx, cfg config.VectorConfig) *VectorStore {
	precision, err := domain.ParsePrecision(cfg.Precision)
	if err != nil {
		precision = domain.PrecisionFull
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.Index == "" {
		cfg.Index = IndexHNSW
	}
	return &VectorStore{db: db, cfg: cfg, precision: precision}
}

func (s *VectorStore) Dimensions() int {
	return s.cfg.Dimensions
}

func (s *VectorStore) column() string {
	if s.precision == domain.PrecisionHalf {
		return "embedding_half"
	}
	return "embedding"
}

func (s *VectorStore) opClass() string {
	prefix := "vector"
	if s.precision == domain.PrecisionHalf {
		prefix = "halfvec"
	}
	if s.cfg.Metric == MetricInnerProduct {
		return prefix + "_ip_ops"
	}
	return prefix + "_cosine_ops"
}

func (s *VectorStore) operator() string {
	if s.cfg.Metric == MetricInnerProduct {
		return "<#>"
	}
	return "<=>"
}

// score turns a pgvector distance into a similarity where higher is better.
func (s *VectorStore) score(distance float64) float64 {
	if s.cfg.Metric == MetricInnerProduct {
		return -distance
	}
	return 1 - distance
}

func (s *VectorStore) param(v []float32) any {
	if s.precision == domain.PrecisionHalf {
		return pgvector.NewHalfVector(v)
	}
	return pgvector.NewVector(v)
}

// EnsureSchema creates the vector table and its ANN index when missing and
// rejects an existing table built for another dimension.
func (s *VectorStore) EnsureSchema(ctx context.Context) error {
	dims := s.cfg.Dimensions
	if dims <= 0 {
		return fmt.Errorf("vector dimension must be positive, got %d", dims)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS dataset_vectors (
			id BIGSERIAL PRIMARY KEY,
			team_id TEXT NOT NULL,
			dataset_id UUID NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			collection_id TEXT NOT NULL,
			data_id UUID NOT NULL UNIQUE REFERENCES dataset_data(id) ON DELETE CASCADE,
			model TEXT NOT NULL,
			embedding vector(%d),
			embedding_half halfvec(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT dataset_vectors_has_embedding CHECK (embedding IS NOT NULL OR embedding_half IS NOT NULL)
		)`, dims, dims),
		`CREATE INDEX IF NOT EXISTS idx_dataset_vectors_collection ON dataset_vectors(dataset_id, collection_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare vector schema: %w", err)
		}
	}

	var existing int
	err := s.db.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'dataset_vectors'::regclass AND attname = 'embedding'`,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to inspect vector table: %w", err)
	}
	if existing != dims {
		return domain.Wrap(domain.ErrDimensionMismatch, fmt.Errorf("dataset_vectors holds %d dimensions, configured %d", existing, dims))
	}

	if _, err := s.db.Exec(ctx, s.indexDDL()); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

func (s *VectorStore) indexDDL() string {
	name := fmt.Sprintf("idx_dataset_vectors_%s_%s_%s", s.column(), s.cfg.Index, s.cfg.Metric)
	if s.cfg.Index == IndexIVFFlat {
		lists := s.cfg.IVFFlatLists
		if lists <= 0 {
			lists = 100
		}
		return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON dataset_vectors USING ivfflat (%s %s) WITH (lists = %d)`,
			name, s.column(), s.opClass(), lists)
	}
	m, ef := s.cfg.HNSWM, s.cfg.HNSWEfConstruction
	if m <= 0 {
		m = 32
	}
	if ef <= 0 {
		ef = 128
	}
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON dataset_vectors USING hnsw (%s %s) WITH (m = %d, ef_construction = %d)`,
		name, s.column(), s.opClass(), m, ef)
}

// Insert stores the vector of a data row, replacing the previous one. A
// replaced row keeps its id so ties keep their insertion order.
func (s *VectorStore) Insert(ctx context.Context, rec *domain.VectorRecord) error {
	vec := rec.Vector()
	if len(vec) != s.cfg.Dimensions {
		return domain.Wrap(domain.ErrDimensionMismatch, fmt.Errorf("got %d dimensions, expected %d", len(vec), s.cfg.Dimensions))
	}

	var full, half any
	if s.precision == domain.PrecisionHalf {
		half = pgvector.NewHalfVector(vec)
	} else {
		full = pgvector.NewVector(vec)
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO dataset_vectors (team_id, dataset_id, collection_id, data_id, model, embedding, embedding_half)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (data_id) DO UPDATE
		 SET collection_id = EXCLUDED.collection_id,
		     model = EXCLUDED.model,
		     embedding = EXCLUDED.embedding,
		     embedding_half = EXCLUDED.embedding_half,
		     updated_at = now()
		 RETURNING id, created_at`,
		rec.TeamID, rec.DatasetID, rec.CollectionID, rec.DataID, rec.Model, full, half,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrDatasetDataNotFound
		}
		return classifyDBError(err)
	}
	return nil
}

// GetByDataID reads back the stored vector of a data row.
func (s *VectorStore) GetByDataID(ctx context.Context, dataID string) (*domain.VectorRecord, error) {
	var rec domain.VectorRecord
	var full *pgvector.Vector
	var half *pgvector.HalfVector
	err := s.db.QueryRow(ctx,
		`SELECT id, team_id, dataset_id, collection_id, data_id, model, embedding, embedding_half, created_at
		 FROM dataset_vectors WHERE data_id = $1`,
		dataID,
	).Scan(&rec.ID, &rec.TeamID, &rec.DatasetID, &rec.CollectionID, &rec.DataID, &rec.Model, &full, &half, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDatasetDataNotFound
		}
		return nil, err
	}
	if full != nil {
		rec.Embedding = full.Slice()
	}
	if half != nil {
		rec.HalfEmbedding = half.Slice()
	}
	return &rec, nil
}

// Delete removes the vectors selected by d and returns how many went.
func (s *VectorStore) Delete(ctx context.Context, d domain.VectorDelete) (int64, error) {
	if d.Empty() {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx,
		`DELETE FROM dataset_vectors
		 WHERE dataset_id = $1
		   AND (data_id = ANY($2::text[]::uuid[]) OR collection_id = ANY($3::text[]))`,
		d.DatasetID, d.DataIDs, d.CollectionIDs,
	)
	if err != nil {
		return 0, classifyDBError(err)
	}
	return tag.RowsAffected(), nil
}

// Query returns the nearest rows of the given datasets whose score reaches the
// threshold, best first. Equal scores are ordered by insertion.
func (s *VectorStore) Query(ctx context.Context, q domain.VectorQuery) ([]*domain.VectorMatch, error) {
	if len(q.Vector) != s.cfg.Dimensions {
		return nil, domain.Wrap(domain.ErrDimensionMismatch, fmt.Errorf("query has %d dimensions, expected %d", len(q.Vector), s.cfg.Dimensions))
	}
	if len(q.DatasetIDs) == 0 || q.Limit <= 0 {
		return []*domain.VectorMatch{}, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	probes := q.ProbeCount
	if probes <= 0 {
		probes = s.cfg.Probes
	}
	if probes > 0 {
		setting := "hnsw.ef_search"
		if s.cfg.Index == IndexIVFFlat {
			setting = "ivfflat.probes"
		}
		if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, setting, strconv.Itoa(probes)); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", setting, err)
		}
	}

	col := "v." + s.column()
	args := []any{s.param(q.Vector), q.DatasetIDs, q.Limit + tieMargin}
	var filter strings.Builder
	if len(q.CollectionIDs) > 0 {
		args = append(args, q.CollectionIDs)
		fmt.Fprintf(&filter, " AND v.collection_id = ANY($%d::text[])", len(args))
	}

	sql := fmt.Sprintf(
		`SELECT v.id, v.dataset_id, v.collection_id, v.data_id, dd.q, dd.a, dd.source, dd.chunk_index,
		        %[1]s %[2]s $1 AS distance
		 FROM dataset_vectors v
		 JOIN dataset_data dd ON dd.id = v.data_id
		 JOIN datasets ds ON ds.id = v.dataset_id
		 WHERE v.dataset_id = ANY($2::text[]::uuid[])
		   AND %[1]s IS NOT NULL
		   AND NOT dd.rebuilding
		   AND v.model = ds.vector_model%[3]s
		 ORDER BY %[1]s %[2]s $1
		 LIMIT $3`,
		col, s.operator(), filter.String(),
	)

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	matches := []*domain.VectorMatch{}
	for rows.Next() {
		var m domain.VectorMatch
		var distance float64
		if err := rows.Scan(&m.VectorID, &m.DatasetID, &m.CollectionID, &m.DataID, &m.Q, &m.A, &m.Source, &m.ChunkIndex, &distance); err != nil {
			return nil, err
		}
		m.Score = s.score(distance)
		matches = append(matches, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return domain.RankMatches(matches, q.Threshold, q.Limit), nil
}

func (s *VectorStore) CountByDataset(ctx context.Context, datasetID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM dataset_vectors WHERE dataset_id = $1`, datasetID).Scan(&n)
	return n, err
}

// RebuildColumn moves the vectors of a dataset into the column of the target
// precision, batch rows per statement. Each row switches columns in a single
// update so it always holds exactly one embedding. It returns the rows moved.
func (s *VectorStore) RebuildColumn(ctx context.Context, datasetID string, target domain.Precision, batch int) (int, error) {
	if batch <= 0 {
		batch = 500
	}

	var from, set string
	switch target {
	case domain.PrecisionHalf:
		from = "embedding"
		set = fmt.Sprintf("embedding_half = v.embedding::halfvec(%d), embedding = NULL", s.cfg.Dimensions)
	case domain.PrecisionFull:
		from = "embedding_half"
		set = fmt.Sprintf("embedding = v.embedding_half::vector(%d), embedding_half = NULL", s.cfg.Dimensions)
	default:
		return 0, fmt.Errorf("unknown vector precision: %s", target)
	}

	sql := fmt.Sprintf(
		`WITH batch AS (
			 SELECT id FROM dataset_vectors
			 WHERE dataset_id = $1 AND %[1]s IS NOT NULL
			 ORDER BY id
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE dataset_vectors v
		 SET %[2]s, updated_at = now()
		 FROM batch
		 WHERE v.id = batch.id`,
		from, set,
	)

	moved := 0
	for {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		tag, err := s.db.Exec(ctx, sql, datasetID, batch)
		if err != nil {
			return moved, fmt.Errorf("failed to move vectors: %w", err)
		}
		n := int(tag.RowsAffected())
		if n == 0 {
			return moved, nil
		}
		moved += n
	}
}
