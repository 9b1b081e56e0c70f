// Package store persists image label manifests to ClickHouse and reads
// back label distribution reports.
//
// Inserts use the ch-go native protocol with columnar buffers. Reports use
// the clickhouse-go/v2 query API.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KI7MT/flare-lab/internal/common"
	"github.com/KI7MT/flare-lab/internal/dataset"
)

// DefaultBatchSize is the number of rows sent per INSERT.
const DefaultBatchSize = 50_000

// CreateTableSQL returns the DDL for the image label table.
func CreateTableSQL(tableFQN string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id      UUID,
    image_time  DateTime('UTC'),
    filename    String,
    label       LowCardinality(String),
    bucket      LowCardinality(String),
    catalog     String,
    inserted_at DateTime('UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(image_time)
ORDER BY (image_time, filename)`, tableFQN)
}

// InsertSQL returns the INSERT statement matching LabelBatch.Input.
func InsertSQL(tableFQN string) string {
	return fmt.Sprintf("INSERT INTO %s (run_id, image_time, filename, label, bucket, catalog, inserted_at) VALUES", tableFQN)
}

// LabelBatch holds column data for native insert.
type LabelBatch struct {
	RunID      *proto.ColUUID
	ImageTime  *proto.ColDateTime
	Filename   *proto.ColStr
	Label      *proto.ColLowCardinality[string]
	Bucket     *proto.ColLowCardinality[string]
	Catalog    *proto.ColStr
	InsertedAt *proto.ColDateTime
}

func NewLabelBatch() *LabelBatch {
	return &LabelBatch{
		RunID:      new(proto.ColUUID),
		ImageTime:  new(proto.ColDateTime),
		Filename:   new(proto.ColStr),
		Label:      proto.NewLowCardinality[string](new(proto.ColStr)),
		Bucket:     proto.NewLowCardinality[string](new(proto.ColStr)),
		Catalog:    new(proto.ColStr),
		InsertedAt: new(proto.ColDateTime),
	}
}

func (b *LabelBatch) Reset() {
	b.RunID.Reset()
	b.ImageTime.Reset()
	b.Filename.Reset()
	b.Label.Reset()
	b.Bucket.Reset()
	b.Catalog.Reset()
	b.InsertedAt.Reset()
}

func (b *LabelBatch) Len() int {
	return b.Filename.Rows()
}

func (b *LabelBatch) Input() proto.Input {
	return proto.Input{
		{Name: "run_id", Data: b.RunID},
		{Name: "image_time", Data: b.ImageTime},
		{Name: "filename", Data: b.Filename},
		{Name: "label", Data: b.Label},
		{Name: "bucket", Data: b.Bucket},
		{Name: "catalog", Data: b.Catalog},
		{Name: "inserted_at", Data: b.InsertedAt},
	}
}

// Append adds one manifest record to the batch.
func (b *LabelBatch) Append(runID uuid.UUID, catalog string, rec dataset.Record, insertedAt time.Time) {
	b.RunID.Append(runID)
	b.ImageTime.Append(rec.Time())
	b.Filename.Append(rec.Filename)
	b.Label.Append(rec.Label)
	b.Bucket.Append(rec.Bucket)
	b.Catalog.Append(catalog)
	b.InsertedAt.Append(insertedAt.UTC())
}

// Doer runs a native protocol query. *ch.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, q ch.Query) error
}

// Dial opens a native protocol connection using cfg.
func Dial(ctx context.Context, cfg *common.Config) (*ch.Client, error) {
	conn, err := ch.Dial(ctx, ch.Options{
		Address:     cfg.ClickHouseAddr(),
		Database:    cfg.ClickHouseDatabase,
		User:        cfg.ClickHouseUser,
		Password:    cfg.ClickHousePassword,
		Compression: ch.CompressionLZ4,
	})
	if err != nil {
		return nil, fmt.Errorf("ClickHouse connection failed: %w", err)
	}
	return conn, nil
}

// Writer inserts manifest records into the label table.
type Writer struct {
	Conn      Doer
	Table     string // Fully qualified, e.g. flare.image_labels
	BatchSize int    // DefaultBatchSize when < 1
	Logger    *zap.SugaredLogger
	Stats     *common.Stats
}

// EnsureTable creates the label table if it does not exist.
func (w *Writer) EnsureTable(ctx context.Context) error {
	if err := w.Conn.Do(ctx, ch.Query{Body: CreateTableSQL(w.Table)}); err != nil {
		return fmt.Errorf("create table %s: %w", w.Table, err)
	}
	return nil
}

// Truncate removes every row from the label table.
func (w *Writer) Truncate(ctx context.Context) error {
	if err := w.Conn.Do(ctx, ch.Query{Body: "TRUNCATE TABLE " + w.Table}); err != nil {
		return fmt.Errorf("truncate %s: %w", w.Table, err)
	}
	return nil
}

// Insert writes records tagged with runID and catalog in batches and
// returns the number of rows sent.
func (w *Writer) Insert(ctx context.Context, runID uuid.UUID, catalog string, records []dataset.Record) (int, error) {
	log := common.Sugar(w.Logger)

	size := w.BatchSize
	if size < 1 {
		size = DefaultBatchSize
	}

	batch := NewLabelBatch()
	now := time.Now()
	inserted := 0

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		n := batch.Len()
		if err := w.Conn.Do(ctx, ch.Query{Body: InsertSQL(w.Table), Input: batch.Input()}); err != nil {
			return fmt.Errorf("insert into %s: %w", w.Table, err)
		}
		inserted += n
		if w.Stats != nil {
			w.Stats.AddItems(uint64(n))
		}
		log.Debugw("flushed batch", "rows", n, "total", inserted)
		batch.Reset()
		return nil
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		batch.Append(runID, catalog, rec, now)
		if batch.Len() >= size {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, nil
}
