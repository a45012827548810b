// Package timescale archives decision cycles to a TimescaleDB hypertable
// through a bounded async queue so a slow database never stalls trading.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"spread-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// CycleRecord is one completed decision cycle for one market.
type CycleRecord struct {
	Time            time.Time
	Market          string
	Bid             float64
	Ask             float64
	BaseFree        float64
	AssetFree       float64
	Volatility      float64
	CorrelationRank float64
	HasSentiment    bool
	BuyAccepted     bool
	SellAccepted    bool
	BuyReason       string
	SellReason      string
	BuyPrice        float64
	BuyVolume       float64
	SellPrice       float64
	SellVolume      float64
	OpenOrders      int
}

type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	cycles  chan CycleRecord
	started atomic.Bool
	dropped atomic.Uint64
}

// New returns a nil writer when archiving is disabled; nil receivers are
// safe on every method.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		cycles: make(chan CycleRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCycle(record CycleRecord) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- record:
		return
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale cycle queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-w.cycles:
			w.writeCycle(ctx, record)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		market TEXT NOT NULL,
		bid DOUBLE PRECISION NOT NULL,
		ask DOUBLE PRECISION NOT NULL,
		base_free DOUBLE PRECISION NOT NULL,
		asset_free DOUBLE PRECISION NOT NULL,
		volatility DOUBLE PRECISION NOT NULL,
		correlation_rank DOUBLE PRECISION NOT NULL,
		has_sentiment BOOLEAN NOT NULL,
		buy_accepted BOOLEAN NOT NULL,
		sell_accepted BOOLEAN NOT NULL,
		buy_reason TEXT NOT NULL,
		sell_reason TEXT NOT NULL,
		buy_price DOUBLE PRECISION NOT NULL,
		buy_volume DOUBLE PRECISION NOT NULL,
		sell_price DOUBLE PRECISION NOT NULL,
		sell_volume DOUBLE PRECISION NOT NULL,
		open_orders INTEGER NOT NULL
	)`, w.table("decision_cycles"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("decision_cycles"))); err != nil && w.log != nil {
		w.log.Warn("timescale decision_cycles hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeCycle(ctx context.Context, record CycleRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, market, bid, ask, base_free, asset_free, volatility, correlation_rank,
		has_sentiment, buy_accepted, sell_accepted, buy_reason, sell_reason,
		buy_price, buy_volume, sell_price, sell_volume, open_orders
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
	)`, w.table("decision_cycles"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Time,
		record.Market,
		record.Bid,
		record.Ask,
		record.BaseFree,
		record.AssetFree,
		record.Volatility,
		record.CorrelationRank,
		record.HasSentiment,
		record.BuyAccepted,
		record.SellAccepted,
		record.BuyReason,
		record.SellReason,
		record.BuyPrice,
		record.BuyVolume,
		record.SellPrice,
		record.SellVolume,
		record.OpenOrders,
	); err != nil && w.log != nil {
		w.log.Warn("timescale cycle insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
