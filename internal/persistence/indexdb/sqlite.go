// Package indexdb maintains a sqlite read model over the run logs so
// inspection tooling can query by tick or agent without scanning
// JSONL and CSV files. The files on disk stay the source of truth;
// the index is rebuildable and writes are drop-on-backpressure.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"savannah.ai/internal/sim/metrics"
	"savannah.ai/internal/sim/perturb"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqMetric reqKind = iota + 1
	reqPerturbation
	reqSnapshot
)

type req struct {
	kind reqKind

	metric       metrics.Record
	perturbation perturb.Event
	snapshot     snapshotRow
}

type snapshotRow struct {
	Tick       int
	Path       string
	Seed       int64
	AgentsLive int
	FoodCount  int
	RecordedAt string
}

func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads. NORMAL is a
	// decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS metrics (
			tick INTEGER NOT NULL,
			agent TEXT NOT NULL,
			energy REAL NOT NULL,
			alive INTEGER NOT NULL,
			action TEXT NOT NULL,
			parse_failed INTEGER NOT NULL,
			uncertainty INTEGER NOT NULL,
			self_reference INTEGER NOT NULL,
			trust_language INTEGER NOT NULL,
			memory_action INTEGER NOT NULL,
			PRIMARY KEY (tick, agent)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_agent_tick ON metrics(agent, tick);`,
		`CREATE TABLE IF NOT EXISTS perturbations (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent TEXT NOT NULL,
			store TEXT NOT NULL,
			transform TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_perturbations_agent_tick ON perturbations(agent, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			agents_alive INTEGER NOT NULL,
			food_count INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteMetric(r metrics.Record) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqMetric, metric: r}:
	default:
		// Drop if the indexer falls behind; the CSV remains the source of truth.
	}
}

func (s *SQLiteIndex) WritePerturbation(e perturb.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqPerturbation, perturbation: e}:
	default:
	}
}

func (s *SQLiteIndex) RecordSnapshot(tick int, path string, seed int64, agentsAlive, foodCount int) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:       tick,
		Path:       path,
		Seed:       seed,
		AgentsLive: agentsAlive,
		FoodCount:  foodCount,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
	}
}

// SetMeta stores a run-level key/value synchronously.
func (s *SQLiteIndex) SetMeta(key, value string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, key, value)
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertMetric, _ := s.db.Prepare(`INSERT OR REPLACE INTO metrics
		(tick,agent,energy,alive,action,parse_failed,uncertainty,self_reference,trust_language,memory_action)
		VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertPerturbation, _ := s.db.Prepare(`INSERT OR REPLACE INTO perturbations
		(tick,seq,agent,store,transform,raw_json) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots
		(tick,path,seed,agents_alive,food_count,recorded_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertMetric != nil {
			_ = insertMetric.Close()
		}
		if insertPerturbation != nil {
			_ = insertPerturbation.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second

		lastPerturbTick = -1
		perturbSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqMetric:
			m := r.metric
			if insertMetric != nil {
				if _, err := tx.Stmt(insertMetric).Exec(
					m.Tick, m.AgentName, m.Energy, m.Alive, m.Action, m.ParseFailed,
					m.Uncertainty, m.SelfReference, m.TrustLanguage, m.MemoryAction,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqPerturbation:
			e := r.perturbation
			if e.Tick != lastPerturbTick {
				lastPerturbTick = e.Tick
				perturbSeq = 0
			}
			seq := perturbSeq
			perturbSeq++
			if insertPerturbation != nil {
				raw := fmt.Sprintf(`{"tick":%d,"agent":%q,"store":%q,"transform":%q}`,
					e.Tick, e.Agent, e.Store, e.Transform)
				if _, err := tx.Stmt(insertPerturbation).Exec(
					e.Tick, seq, e.Agent, e.Store, e.Transform, raw,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					sn.Tick, sn.Path, sn.Seed, sn.AgentsLive, sn.FoodCount, sn.RecordedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}

		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

// AgentPerturbationCounts returns applied perturbations per agent, for
// inspection tooling.
func (s *SQLiteIndex) AgentPerturbationCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT agent, COUNT(*) FROM perturbations GROUP BY agent`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var agent string
		var n int
		if err := rows.Scan(&agent, &n); err != nil {
			return nil, err
		}
		out[agent] = n
	}
	return out, rows.Err()
}

// MetricsFor returns the indexed measurement rows for one agent in
// tick order.
func (s *SQLiteIndex) MetricsFor(agent string) ([]metrics.Record, error) {
	rows, err := s.db.Query(`SELECT tick, agent, energy, alive, action, parse_failed,
		uncertainty, self_reference, trust_language, memory_action
		FROM metrics WHERE agent = ? ORDER BY tick`, agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []metrics.Record
	for rows.Next() {
		var m metrics.Record
		if err := rows.Scan(&m.Tick, &m.AgentName, &m.Energy, &m.Alive, &m.Action,
			&m.ParseFailed, &m.Uncertainty, &m.SelfReference, &m.TrustLanguage, &m.MemoryAction); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
