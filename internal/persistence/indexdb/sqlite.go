// Package indexdb keeps a queryable SQLite read-model of simulation runs. The round
// log stays the source of truth; the index may drop writes when it falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"followme.ai/internal/protocol"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRun   atomic.Uint64
	dropRound atomic.Uint64
	dropDone  atomic.Uint64
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqRound
	reqDone
)

type req struct {
	kind reqKind

	run   protocol.RunHeader
	round protocol.RoundMsg
	done  protocol.DoneMsg
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int

	DropRunTotal   uint64
	DropRoundTotal uint64
	DropDoneTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Large buffer: agent sample rows scale with swarm size times rounds.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("empty db path")
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
	return db, nil
}

func initPragmas(db *sql.DB) error {
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
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			seed INTEGER NOT NULL,
			swarm_size INTEGER NOT NULL,
			instruction_ms INTEGER NOT NULL,
			sim_ms INTEGER NOT NULL,
			error_policy TEXT NOT NULL,
			scenario_name TEXT,
			scenario_digest TEXT NOT NULL,
			scenario_json TEXT,
			rounds INTEGER,
			swarm_done INTEGER,
			reason TEXT,
			final_digest TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			sim_time_ms INTEGER NOT NULL,
			digest TEXT NOT NULL,
			terminated INTEGER NOT NULL,
			signaling INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			PRIMARY KEY (run_id, round)
		);`,
		`CREATE TABLE IF NOT EXISTS agent_samples (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			agent_id INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			heading REAL NOT NULL,
			speed REAL NOT NULL,
			signals TEXT NOT NULL,
			region TEXT,
			terminated INTEGER NOT NULL,
			PRIMARY KEY (run_id, round, agent_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_agent ON agent_samples(run_id, agent_id, round);`,
		`CREATE TABLE IF NOT EXISTS faults (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			agent_id INTEGER NOT NULL,
			code TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY (run_id, round, agent_id)
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

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		switch r.kind {
		case reqRun:
			s.dropRun.Add(1)
		case reqRound:
			s.dropRound.Add(1)
		case reqDone:
			s.dropDone.Add(1)
		}
	}
}

func (s *SQLiteIndex) Begin(h protocol.RunHeader) error {
	s.enqueue(req{kind: reqRun, run: h})
	return nil
}

func (s *SQLiteIndex) Round(m protocol.RoundMsg) error {
	s.enqueue(req{kind: reqRound, round: m})
	return nil
}

func (s *SQLiteIndex) End(d protocol.DoneMsg) error {
	s.enqueue(req{kind: reqDone, done: d})
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropRunTotal:   s.dropRun.Load(),
		DropRoundTotal: s.dropRound.Load(),
		DropDoneTotal:  s.dropDone.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,started_at,seed,swarm_size,instruction_ms,sim_ms,error_policy,scenario_name,scenario_digest,scenario_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertRound, _ := s.db.Prepare(`INSERT OR REPLACE INTO rounds(run_id,round,sim_time_ms,digest,terminated,signaling,errors) VALUES(?,?,?,?,?,?,?)`)
	insertSample, _ := s.db.Prepare(`INSERT OR REPLACE INTO agent_samples(run_id,round,agent_id,x,y,heading,speed,signals,region,terminated) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertFault, _ := s.db.Prepare(`INSERT OR REPLACE INTO faults(run_id,round,agent_id,code,message) VALUES(?,?,?,?,?)`)
	finishRun, _ := s.db.Prepare(`UPDATE runs SET rounds=?, swarm_done=?, reason=?, final_digest=? WHERE run_id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, insertRound, insertSample, insertFault, finishRun} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
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
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			h := r.run
			exec(insertRun, h.RunID, h.StartedAt, h.Seed, h.SwarmSize, h.InstructionMs, h.SimMs,
				h.ErrorPolicy, h.ScenarioName, h.ScenarioDigest, string(h.Scenario))
			// The run row must exist before its rounds reference it in queries.
			commit()

		case reqRound:
			m := r.round
			var terminated, signaling int
			for _, a := range m.Agents {
				if a.Terminated {
					terminated++
				}
				if len(a.Signals) > 0 {
					signaling++
				}
			}
			if !exec(insertRound, m.RunID, int64(m.Round), m.SimTimeMs, m.Digest, terminated, signaling, len(m.Errors)) {
				continue
			}
			for _, a := range m.Agents {
				sig, _ := json.Marshal(a.Signals)
				if !exec(insertSample, m.RunID, int64(m.Round), a.ID, a.Pos[0], a.Pos[1], a.Heading, a.Speed,
					string(sig), a.Region, a.Terminated) {
					break
				}
			}
			for _, f := range m.Errors {
				if !exec(insertFault, m.RunID, int64(m.Round), f.AgentID, f.Code, f.Message) {
					break
				}
			}

		case reqDone:
			d := r.done
			exec(finishRun, int64(d.Rounds), d.SwarmDone, d.Reason, d.Digest, d.RunID)
			commit()
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

// RunRow is one row of the runs table.
type RunRow struct {
	RunID          string
	StartedAt      string
	Seed           int64
	SwarmSize      int
	ScenarioName   string
	ScenarioDigest string
	Rounds         int64
	SwarmDone      bool
	Reason         string
	FinalDigest    string
}

// Reader queries an index written by SQLiteIndex.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

func (r *Reader) Runs(ctx context.Context) ([]RunRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, started_at, seed, swarm_size,
		COALESCE(scenario_name,''), scenario_digest, COALESCE(rounds,0), COALESCE(swarm_done,0),
		COALESCE(reason,''), COALESCE(final_digest,'')
		FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var rr RunRow
		if err := rows.Scan(&rr.RunID, &rr.StartedAt, &rr.Seed, &rr.SwarmSize, &rr.ScenarioName,
			&rr.ScenarioDigest, &rr.Rounds, &rr.SwarmDone, &rr.Reason, &rr.FinalDigest); err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// RoundDigests returns the recorded digest of every indexed round of runID, keyed by round.
func (r *Reader) RoundDigests(ctx context.Context, runID string) (map[uint64]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT round, digest FROM rounds WHERE run_id=? ORDER BY round`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[uint64]string{}
	for rows.Next() {
		var (
			round  int64
			digest string
		)
		if err := rows.Scan(&round, &digest); err != nil {
			return nil, err
		}
		out[uint64(round)] = digest
	}
	return out, rows.Err()
}

// Sample is one agent's recorded position in one round.
type Sample struct {
	Round      uint64
	X, Y       float64
	Heading    float64
	Speed      float64
	Signals    []string
	Region     string
	Terminated bool
}

// Trajectory returns the samples of one agent in round order.
func (r *Reader) Trajectory(ctx context.Context, runID string, agentID int) ([]Sample, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT round, x, y, heading, speed, signals, COALESCE(region,''), terminated
		FROM agent_samples WHERE run_id=? AND agent_id=? ORDER BY round`, runID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sample
	for rows.Next() {
		var (
			sm    Sample
			round int64
			sig   string
		)
		if err := rows.Scan(&round, &sm.X, &sm.Y, &sm.Heading, &sm.Speed, &sig, &sm.Region, &sm.Terminated); err != nil {
			return nil, err
		}
		sm.Round = uint64(round)
		if err := json.Unmarshal([]byte(sig), &sm.Signals); err != nil {
			return nil, fmt.Errorf("agent_samples.signals: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// FaultCodes counts recorded execution errors of runID by code.
func (r *Reader) FaultCodes(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, COUNT(*) FROM faults WHERE run_id=? GROUP BY code`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			code string
			n    int
		)
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		out[code] = n
	}
	return out, rows.Err()
}
