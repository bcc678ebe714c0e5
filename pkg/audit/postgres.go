package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS rampart_decisions (
	decision_id  TEXT PRIMARY KEY,
	action_id    TEXT NOT NULL DEFAULT '',
	ts           TIMESTAMPTZ NOT NULL,
	agent_id     TEXT NOT NULL,
	session_id   TEXT NOT NULL DEFAULT '',
	action_type  TEXT NOT NULL,
	tool         TEXT NOT NULL DEFAULT '',
	target       TEXT NOT NULL DEFAULT '',
	verdict      TEXT NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	rule_id      TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	ticket_id    TEXT NOT NULL DEFAULT '',
	violation_id TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT '',
	degraded     TEXT[] NOT NULL DEFAULT '{}',
	elapsed_ms   BIGINT NOT NULL DEFAULT 0,
	outcome      TEXT NOT NULL DEFAULT '',
	outcome_note TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS rampart_decisions_agent_ts
	ON rampart_decisions (agent_id, ts DESC);
CREATE INDEX IF NOT EXISTS rampart_decisions_action
	ON rampart_decisions (action_id);
`

// Postgres stores decisions in a table, one row per decision, with the
// outcome report folded into the same row when it arrives.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, verifies reachability, and ensures the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) RecordDecision(ctx context.Context, e Entry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO rampart_decisions
			(decision_id, action_id, ts, agent_id, session_id, action_type, tool,
			 target, verdict, score, rule_id, reason, ticket_id, violation_id,
			 category, degraded, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			 $15, $16, $17)`,
		e.DecisionID, e.ActionID, e.Timestamp, e.AgentID, e.SessionID,
		e.ActionType, e.Tool, e.Target, e.Verdict, e.Score, e.RuleID, e.Reason,
		e.TicketID, e.ViolationID, e.Category, e.Degraded, e.Elapsed)
	if err != nil {
		return fmt.Errorf("audit: insert decision: %w", err)
	}
	return nil
}

func (p *Postgres) RecordOutcome(ctx context.Context, decisionID, outcome, detail string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE rampart_decisions SET outcome = $2, outcome_note = $3
		WHERE decision_id = $1`,
		decisionID, outcome, detail)
	if err != nil {
		return fmt.Errorf("audit: update outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit: decision %s not found", decisionID)
	}
	return nil
}

// RecentByAgent returns the newest decisions for one agent, newest first.
func (p *Postgres) RecentByAgent(ctx context.Context, agentID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT decision_id, action_id, ts, agent_id, session_id, action_type,
		       tool, target, verdict, score, rule_id, reason, ticket_id,
		       violation_id, category, degraded, elapsed_ms
		FROM rampart_decisions
		WHERE agent_id = $1
		ORDER BY ts DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.DecisionID, &e.ActionID, &e.Timestamp, &e.AgentID,
			&e.SessionID, &e.ActionType, &e.Tool, &e.Target, &e.Verdict, &e.Score,
			&e.RuleID, &e.Reason, &e.TicketID, &e.ViolationID, &e.Category,
			&e.Degraded, &e.Elapsed); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
