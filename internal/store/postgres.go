package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakelotto/lotto-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All amounts are BIGINT smallest units; ticket ranges and payout legs are
// JSONB. Schema lives in cmd/migrator/migrations and is applied by the
// migrator binary.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (round_id, state, total_staked, balance, fee_bps, ticket_price, next_ticket_index, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		int64(p.RoundID), p.State, p.TotalStaked, p.Balance,
		p.FeeBps, p.TicketPrice, int64(p.NextTicketIndex), p.CreatedAt,
	)
	return err
}

const poolColumns = `round_id, state, total_staked, balance, fee_bps, ticket_price, next_ticket_index, created_at`

func scanPool(row pgx.Row) (*model.Pool, error) {
	var p model.Pool
	var roundID, cursor int64
	err := row.Scan(&roundID, &p.State, &p.TotalStaked, &p.Balance,
		&p.FeeBps, &p.TicketPrice, &cursor, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.RoundID = uint64(roundID)
	p.NextTicketIndex = uint64(cursor)
	return &p, nil
}

func (s *PostgresStore) GetPool(ctx context.Context, roundID uint64) (*model.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE round_id = $1`, int64(roundID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: round %d", model.ErrNotFound, roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %d: %w", roundID, err)
	}
	return p, nil
}

func (s *PostgresStore) CurrentPool(ctx context.Context) (*model.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools ORDER BY round_id DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no current round", model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get current pool: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) SetPoolState(ctx context.Context, roundID uint64, state string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pools SET state = $2 WHERE round_id = $1`, int64(roundID), state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: round %d", model.ErrNotFound, roundID)
	}
	return nil
}

func (s *PostgresStore) CommitDeposit(ctx context.Context, p *model.Pool, part *model.Participant) error {
	ranges, err := json.Marshal(part.Ranges)
	if err != nil {
		return fmt.Errorf("marshal ticket ranges: %w", err)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE pools
			 SET total_staked = $2, balance = $3, next_ticket_index = $4
			 WHERE round_id = $1`,
			int64(p.RoundID), p.TotalStaked, p.Balance, int64(p.NextTicketIndex),
		)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO participants (round_id, identity, deposited, ranges, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (round_id, identity)
			 DO UPDATE SET deposited = EXCLUDED.deposited, ranges = EXCLUDED.ranges`,
			int64(part.RoundID), part.Identity, part.Deposited, ranges, part.CreatedAt,
		)
		return err
	})
}

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	var roundID int64
	var ranges []byte
	err := row.Scan(&roundID, &p.Identity, &p.Deposited, &ranges, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.RoundID = uint64(roundID)
	if err := json.Unmarshal(ranges, &p.Ranges); err != nil {
		return nil, fmt.Errorf("unmarshal ticket ranges: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, roundID uint64, identity string) (*model.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT round_id, identity, deposited, ranges, created_at
		 FROM participants WHERE round_id = $1 AND identity = $2`,
		int64(roundID), identity))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: participant %s in round %d", model.ErrNotFound, identity, roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, roundID uint64) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT round_id, identity, deposited, ranges, created_at
		 FROM participants WHERE round_id = $1 ORDER BY created_at, identity`,
		int64(roundID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

func (s *PostgresStore) InsertDrawResult(ctx context.Context, d *model.DrawResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO draws (round_id, seed, winning_ticket, winner_identity, rollover, drawn_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(d.RoundID), d.Seed, int64(d.WinningTicket), d.WinnerIdentity, d.Rollover, d.DrawnAt,
	)
	return err
}

func scanDraw(row pgx.Row) (*model.DrawResult, error) {
	var d model.DrawResult
	var roundID, ticket int64
	err := row.Scan(&roundID, &d.Seed, &ticket, &d.WinnerIdentity, &d.Rollover, &d.DrawnAt)
	if err != nil {
		return nil, err
	}
	d.RoundID = uint64(roundID)
	d.WinningTicket = uint64(ticket)
	return &d, nil
}

func (s *PostgresStore) GetDrawResult(ctx context.Context, roundID uint64) (*model.DrawResult, error) {
	d, err := scanDraw(s.pool.QueryRow(ctx,
		`SELECT round_id, seed, winning_ticket, winner_identity, rollover, drawn_at
		 FROM draws WHERE round_id = $1`, int64(roundID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: draw for round %d", model.ErrNotFound, roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("get draw %d: %w", roundID, err)
	}
	return d, nil
}

func (s *PostgresStore) ListDrawResults(ctx context.Context) ([]model.DrawResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT round_id, seed, winning_ticket, winner_identity, rollover, drawn_at
		 FROM draws ORDER BY round_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var draws []model.DrawResult
	for rows.Next() {
		d, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		draws = append(draws, *d)
	}
	return draws, rows.Err()
}

func (s *PostgresStore) GetPayoutRecord(ctx context.Context, roundID uint64) (*model.PayoutRecord, error) {
	var rec model.PayoutRecord
	var rid int64
	var legs []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, round_id, amount_to_winner, amount_fee, destinations, settled_at
		 FROM payouts WHERE round_id = $1`, int64(roundID)).
		Scan(&rec.ID, &rid, &rec.AmountToWinner, &rec.AmountFee, &legs, &rec.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: payout for round %d", model.ErrNotFound, roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("get payout %d: %w", roundID, err)
	}
	rec.RoundID = uint64(rid)
	if err := json.Unmarshal(legs, &rec.Destinations); err != nil {
		return nil, fmt.Errorf("unmarshal payout legs: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) CommitSettlement(ctx context.Context, settled *model.Pool, rec *model.PayoutRecord, next *model.Pool) error {
	legs, err := json.Marshal(rec.Destinations)
	if err != nil {
		return fmt.Errorf("marshal payout legs: %w", err)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO payouts (id, round_id, amount_to_winner, amount_fee, destinations, settled_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.ID, int64(rec.RoundID), rec.AmountToWinner, rec.AmountFee, legs, rec.SettledAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: round %d", model.ErrAlreadySettled, rec.RoundID)
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE pools SET state = $2, balance = $3 WHERE round_id = $1`,
			int64(settled.RoundID), settled.State, settled.Balance,
		)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO pools (round_id, state, total_staked, balance, fee_bps, ticket_price, next_ticket_index, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			int64(next.RoundID), next.State, next.TotalStaked, next.Balance,
			next.FeeBps, next.TicketPrice, int64(next.NextTicketIndex), next.CreatedAt,
		)
		return err
	})
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback after %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505), used to surface idempotency guards.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
