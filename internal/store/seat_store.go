package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

const (
	DefaultSeatPage    = 1
	DefaultSeatPerPage = 28
)

// SeatQuery filters seats by assignment time. Zero Since or Until leaves
// that bound open; both bounds are inclusive.
type SeatQuery struct {
	Since   time.Time
	Until   time.Time
	Page    int
	PerPage int
}

func (q SeatQuery) withDefaults() SeatQuery {
	if q.Page < 1 {
		q.Page = DefaultSeatPage
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultSeatPerPage
	}
	return q
}

// SeatStore keeps the append-only seat history of one scope. Every snapshot
// saved is kept; repeated refreshes accumulate rows.
type SeatStore struct {
	scope Scope
	conn  *Conn
	now   func() time.Time
}

// NewSeatStore creates a SeatStore bound to scope with its own connection.
func NewSeatStore(ctx context.Context, dsn string, policy RetryPolicy, scope Scope) *SeatStore {
	return &SeatStore{
		scope: scope,
		conn:  NewConn(ctx, "seats:"+scope.String(), dsn, policy),
		now:   defaultNow,
	}
}

// Scope returns the scope the store is bound to.
func (s *SeatStore) Scope() Scope { return s.scope }

func (s *SeatStore) State() State { return s.conn.State() }

func (s *SeatStore) Close(ctx context.Context) error { return s.conn.Close(ctx) }

// Save writes one row per seat, all stamped with the same refresh time.
// The rows are sent as a single COPY, so a failed save writes nothing.
func (s *SeatStore) Save(ctx context.Context, snapshot models.TotalSeats) error {
	if snapshot.Len() == 0 {
		return nil
	}
	refreshTime := s.now()

	return s.conn.do(ctx, "save seats", func(conn *pgx.Conn) error {
		_, err := conn.CopyFrom(ctx,
			pgx.Identifier{"copilot_seats"},
			[]string{"login", "team", "created_at", "last_activity_at", "last_activity_editor", "type", "scope_name", "refresh_time"},
			pgx.CopyFromSlice(snapshot.Len(), func(i int) ([]any, error) {
				seat := snapshot.Seats[i]
				return []any{
					seat.Login, seat.Team, seat.CreatedAt, seat.LastActivityAt, seat.LastActivityEditor,
					s.scope.Type, s.scope.Name, refreshTime,
				}, nil
			}),
		)
		return err
	})
}

// ReadAll returns every stored seat of the scope across all refreshes.
// Use ReadLatest for the current snapshot only.
func (s *SeatStore) ReadAll(ctx context.Context) (models.TotalSeats, error) {
	var seats []models.Seat
	err := s.conn.do(ctx, "read seats", func(conn *pgx.Conn) error {
		var err error
		seats, err = querySeats(ctx, conn,
			`SELECT `+seatColumns+` FROM copilot_seats
			 WHERE type = $1 AND scope_name = $2
			 ORDER BY refresh_time, id`,
			s.scope.Type, s.scope.Name)
		return err
	})
	if err != nil {
		return models.NewTotalSeats(nil), err
	}
	return models.NewTotalSeats(seats), nil
}

// Query returns one page of seats wrapped in a single-element slice, or an
// empty slice when the read fails.
func (s *SeatStore) Query(ctx context.Context, q SeatQuery) ([]models.TotalSeats, error) {
	page, err := s.QueryPage(ctx, q)
	if err != nil {
		return []models.TotalSeats{}, err
	}
	return []models.TotalSeats{page}, nil
}

// QueryPage returns one page of seats whose created_at lies within q,
// ordered by created_at.
func (s *SeatStore) QueryPage(ctx context.Context, q SeatQuery) (models.TotalSeats, error) {
	q = q.withDefaults()

	var seats []models.Seat
	err := s.conn.do(ctx, "query seats", func(conn *pgx.Conn) error {
		var err error
		seats, err = querySeats(ctx, conn,
			`SELECT `+seatColumns+` FROM copilot_seats
			 WHERE type = $1 AND scope_name = $2
			   AND ($3::timestamptz IS NULL OR created_at >= $3)
			   AND ($4::timestamptz IS NULL OR created_at <= $4)
			 ORDER BY created_at, id
			 LIMIT $5 OFFSET $6`,
			s.scope.Type, s.scope.Name, optTime(q.Since), optTime(q.Until),
			q.PerPage, (q.Page-1)*q.PerPage)
		return err
	})
	if err != nil {
		return models.NewTotalSeats(nil), err
	}
	return models.NewTotalSeats(seats), nil
}

// ReadLatest returns the most recent snapshot and the time it was taken.
// A scope without snapshots yields an empty result and the zero time.
func (s *SeatStore) ReadLatest(ctx context.Context) (models.TotalSeats, time.Time, error) {
	var (
		seats       []models.Seat
		refreshTime time.Time
	)
	err := s.conn.do(ctx, "read latest seats", func(conn *pgx.Conn) error {
		var latest *time.Time
		if err := conn.QueryRow(ctx,
			`SELECT MAX(refresh_time) FROM copilot_seats WHERE type = $1 AND scope_name = $2`,
			s.scope.Type, s.scope.Name).Scan(&latest); err != nil {
			return err
		}
		if latest == nil {
			return nil
		}
		refreshTime = *latest

		var err error
		seats, err = querySeats(ctx, conn,
			`SELECT `+seatColumns+` FROM copilot_seats
			 WHERE type = $1 AND scope_name = $2 AND refresh_time = $3
			 ORDER BY id`,
			s.scope.Type, s.scope.Name, refreshTime)
		return err
	})
	if err != nil {
		return models.NewTotalSeats(nil), time.Time{}, err
	}
	return models.NewTotalSeats(seats), refreshTime, nil
}

const seatColumns = `login, team, created_at, last_activity_at, last_activity_editor`

func querySeats(ctx context.Context, conn *pgx.Conn, sql string, args ...any) ([]models.Seat, error) {
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seats := []models.Seat{}
	for rows.Next() {
		var seat models.Seat
		if err := rows.Scan(&seat.Login, &seat.Team, &seat.CreatedAt, &seat.LastActivityAt, &seat.LastActivityEditor); err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}
	return seats, rows.Err()
}
