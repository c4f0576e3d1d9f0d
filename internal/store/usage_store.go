package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

// UsageQuery filters usage records by day. Zero Since or Until leaves that
// bound open. An empty Team returns records of every team.
type UsageQuery struct {
	Since time.Time
	Until time.Time
	Team  string
}

// UsageStore keeps the append-only usage history of one scope.
type UsageStore struct {
	scope Scope
	conn  *Conn
	now   func() time.Time
}

// NewUsageStore creates a UsageStore bound to scope with its own connection.
func NewUsageStore(ctx context.Context, dsn string, policy RetryPolicy, scope Scope) *UsageStore {
	return &UsageStore{
		scope: scope,
		conn:  NewConn(ctx, "usage:"+scope.String(), dsn, policy),
		now:   defaultNow,
	}
}

func (s *UsageStore) Scope() Scope { return s.scope }

func (s *UsageStore) State() State { return s.conn.State() }

func (s *UsageStore) Close(ctx context.Context) error { return s.conn.Close(ctx) }

// Save appends records under the store's scope with one shared refresh time.
// The scope fields of the records themselves are ignored.
func (s *UsageStore) Save(ctx context.Context, records []models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	refreshTime := s.now()

	breakdowns := make([][]byte, len(records))
	for i, r := range records {
		b := r.Breakdown
		if b == nil {
			b = []models.UsageBreakdown{}
		}
		raw, err := json.Marshal(b)
		if err != nil {
			return &StorageError{Op: "save usage", Err: fmt.Errorf("encode breakdown: %w", err)}
		}
		breakdowns[i] = raw
	}

	return s.conn.do(ctx, "save usage", func(conn *pgx.Conn) error {
		_, err := conn.CopyFrom(ctx,
			pgx.Identifier{"copilot_usage"},
			[]string{
				"type", "scope_name", "team", "day",
				"total_suggestions_count", "total_acceptances_count",
				"total_lines_suggested", "total_lines_accepted", "total_active_users",
				"total_chat_acceptances", "total_chat_turns", "total_active_chat_users",
				"breakdown", "refresh_time",
			},
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{
					s.scope.Type, s.scope.Name, r.Team, r.Day,
					r.TotalSuggestionsCount, r.TotalAcceptancesCount,
					r.TotalLinesSuggested, r.TotalLinesAccepted, r.TotalActiveUsers,
					r.TotalChatAcceptances, r.TotalChatTurns, r.TotalActiveChatUsers,
					breakdowns[i], refreshTime,
				}, nil
			}),
		)
		return err
	})
}

// Query returns stored records ordered by day, then team.
func (s *UsageStore) Query(ctx context.Context, q UsageQuery) ([]models.UsageRecord, error) {
	records := []models.UsageRecord{}
	err := s.conn.do(ctx, "query usage", func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT team, day,
			        total_suggestions_count, total_acceptances_count,
			        total_lines_suggested, total_lines_accepted, total_active_users,
			        total_chat_acceptances, total_chat_turns, total_active_chat_users,
			        breakdown
			 FROM copilot_usage
			 WHERE type = $1 AND scope_name = $2
			   AND ($3::date IS NULL OR day >= $3)
			   AND ($4::date IS NULL OR day <= $4)
			   AND ($5 = '' OR team = $5)
			 ORDER BY day, team, id`,
			s.scope.Type, s.scope.Name, optTime(q.Since), optTime(q.Until), q.Team)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			r := models.UsageRecord{ScopeType: models.ScopeType(s.scope.Type), ScopeName: s.scope.Name}
			var breakdown []byte
			if err := rows.Scan(&r.Team, &r.Day,
				&r.TotalSuggestionsCount, &r.TotalAcceptancesCount,
				&r.TotalLinesSuggested, &r.TotalLinesAccepted, &r.TotalActiveUsers,
				&r.TotalChatAcceptances, &r.TotalChatTurns, &r.TotalActiveChatUsers,
				&breakdown); err != nil {
				return err
			}
			if err := json.Unmarshal(breakdown, &r.Breakdown); err != nil {
				return fmt.Errorf("decode breakdown: %w", err)
			}
			records = append(records, r)
		}
		return rows.Err()
	})
	if err != nil {
		return []models.UsageRecord{}, err
	}
	return records, nil
}
