package github

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

// --- GitHub response types ---

type ghUsageDay struct {
	Day                   string         `json:"day"`
	TotalSuggestionsCount int64          `json:"total_suggestions_count"`
	TotalAcceptancesCount int64          `json:"total_acceptances_count"`
	TotalLinesSuggested   int64          `json:"total_lines_suggested"`
	TotalLinesAccepted    int64          `json:"total_lines_accepted"`
	TotalActiveUsers      int64          `json:"total_active_users"`
	TotalChatAcceptances  int64          `json:"total_chat_acceptances"`
	TotalChatTurns        int64          `json:"total_chat_turns"`
	TotalActiveChatUsers  int64          `json:"total_active_chat_users"`
	Breakdown             []ghUsageSplit `json:"breakdown"`
}

type ghUsageSplit struct {
	Language         string `json:"language"`
	Editor           string `json:"editor"`
	SuggestionsCount int64  `json:"suggestions_count"`
	AcceptancesCount int64  `json:"acceptances_count"`
	LinesSuggested   int64  `json:"lines_suggested"`
	LinesAccepted    int64  `json:"lines_accepted"`
	ActiveUsers      int64  `json:"active_users"`
}

type ghTeam struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

type ghSeatsPage struct {
	TotalSeats int      `json:"total_seats"`
	Seats      []ghSeat `json:"seats"`
}

type ghSeat struct {
	CreatedAt          time.Time  `json:"created_at"`
	LastActivityAt     *time.Time `json:"last_activity_at"`
	LastActivityEditor string     `json:"last_activity_editor"`
	Assignee           struct {
		Login string `json:"login"`
	} `json:"assignee"`
	AssigningTeam *struct {
		Slug string `json:"slug"`
	} `json:"assigning_team"`
}

// toUsageRecords normalizes usage days and tags them with the scope they were
// fetched under. A day that does not parse rejects the whole response.
func toUsageRecords(days []ghUsageDay, t models.Tenant, team string) ([]models.UsageRecord, error) {
	records := make([]models.UsageRecord, 0, len(days))
	for i, d := range days {
		day, err := time.Parse(time.DateOnly, d.Day)
		if err != nil {
			return nil, fmt.Errorf("usage entry %d: invalid day %q: %w", i, d.Day, err)
		}
		breakdown := make([]models.UsageBreakdown, 0, len(d.Breakdown))
		for _, b := range d.Breakdown {
			breakdown = append(breakdown, models.UsageBreakdown{
				Language:         b.Language,
				Editor:           b.Editor,
				SuggestionsCount: b.SuggestionsCount,
				AcceptancesCount: b.AcceptancesCount,
				LinesSuggested:   b.LinesSuggested,
				LinesAccepted:    b.LinesAccepted,
				ActiveUsers:      b.ActiveUsers,
			})
		}
		records = append(records, models.UsageRecord{
			ScopeType:             t.ScopeType,
			ScopeName:             t.ScopeName,
			Team:                  team,
			Day:                   day,
			TotalSuggestionsCount: d.TotalSuggestionsCount,
			TotalAcceptancesCount: d.TotalAcceptancesCount,
			TotalLinesSuggested:   d.TotalLinesSuggested,
			TotalLinesAccepted:    d.TotalLinesAccepted,
			TotalActiveUsers:      d.TotalActiveUsers,
			TotalChatAcceptances:  d.TotalChatAcceptances,
			TotalChatTurns:        d.TotalChatTurns,
			TotalActiveChatUsers:  d.TotalActiveChatUsers,
			Breakdown:             breakdown,
		})
	}
	return records, nil
}

func toSeat(s ghSeat) models.Seat {
	seat := models.Seat{
		Login:              s.Assignee.Login,
		CreatedAt:          s.CreatedAt,
		LastActivityAt:     s.LastActivityAt,
		LastActivityEditor: s.LastActivityEditor,
	}
	if s.AssigningTeam != nil {
		seat.Team = s.AssigningTeam.Slug
	}
	return seat
}
