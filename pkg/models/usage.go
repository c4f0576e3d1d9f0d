package models

import "time"

// UsageRecord is one reporting day of Copilot usage for a scope or team.
// Records carry the context they were fetched under; there is no identity
// beyond (scope, team, day) and repeated fetches are not deduplicated.
type UsageRecord struct {
	ScopeType ScopeType `db:"type"       json:"scope_type"`
	ScopeName string    `db:"scope_name" json:"scope_name"`
	Team      string    `db:"team"       json:"team"`

	Day                   time.Time `db:"day"                     json:"day"`
	TotalSuggestionsCount int64     `db:"total_suggestions_count" json:"total_suggestions_count"`
	TotalAcceptancesCount int64     `db:"total_acceptances_count" json:"total_acceptances_count"`
	TotalLinesSuggested   int64     `db:"total_lines_suggested"   json:"total_lines_suggested"`
	TotalLinesAccepted    int64     `db:"total_lines_accepted"    json:"total_lines_accepted"`
	TotalActiveUsers      int64     `db:"total_active_users"      json:"total_active_users"`
	TotalChatAcceptances  int64     `db:"total_chat_acceptances"  json:"total_chat_acceptances"`
	TotalChatTurns        int64     `db:"total_chat_turns"        json:"total_chat_turns"`
	TotalActiveChatUsers  int64     `db:"total_active_chat_users" json:"total_active_chat_users"`

	Breakdown []UsageBreakdown `db:"breakdown" json:"breakdown"`
}

// UsageBreakdown splits a day's usage by language and editor.
type UsageBreakdown struct {
	Language         string `json:"language"`
	Editor           string `json:"editor"`
	SuggestionsCount int64  `json:"suggestions_count"`
	AcceptancesCount int64  `json:"acceptances_count"`
	LinesSuggested   int64  `json:"lines_suggested"`
	LinesAccepted    int64  `json:"lines_accepted"`
	ActiveUsers      int64  `json:"active_users"`
}
