package github

import (
	"context"
	"log/slog"

	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

// FetchTeams lists the direct child teams of the tenant's scope.
func (s *ScopedClient) FetchTeams(ctx context.Context) ([]models.Team, error) {
	return s.listTeams(ctx, s.ScopeURL()+"/teams")
}

// DiscoverChildTeams returns the slugs of the scope's direct child teams in
// upstream order. On failure it returns an empty slice together with the
// error, so a failed listing is never mistaken for a scope without teams.
func (s *ScopedClient) DiscoverChildTeams(ctx context.Context) ([]string, error) {
	slugs, err := s.listTeamSlugs(ctx, s.ScopeURL()+"/teams")
	if err != nil {
		slog.Warn("child team discovery failed", "scope", s.tenant.Key().String(), "error", err)
		return []string{}, err
	}
	return slugs, nil
}

func (s *ScopedClient) listTeams(ctx context.Context, u string) ([]models.Team, error) {
	var raw []ghTeam
	if err := s.getJSON(ctx, "list teams", u, &raw); err != nil {
		return nil, err
	}
	teams := make([]models.Team, 0, len(raw))
	for _, t := range raw {
		teams = append(teams, models.Team{
			Name:        t.Name,
			ID:          t.ID,
			Slug:        t.Slug,
			Description: t.Description,
		})
	}
	return teams, nil
}

func (s *ScopedClient) listTeamSlugs(ctx context.Context, u string) ([]string, error) {
	teams, err := s.listTeams(ctx, u)
	if err != nil {
		return []string{}, err
	}
	slugs := make([]string, 0, len(teams))
	for _, t := range teams {
		slugs = append(slugs, t.Slug)
	}
	return slugs, nil
}
