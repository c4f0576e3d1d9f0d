package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

// Failure records one request that contributed no records to a UsageResult.
// Team is empty for the tenant's own scope.
type Failure struct {
	Team string
	Op   string
	Err  error
}

// UsageResult is the flattened usage of a scope and its descendant teams.
// An empty Records slice with no Failures means the upstream had no data.
type UsageResult struct {
	Records  []models.UsageRecord
	Failures []Failure
}

// OK reports whether every request in the fetch succeeded.
func (r UsageResult) OK() bool { return len(r.Failures) == 0 }

// Err joins all failures, or returns nil.
func (r UsageResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

func (r *UsageResult) fail(t models.Tenant, team, op string, err error) {
	slog.Warn("copilot usage fetch failed",
		"scope", t.Key().String(),
		"team", team,
		"op", op,
		"error", err,
	)
	r.Failures = append(r.Failures, Failure{Team: team, Op: op, Err: err})
}

// Validate performs one live usage call. Any failure means the token or
// scope is wrong and is returned as *models.InvalidTenantError.
func (s *ScopedClient) Validate(ctx context.Context) error {
	var days []ghUsageDay
	if err := s.getJSON(ctx, "validate tenant", s.ScopeURL()+"/copilot/usage", &days); err != nil {
		return &models.InvalidTenantError{
			Key:    s.tenant.Key(),
			Reason: "scope type, scope name or token rejected by github",
			Err:    err,
		}
	}
	return nil
}

// FetchUsage returns the tenant's own usage followed by the usage of every
// team discovered beneath it, level by level in discovery order. It never
// fails as a whole: each failed request is listed in the result's Failures
// and contributes no records.
//
// Tenants with an explicit team are not expanded. Teams are visited at most
// once each, so an inconsistent upstream hierarchy cannot loop.
func (s *ScopedClient) FetchUsage(ctx context.Context) UsageResult {
	res := UsageResult{Records: []models.UsageRecord{}}

	own, err := s.usageAt(ctx, s.ScopeURL()+"/copilot/usage", s.tenant.Team)
	if err != nil {
		res.fail(s.tenant, s.tenant.Team, "usage", err)
	} else {
		res.Records = append(res.Records, own...)
	}

	if s.tenant.HasTeam() || s.http.maxDepth == 0 {
		return res
	}

	slugs, err := s.listTeamSlugs(ctx, s.ScopeURL()+"/teams")
	if err != nil {
		res.fail(s.tenant, "", "teams", err)
	}

	visited := make(map[string]bool)
	level := enqueue(nil, slugs, visited)

	for depth := 1; len(level) > 0; depth++ {
		if ctx.Err() != nil {
			res.fail(s.tenant, "", "traverse teams", classifyError(ctx.Err()))
			break
		}

		outcomes := s.fetchLevel(ctx, level, depth < s.http.maxDepth)

		var next []string
		for _, o := range outcomes {
			res.Records = append(res.Records, o.records...)
			for _, f := range o.failures {
				res.fail(s.tenant, f.Team, f.Op, f.Err)
			}
			next = enqueue(next, o.children, visited)
		}
		level = next
	}

	return res
}

// teamOutcome is the result of visiting one team during traversal.
type teamOutcome struct {
	records  []models.UsageRecord
	children []string
	failures []Failure
}

// fetchLevel visits every team of one traversal level. Outcomes are indexed
// like slugs regardless of completion order.
func (s *ScopedClient) fetchLevel(ctx context.Context, slugs []string, discover bool) []teamOutcome {
	outcomes := make([]teamOutcome, len(slugs))

	if s.http.concurrency <= 1 || len(slugs) == 1 {
		for i, slug := range slugs {
			outcomes[i] = s.visitTeam(ctx, slug, discover)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(s.http.concurrency)
	for i, slug := range slugs {
		i, slug := i, slug
		g.Go(func() error {
			outcomes[i] = s.visitTeam(ctx, slug, discover)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *ScopedClient) visitTeam(ctx context.Context, slug string, discover bool) teamOutcome {
	var out teamOutcome

	records, err := s.usageAt(ctx, s.teamURL(slug)+"/copilot/usage", slug)
	if err != nil {
		out.failures = append(out.failures, Failure{Team: slug, Op: "team usage", Err: err})
	} else {
		out.records = records
	}

	if discover {
		children, err := s.listTeamSlugs(ctx, s.teamURL(slug)+"/teams")
		if err != nil {
			out.failures = append(out.failures, Failure{Team: slug, Op: "child teams", Err: err})
		}
		out.children = children
	}
	return out
}

// enqueue appends the unvisited slugs to queue, marking them visited.
func enqueue(queue, slugs []string, visited map[string]bool) []string {
	for _, slug := range slugs {
		if slug == "" || visited[slug] {
			continue
		}
		visited[slug] = true
		queue = append(queue, slug)
	}
	return queue
}

// FetchTeamUsage returns usage for one named team below the tenant's scope.
// A blank slug means no team filter and yields no records.
func (s *ScopedClient) FetchTeamUsage(ctx context.Context, teamSlug string) ([]models.UsageRecord, error) {
	teamSlug = strings.TrimSpace(teamSlug)
	if teamSlug == "" {
		return []models.UsageRecord{}, nil
	}
	return s.usageAt(ctx, s.teamURL(teamSlug)+"/copilot/usage", teamSlug)
}

func (s *ScopedClient) usageAt(ctx context.Context, u, team string) ([]models.UsageRecord, error) {
	var days []ghUsageDay
	if err := s.getJSON(ctx, "fetch usage", u, &days); err != nil {
		return nil, err
	}
	records, err := toUsageRecords(days, s.tenant, team)
	if err != nil {
		return nil, &UpstreamError{Op: "fetch usage", URL: u, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return records, nil
}
