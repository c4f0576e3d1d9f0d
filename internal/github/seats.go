package github

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

const seatsPerPage = 100

// maxSeatPages stops paging against an upstream that keeps returning full pages.
const maxSeatPages = 1000

// FetchSeats collects every assigned seat of the tenant's scope, following
// pagination until total_seats rows are read or a page comes back empty.
func (s *ScopedClient) FetchSeats(ctx context.Context) (models.TotalSeats, error) {
	seats := []models.Seat{}

	for page := 1; page <= maxSeatPages; page++ {
		u := fmt.Sprintf("%s/copilot/billing/seats?per_page=%d&page=%d", s.ScopeURL(), seatsPerPage, page)

		var resp ghSeatsPage
		if err := s.getJSON(ctx, "fetch seats", u, &resp); err != nil {
			return models.NewTotalSeats(nil), err
		}

		for _, seat := range resp.Seats {
			seats = append(seats, toSeat(seat))
		}

		if len(resp.Seats) == 0 || len(seats) >= resp.TotalSeats {
			break
		}
	}

	return models.NewTotalSeats(seats), nil
}
