package lending

import (
	"context"
	"fmt"
	"sort"
)

// RecentHistoryLimit is how many history rows Summary carries.
const RecentHistoryLimit = 10

// ItemCount is an item with the number of loans it has had.
type ItemCount struct {
	ItemID ItemID
	Name   string
	Loans  int
}

// Summary is the staff dashboard overview.
type Summary struct {
	TotalItems    int
	TotalRequests int
	ActiveLoans   int
	TotalStudents int
	MostBorrowed  *ItemCount // nil until something has been lent
	Recent        []HistoryRecord
}

// Summary computes the dashboard overview. Staff only.
func (s *Service) Summary(ctx context.Context, caller Identity) (*Summary, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	items, err := s.Store.ListItems(ctx, ItemFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	total, err := s.Store.CountRequests(ctx, RequestFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	active, err := s.Store.CountRequests(ctx, RequestFilter{Statuses: []Status{StatusBorrowed}})
	if err != nil {
		return nil, fmt.Errorf("failed to count active loans: %w", err)
	}
	students, err := s.Store.ListProfiles(ctx, ProfileFilter{Role: RoleStudent})
	if err != nil {
		return nil, fmt.Errorf("failed to count students: %w", err)
	}
	recent, err := s.Store.ListHistory(ctx, HistoryFilter{Limit: RecentHistoryLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent history: %w", err)
	}
	loans, err := s.Store.ListHistory(ctx, HistoryFilter{Status: HistoryBorrowed})
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	out := &Summary{
		TotalItems:    len(items),
		TotalRequests: total,
		ActiveLoans:   active,
		TotalStudents: len(students),
		Recent:        recent,
	}

	names := make(map[ItemID]string, len(items))
	for _, it := range items {
		names[it.ID] = it.Name
	}
	out.MostBorrowed = mostBorrowed(loans, names)
	return out, nil
}

// mostBorrowed counts one loan per opening history row. Ties go to the
// item ID that sorts first so the answer is stable.
func mostBorrowed(loans []HistoryRecord, names map[ItemID]string) *ItemCount {
	counts := make(map[ItemID]int)
	for _, rec := range loans {
		counts[rec.ItemID]++
	}
	if len(counts) == 0 {
		return nil
	}

	ids := make([]ItemID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})

	best := ids[0]
	name := names[best]
	if name == "" {
		name = "Unknown"
	}
	return &ItemCount{ItemID: best, Name: name, Loans: counts[best]}
}
