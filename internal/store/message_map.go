package store

import (
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"supportdesk.app/relay/common/id"
	"supportdesk.app/relay/core/db/sqlc"
	"supportdesk.app/relay/internal/model"
)

const defaultHistoryLimit = 50

type messageMapStore struct {
	queries *sqlc.Queries
}

func newMessageMapStore(queries *sqlc.Queries) MessageMapStore {
	return &messageMapStore{queries: queries}
}

func (s *messageMapStore) Create(ctx context.Context, entry *model.MessageMapEntry) (*model.MessageMapEntry, error) {
	if entry.ID == 0 {
		entry.ID = id.New()
	}

	var duration *int32
	if entry.Duration != nil {
		d := int32(*entry.Duration)
		duration = &d
	}

	row, err := s.queries.CreateMessageMapEntry(ctx, sqlc.CreateMessageMapEntryParams{
		ID:                entry.ID,
		TicketID:          entry.TicketID,
		Direction:         string(entry.Direction),
		Channel:           string(entry.Channel),
		CustomerMessageID: entry.CustomerMessageID,
		ThreadMessageID:   entry.ThreadMessageID,
		Kind:              string(entry.Kind),
		Text:              entry.Text,
		MediaRef:          entry.MediaRef,
		Duration:          duration,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return toMessageMapModel(row), nil
}

func (s *messageMapStore) GetByID(ctx context.Context, id int64) (*model.MessageMapEntry, error) {
	row, err := s.queries.GetMessageMapEntry(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toMessageMapModel(row), nil
}

func (s *messageMapStore) FindByCustomerMessage(ctx context.Context, ticketID int64, channel model.Channel, nativeID string) (*model.MessageMapEntry, error) {
	row, err := s.queries.GetMessageMapByCustomerMessage(ctx, sqlc.GetMessageMapByCustomerMessageParams{
		TicketID:          ticketID,
		Channel:           string(channel),
		CustomerMessageID: &nativeID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toMessageMapModel(row), nil
}

func (s *messageMapStore) FindByThreadMessage(ctx context.Context, ticketID int64, nativeID string) ([]model.MessageMapEntry, error) {
	rows, err := s.queries.ListMessageMapByThreadMessage(ctx, sqlc.ListMessageMapByThreadMessageParams{
		TicketID:        ticketID,
		ThreadMessageID: &nativeID,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return toMessageMapModels(rows), nil
}

func (s *messageMapStore) UpdateText(ctx context.Context, id int64, text string) error {
	return s.queries.UpdateMessageMapText(ctx, sqlc.UpdateMessageMapTextParams{
		ID:   id,
		Text: text,
	})
}

func (s *messageMapStore) List(ctx context.Context, ticketID int64, q HistoryQuery) ([]model.MessageMapEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > MaxHistoryPage+1 {
		limit = MaxHistoryPage + 1
	}

	if q.After > 0 {
		rows, err := s.queries.ListMessageMapAfter(ctx, sqlc.ListMessageMapAfterParams{
			TicketID: ticketID,
			ID:       q.After,
			Limit:    limit,
		})
		if err != nil {
			return nil, err
		}
		return toMessageMapModels(rows), nil
	}

	before := q.Before
	if before <= 0 {
		before = math.MaxInt64
	}
	rows, err := s.queries.ListMessageMapBefore(ctx, sqlc.ListMessageMapBeforeParams{
		TicketID: ticketID,
		ID:       before,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	entries := toMessageMapModels(rows)
	// Fetched newest first; callers get chronological order
	slices.Reverse(entries)
	return entries, nil
}

func (s *messageMapStore) CountStaffAfter(ctx context.Context, ticketID int64, channel model.Channel, afterID int64) (int64, error) {
	return s.queries.CountStaffMessagesAfter(ctx, sqlc.CountStaffMessagesAfterParams{
		TicketID: ticketID,
		Channel:  string(channel),
		ID:       afterID,
	})
}

func (s *messageMapStore) ExistsStaffMessageSince(ctx context.Context, ticketID int64, since time.Time) (bool, error) {
	return s.queries.ExistsStaffMessageSince(ctx, sqlc.ExistsStaffMessageSinceParams{
		TicketID:  ticketID,
		CreatedAt: pgtype.Timestamptz{Time: since, Valid: true},
	})
}

func toMessageMapModels(rows []sqlc.MessageMap) []model.MessageMapEntry {
	result := make([]model.MessageMapEntry, 0, len(rows))
	for _, row := range rows {
		result = append(result, *toMessageMapModel(row))
	}
	return result
}

func toMessageMapModel(row sqlc.MessageMap) *model.MessageMapEntry {
	var duration *int
	if row.Duration != nil {
		d := int(*row.Duration)
		duration = &d
	}
	return &model.MessageMapEntry{
		ID:                row.ID,
		TicketID:          row.TicketID,
		Direction:         model.Direction(row.Direction),
		Channel:           model.Channel(row.Channel),
		CustomerMessageID: row.CustomerMessageID,
		ThreadMessageID:   row.ThreadMessageID,
		Kind:              model.ContentKind(row.Kind),
		Text:              row.Text,
		MediaRef:          row.MediaRef,
		Duration:          duration,
		CreatedAt:         row.CreatedAt.Time,
	}
}
