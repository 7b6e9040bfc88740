package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"supportdesk.app/relay/common/id"
	"supportdesk.app/relay/core/db/sqlc"
	"supportdesk.app/relay/internal/model"
)

const uniqueViolation = "23505"

type ticketStore struct {
	queries *sqlc.Queries
}

func newTicketStore(queries *sqlc.Queries) TicketStore {
	return &ticketStore{queries: queries}
}

func (s *ticketStore) GetByID(ctx context.Context, id int64) (*model.Ticket, error) {
	row, err := s.queries.GetTicket(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTicketModel(row), nil
}

func (s *ticketStore) GetByThreadID(ctx context.Context, threadID int64) (*model.Ticket, error) {
	row, err := s.queries.GetTicketByThreadID(ctx, &threadID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTicketModel(row), nil
}

func (s *ticketStore) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.Ticket, error) {
	row, err := s.queries.GetTicketBySessionID(ctx, uuidToPg(&sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTicketModel(row), nil
}

func (s *ticketStore) GetByPlatformUserID(ctx context.Context, platformUserID int64) (*model.Ticket, error) {
	row, err := s.queries.GetTicketByPlatformUserID(ctx, &platformUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTicketModel(row), nil
}

func (s *ticketStore) Create(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	if ticket.ID == 0 {
		ticket.ID = id.New()
	}
	status := ticket.Status
	if status == "" {
		status = model.TicketStatusNew
	}

	row, err := s.queries.CreateTicket(ctx, sqlc.CreateTicketParams{
		ID:               ticket.ID,
		PlatformUserID:   ticket.PlatformUserID,
		PlatformUsername: ticket.PlatformUsername,
		SessionID:        uuidToPg(ticket.SessionID),
		CustomerName:     ticket.CustomerName,
		Status:           string(status),
		PageUrl:          ticket.PageURL,
		City:             ticket.City,
		Ip:               ticket.IP,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return toTicketModel(row), nil
}

func (s *ticketStore) UpdateStatus(ctx context.Context, id int64, current, next model.TicketStatus) (*model.Ticket, error) {
	row, err := s.queries.UpdateTicketStatus(ctx, sqlc.UpdateTicketStatusParams{
		NextStatus:    string(next),
		ID:            id,
		CurrentStatus: string(current),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the ticket is gone or someone else moved it first
			return nil, ErrConflict
		}
		return nil, err
	}
	return toTicketModel(row), nil
}

func (s *ticketStore) SetThreadID(ctx context.Context, id int64, threadID int64) (*model.Ticket, error) {
	row, err := s.queries.SetTicketThreadID(ctx, sqlc.SetTicketThreadIDParams{
		ID:       id,
		ThreadID: &threadID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return toTicketModel(row), nil
}

func (s *ticketStore) SetCardMessageID(ctx context.Context, id int64, cardMessageID string) error {
	return s.queries.SetTicketCardMessageID(ctx, sqlc.SetTicketCardMessageIDParams{
		ID:            id,
		CardMessageID: &cardMessageID,
	})
}

func (s *ticketStore) UpdatePhone(ctx context.Context, id int64, phone string) error {
	return s.queries.UpdateTicketPhone(ctx, sqlc.UpdateTicketPhoneParams{
		ID:    id,
		Phone: &phone,
	})
}

func (s *ticketStore) LinkPlatformUser(ctx context.Context, id int64, platformUserID int64, username *string) (*model.Ticket, error) {
	row, err := s.queries.LinkTicketPlatformUser(ctx, sqlc.LinkTicketPlatformUserParams{
		ID:               id,
		PlatformUserID:   &platformUserID,
		PlatformUsername: username,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return toTicketModel(row), nil
}

func (s *ticketStore) ListByStatus(ctx context.Context, status model.TicketStatus, limit int32) ([]model.Ticket, error) {
	rows, err := s.queries.ListTicketsByStatus(ctx, sqlc.ListTicketsByStatusParams{
		Status: string(status),
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	result := make([]model.Ticket, 0, len(rows))
	for _, row := range rows {
		result = append(result, *toTicketModel(row))
	}
	return result, nil
}

func toTicketModel(row sqlc.Ticket) *model.Ticket {
	return &model.Ticket{
		ID:               row.ID,
		PlatformUserID:   row.PlatformUserID,
		PlatformUsername: row.PlatformUsername,
		SessionID:        pgToUUID(row.SessionID),
		CustomerName:     row.CustomerName,
		Status:           model.TicketStatus(row.Status),
		ThreadID:         row.ThreadID,
		CardMessageID:    row.CardMessageID,
		Phone:            row.Phone,
		PageURL:          row.PageUrl,
		City:             row.City,
		IP:               row.Ip,
		StatusChangedAt:  row.StatusChangedAt.Time,
		CreatedAt:        row.CreatedAt.Time,
		UpdatedAt:        row.UpdatedAt.Time,
	}
}

func uuidToPg(u *uuid.UUID) pgtype.UUID {
	if u == nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: *u, Valid: true}
}

func pgToUUID(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	v := uuid.UUID(u.Bytes)
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
