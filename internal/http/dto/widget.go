package dto

import (
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/realtime"
)

type SessionResponse struct {
	SessionID string `json:"session_id"`
	// Token is the signed session for clients that cannot keep the cookie.
	Token string `json:"token"`
}

type HistoryRequest struct {
	Limit  int32 `form:"limit" binding:"omitempty,min=1,max=200"`
	Before int64 `form:"before" binding:"omitempty,min=1"`
	After  int64 `form:"after" binding:"omitempty,min=1"`
}

type HistoryResponse struct {
	Messages []realtime.Message `json:"messages"`
	HasMore  bool               `json:"has_more"`
}

type LinkResponse struct {
	URL string `json:"url"`
}

func ToHistoryResponse(page *model.MessagePage) HistoryResponse {
	messages := make([]realtime.Message, 0, len(page.Entries))
	for i := range page.Entries {
		messages = append(messages, realtime.MessageFromEntry(&page.Entries[i]))
	}
	return HistoryResponse{Messages: messages, HasMore: page.HasMore}
}
