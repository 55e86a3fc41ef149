package api

import (
	"github.com/vkarpenko/apphub-cli/internal/model"
)

// Wire -> domain converters. The wire layer never leaks past this file.

func toUser(w userResponse) model.User {
	return model.User{
		ID:          w.ID,
		Email:       w.Email,
		FullName:    w.FullName,
		Role:        model.Role(w.Role),
		IsActive:    w.IsActive,
		IsVerified:  w.IsVerified,
		CreatedAt:   w.CreatedAt,
		LastLoginAt: w.LastLoginAt,
	}
}

func toConversation(w conversationResponse) model.Conversation {
	return model.Conversation{
		ID:           w.ID,
		Title:        w.Title,
		IsArchived:   w.IsArchived,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
		MessageCount: w.MessageCount,
	}
}

func toMessage(w messageResponse) model.Message {
	return model.Message{
		ID:         w.ID,
		Role:       model.MessageRole(w.Role),
		Content:    w.Content,
		CreatedAt:  w.CreatedAt,
		ToolCalls:  toToolCalls(w.ToolCalls),
		Provenance: model.Confirmed,
	}
}

func toToolCalls(ws []toolCallWire) []model.ToolCall {
	if len(ws) == 0 {
		return nil
	}
	out := make([]model.ToolCall, 0, len(ws))
	for _, w := range ws {
		out = append(out, model.ToolCall{
			ToolName:   w.ToolName,
			AppName:    w.AppName,
			Success:    w.Success,
			Error:      w.Error,
			DurationMS: w.DurationMS,
		})
	}
	return out
}
