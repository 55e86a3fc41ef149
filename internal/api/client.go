// Package api provides typed access to the AppHub REST surface over the
// authenticated gateway.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vkarpenko/apphub-cli/internal/errs"
	"github.com/vkarpenko/apphub-cli/internal/gateway"
	"github.com/vkarpenko/apphub-cli/internal/model"
	"github.com/vkarpenko/apphub-cli/internal/tokenstore"
)

// Client exposes the auth and chat endpoints the core consumes.
type Client struct {
	gw *gateway.Client
}

// New wraps the gateway with typed endpoints.
func New(gw *gateway.Client) *Client { return &Client{gw: gw} }

// Login authenticates with the password grant. It runs outside the refresh
// protocol: there is no prior credential to refresh.
func (c *Client) Login(ctx context.Context, email, password string) (model.Token, error) {
	form := url.Values{
		"username": {email},
		"password": {password},
	}
	var resp tokenResponse
	if err := c.gw.DoForm(ctx, "/auth/login", form, &resp); err != nil {
		return model.Token{}, err
	}
	return c.toToken(resp)
}

// Refresh exchanges a refresh credential for a new token pair. It runs
// outside the retry protocol: a rejected refresh must not trigger another
// refresh with the same dead credential.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.Token, error) {
	var resp tokenResponse
	if err := c.gw.DoUnauthed(ctx, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return model.Token{}, err
	}
	return c.toToken(resp)
}

func (c *Client) toToken(resp tokenResponse) (model.Token, error) {
	if resp.AccessToken == "" {
		return model.Token{}, fmt.Errorf("%w: empty access token in response", errs.ErrServer)
	}
	tok := model.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if exp, err := tokenstore.ExpiresAt(resp.AccessToken); err == nil {
		tok.ExpiresAt = exp
	}
	return tok, nil
}

// Signup registers a new account. It does not authenticate.
func (c *Client) Signup(ctx context.Context, email, password, fullName string) (model.User, error) {
	var resp userResponse
	req := signupRequest{Email: email, Password: password, FullName: fullName}
	if err := c.gw.Do(ctx, http.MethodPost, "/auth/signup", req, &resp); err != nil {
		return model.User{}, err
	}
	return toUser(resp), nil
}

// Logout revokes the refresh credential server-side.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.gw.Do(ctx, http.MethodPost, "/auth/logout", refreshRequest{RefreshToken: refreshToken}, nil)
}

// Me fetches the authenticated identity.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var resp userResponse
	if err := c.gw.Do(ctx, http.MethodGet, "/auth/me", nil, &resp); err != nil {
		return model.User{}, err
	}
	return toUser(resp), nil
}

// ChangePassword rotates the account password; the server revokes all
// refresh tokens on success.
func (c *Client) ChangePassword(ctx context.Context, current, newPassword string) error {
	req := changePasswordRequest{CurrentPassword: current, NewPassword: newPassword}
	return c.gw.Do(ctx, http.MethodPost, "/auth/change-password", req, nil)
}

// Conversations lists the user's conversations, newest first.
func (c *Client) Conversations(ctx context.Context, page, perPage int, includeArchived bool) (model.ConversationPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}
	if includeArchived {
		q.Set("include_archived", "true")
	}
	path := "/chat/conversations"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var resp conversationListResponse
	if err := c.gw.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return model.ConversationPage{}, err
	}
	out := model.ConversationPage{
		Conversations: make([]model.Conversation, 0, len(resp.Conversations)),
		Total:         resp.Total,
		Page:          resp.Page,
		Pages:         resp.Pages,
	}
	for _, w := range resp.Conversations {
		out.Conversations = append(out.Conversations, toConversation(w))
	}
	return out, nil
}

// CreateConversation starts an empty conversation.
func (c *Client) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	var resp conversationResponse
	if err := c.gw.Do(ctx, http.MethodPost, "/chat/conversations", conversationCreateRequest{Title: title}, &resp); err != nil {
		return model.Conversation{}, err
	}
	return toConversation(resp), nil
}

// Conversation fetches a conversation and its full transcript.
func (c *Client) Conversation(ctx context.Context, id string) (model.Conversation, []model.Message, error) {
	var resp conversationDetailResponse
	if err := c.gw.Do(ctx, http.MethodGet, "/chat/conversations/"+url.PathEscape(id), nil, &resp); err != nil {
		return model.Conversation{}, nil, err
	}
	msgs := make([]model.Message, 0, len(resp.Messages))
	for _, w := range resp.Messages {
		msgs = append(msgs, toMessage(w))
	}
	return toConversation(resp.conversationResponse), msgs, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.gw.Do(ctx, http.MethodDelete, "/chat/conversations/"+url.PathEscape(id), nil, nil)
}

// ArchiveConversation hides a conversation from the default list.
func (c *Client) ArchiveConversation(ctx context.Context, id string) error {
	return c.gw.Do(ctx, http.MethodPost, "/chat/conversations/"+url.PathEscape(id)+"/archive", nil, nil)
}

// Send posts a message; an empty conversationID asks the server to create a
// new conversation. The response carries the assistant reply.
func (c *Client) Send(ctx context.Context, message, conversationID string) (model.ChatResult, error) {
	var resp chatResponse
	req := chatRequest{Message: message, ConversationID: conversationID}
	if err := c.gw.Do(ctx, http.MethodPost, "/chat/send", req, &resp); err != nil {
		return model.ChatResult{}, err
	}
	assistant := toMessage(resp.Message)
	if len(assistant.ToolCalls) == 0 {
		assistant.ToolCalls = toToolCalls(resp.ToolCalls)
	}
	return model.ChatResult{
		ConversationID: resp.ConversationID,
		Assistant:      assistant,
	}, nil
}
