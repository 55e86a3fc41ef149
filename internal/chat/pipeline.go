// Package chat owns conversation and transcript state and the send pipeline.
//
// A send is gated on the sensitive-content detector, appended optimistically
// to the local transcript, dispatched, and finally reconciled against the
// server-confirmed result. A failed send rolls the transcript back to its
// prior state.
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/vkarpenko/apphub-cli/internal/detector"
	"github.com/vkarpenko/apphub-cli/internal/errs"
	"github.com/vkarpenko/apphub-cli/internal/model"
)

// ChatAPI is the slice of the REST surface the pipeline needs.
type ChatAPI interface {
	Send(ctx context.Context, message, conversationID string) (model.ChatResult, error)
	Conversations(ctx context.Context, page, perPage int, includeArchived bool) (model.ConversationPage, error)
	CreateConversation(ctx context.Context, title string) (model.Conversation, error)
	Conversation(ctx context.Context, id string) (model.Conversation, []model.Message, error)
	DeleteConversation(ctx context.Context, id string) error
	ArchiveConversation(ctx context.Context, id string) error
}

// Gate holds a sensitive-content confirmation pending the user's decision.
type Gate struct {
	Original string
	Masked   string
	Matches  []detector.Match
}

// SendResult is the outcome of a Send call: either a pending gate requiring
// confirmation, or the committed assistant reply.
type SendResult struct {
	Gated     bool
	Gate      *Gate
	Assistant *model.Message
}

// Pipeline is the message-send state machine. It serializes sends internally;
// callers interact from a single logical task at a time.
type Pipeline struct {
	mu  sync.Mutex
	api ChatAPI
	det detector.Detector
	log *zap.Logger

	conv       *model.Conversation
	transcript []model.Message
	gate       *Gate

	conversations []model.Conversation
}

// NewPipeline constructs a Pipeline with no active conversation.
func NewPipeline(api ChatAPI, det detector.Detector, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{api: api, det: det, log: log}
}

// Send dispatches content through the sensitive-content gate. When matches
// are found nothing is sent; the returned result carries the pending gate and
// the caller must resolve it via ConfirmOriginal, ConfirmMasked or Cancel.
func (p *Pipeline) Send(ctx context.Context, content string) (SendResult, error) {
	return p.send(ctx, content, false)
}

// ConfirmOriginal resolves the pending gate by sending the original text.
func (p *Pipeline) ConfirmOriginal(ctx context.Context) (SendResult, error) {
	g, err := p.takeGateText(true)
	if err != nil {
		return SendResult{}, err
	}
	return p.send(ctx, g, true)
}

// ConfirmMasked resolves the pending gate by sending the masked text.
func (p *Pipeline) ConfirmMasked(ctx context.Context) (SendResult, error) {
	g, err := p.takeGateText(false)
	if err != nil {
		return SendResult{}, err
	}
	return p.send(ctx, g, true)
}

// Cancel clears the pending gate without sending.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = nil
}

// PendingGate returns a copy of the pending gate, or nil.
func (p *Pipeline) PendingGate() *Gate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate == nil {
		return nil
	}
	g := *p.gate
	return &g
}

// Transcript returns a copy of the local transcript.
func (p *Pipeline) Transcript() []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Message, len(p.transcript))
	copy(out, p.transcript)
	return out
}

// Current returns a copy of the active conversation, or nil before the first
// send creates one.
func (p *Pipeline) Current() *model.Conversation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conv == nil {
		return nil
	}
	c := *p.conv
	return &c
}

// NewConversation resets the active conversation, transcript and any pending
// gate; a stale confirmation prompt must not leak into the new context.
func (p *Pipeline) NewConversation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conv = nil
	p.transcript = nil
	p.gate = nil
}

// Create starts an empty server-side conversation and makes it active.
// Without it the server creates one lazily on the first send.
func (p *Pipeline) Create(ctx context.Context, title string) (model.Conversation, error) {
	conv, err := p.api.CreateConversation(ctx, title)
	if err != nil {
		return model.Conversation{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conv = &conv
	p.transcript = nil
	p.gate = nil
	return conv, nil
}

// Open loads a conversation and its server transcript as the active context.
func (p *Pipeline) Open(ctx context.Context, id string) error {
	conv, msgs, err := p.api.Conversation(ctx, id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conv = &conv
	p.transcript = msgs
	p.gate = nil
	return nil
}

// Conversations fetches a page of the conversation list and caches it.
func (p *Pipeline) Conversations(ctx context.Context, page, perPage int, includeArchived bool) (model.ConversationPage, error) {
	res, err := p.api.Conversations(ctx, page, perPage, includeArchived)
	if err != nil {
		return model.ConversationPage{}, err
	}
	p.mu.Lock()
	p.conversations = res.Conversations
	p.mu.Unlock()
	return res, nil
}

// Delete removes a conversation; deleting the active one resets local state.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	if err := p.api.DeleteConversation(ctx, id); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conv != nil && p.conv.ID == id {
		p.conv = nil
		p.transcript = nil
		p.gate = nil
	}
	return nil
}

// Archive hides a conversation from the default list.
func (p *Pipeline) Archive(ctx context.Context, id string) error {
	if err := p.api.ArchiveConversation(ctx, id); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conv != nil && p.conv.ID == id {
		p.conv.IsArchived = true
	}
	return nil
}

func (p *Pipeline) takeGateText(original bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate == nil {
		return "", fmt.Errorf("%w: no pending gate", errs.ErrValidation)
	}
	if original {
		return p.gate.Original, nil
	}
	return p.gate.Masked, nil
}

// send runs the full pipeline: gate check, optimistic append, dispatch,
// reconcile. The mutex is held across the round trip, which serializes sends
// and keeps the optimistic-append -> dispatch -> reconcile sequence strictly
// ordered per operation.
func (p *Pipeline) send(ctx context.Context, content string, bypassGate bool) (SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if content == "" {
		return SendResult{}, fmt.Errorf("%w: message cannot be empty", errs.ErrValidation)
	}
	if p.gate != nil && !bypassGate {
		return SendResult{}, errs.ErrGatePending
	}

	if !bypassGate {
		if matches := p.det.Scan(content); len(matches) > 0 {
			masked, _ := p.det.Mask(content)
			p.gate = &Gate{Original: content, Masked: masked, Matches: matches}
			g := *p.gate
			return SendResult{Gated: true, Gate: &g}, nil
		}
	}
	// the gate, if any, is consumed by this dispatch and not restored on failure
	p.gate = nil

	optimistic := model.Message{
		ID:         localID(),
		Role:       model.MessageRoleUser,
		Content:    content,
		CreatedAt:  time.Now(),
		Provenance: model.Optimistic,
	}
	p.transcript = append(p.transcript, optimistic)

	convID := ""
	if p.conv != nil {
		convID = p.conv.ID
	}

	res, err := p.api.Send(ctx, content, convID)
	if err != nil {
		p.removeMessage(optimistic.ID)
		return SendResult{}, err
	}

	// reconcile: the optimistic entry becomes the confirmed user message,
	// followed by the server's assistant reply
	p.removeMessage(optimistic.ID)
	confirmed := optimistic
	confirmed.Provenance = model.Confirmed
	p.transcript = append(p.transcript, confirmed, res.Assistant)

	if p.conv == nil {
		p.conv = &model.Conversation{
			ID:        res.ConversationID,
			CreatedAt: res.Assistant.CreatedAt,
			UpdatedAt: res.Assistant.CreatedAt,
		}
		p.refreshConversationList(ctx)
	}

	assistant := res.Assistant
	return SendResult{Assistant: &assistant}, nil
}

// refreshConversationList updates the cached list after the server created a
// conversation for us. Best effort; callers hold the mutex.
func (p *Pipeline) refreshConversationList(ctx context.Context) {
	res, err := p.api.Conversations(ctx, 1, 20, false)
	if err != nil {
		p.log.Debug("conversation list refresh failed", zap.Error(err))
		return
	}
	p.conversations = res.Conversations
	if p.conv != nil {
		for _, c := range res.Conversations {
			if c.ID == p.conv.ID {
				*p.conv = c
				break
			}
		}
	}
}

func (p *Pipeline) removeMessage(id string) {
	for i := range p.transcript {
		if p.transcript[i].ID == id {
			p.transcript = append(p.transcript[:i], p.transcript[i+1:]...)
			return
		}
	}
}

func localID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// rand failure is effectively fatal elsewhere; fall back to a
		// timestamp so the optimistic entry stays addressable
		return fmt.Sprintf("local-%d", time.Now().UnixNano())
	}
	return "local-" + id.String()
}
