package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vkarpenko/apphub-cli/internal/detector"
	"github.com/vkarpenko/apphub-cli/internal/errs"
	"github.com/vkarpenko/apphub-cli/internal/model"
)

type fakeChatAPI struct {
	sendResult model.ChatResult
	sendErr    error

	listResult model.ConversationPage
	listErr    error

	conv     model.Conversation
	convMsgs []model.Message
	convErr  error

	deleteErr  error
	archiveErr error

	sendCalls    []sentCall
	listCalls    int
	deleteCalls  int
	archiveCalls int
}

type sentCall struct {
	message        string
	conversationID string
}

var _ ChatAPI = (*fakeChatAPI)(nil)

func (f *fakeChatAPI) Send(_ context.Context, message, conversationID string) (model.ChatResult, error) {
	f.sendCalls = append(f.sendCalls, sentCall{message, conversationID})
	return f.sendResult, f.sendErr
}
func (f *fakeChatAPI) Conversations(context.Context, int, int, bool) (model.ConversationPage, error) {
	f.listCalls++
	return f.listResult, f.listErr
}
func (f *fakeChatAPI) CreateConversation(context.Context, string) (model.Conversation, error) {
	return f.conv, f.convErr
}
func (f *fakeChatAPI) Conversation(context.Context, string) (model.Conversation, []model.Message, error) {
	return f.conv, f.convMsgs, f.convErr
}
func (f *fakeChatAPI) DeleteConversation(context.Context, string) error {
	f.deleteCalls++
	return f.deleteErr
}
func (f *fakeChatAPI) ArchiveConversation(context.Context, string) error {
	f.archiveCalls++
	return f.archiveErr
}

func assistantReply(conversationID, content string) model.ChatResult {
	return model.ChatResult{
		ConversationID: conversationID,
		Assistant: model.Message{
			ID:         "srv-msg-1",
			Role:       model.MessageRoleAssistant,
			Content:    content,
			CreatedAt:  time.Now(),
			Provenance: model.Confirmed,
		},
	}
}

func newPipeline(api *fakeChatAPI) *Pipeline {
	return NewPipeline(api, detector.New(), nil)
}

func TestSend_CleanContent_Committed(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{sendResult: assistantReply("conv-1", "hi there")}
	p := newPipeline(api)

	res, err := p.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Gated || res.Assistant == nil || res.Assistant.Content != "hi there" {
		t.Fatalf("unexpected result: %+v", res)
	}

	ts := p.Transcript()
	if len(ts) != 2 {
		t.Fatalf("transcript len = %d, want 2", len(ts))
	}
	if ts[0].Role != model.MessageRoleUser || ts[0].Provenance != model.Confirmed || ts[0].Content != "hello" {
		t.Fatalf("user entry: %+v", ts[0])
	}
	if ts[1].ID != "srv-msg-1" || ts[1].Role != model.MessageRoleAssistant {
		t.Fatalf("assistant entry: %+v", ts[1])
	}
	if c := p.Current(); c == nil || c.ID != "conv-1" {
		t.Fatalf("conversation not adopted: %+v", c)
	}
	if api.listCalls != 1 {
		t.Fatalf("conversation list not refreshed after lazy create")
	}
}

func TestSend_ExistingConversation_NoListRefresh(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{
		sendResult: assistantReply("conv-7", "ok"),
		conv:       model.Conversation{ID: "conv-7", Title: "t"},
	}
	p := newPipeline(api)
	if err := p.Open(context.Background(), "conv-7"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := p.Send(context.Background(), "hello again"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := api.sendCalls[0].conversationID; got != "conv-7" {
		t.Fatalf("conversation id sent = %q", got)
	}
	if api.listCalls != 0 {
		t.Fatalf("list refresh for an existing conversation")
	}
}

func TestSend_SensitiveContent_GatesWithoutDispatch(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{sendResult: assistantReply("conv-1", "x")}
	p := newPipeline(api)

	res, err := p.Send(context.Background(), "contact me at a@b.com")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Gated || res.Gate == nil {
		t.Fatalf("expected gated result, got %+v", res)
	}
	if len(api.sendCalls) != 0 {
		t.Fatalf("gated content was dispatched")
	}
	if len(p.Transcript()) != 0 {
		t.Fatalf("gated content appended to transcript")
	}
	if res.Gate.Masked != "contact me at a***@b.com" {
		t.Fatalf("gate masked = %q", res.Gate.Masked)
	}

	// a second send is refused while the gate is open
	if _, err := p.Send(context.Background(), "other"); !errors.Is(err, errs.ErrGatePending) {
		t.Fatalf("want ErrGatePending, got %v", err)
	}
}

func TestConfirmMasked_SendsMaskedText(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{sendResult: assistantReply("conv-1", "noted")}
	p := newPipeline(api)

	if _, err := p.Send(context.Background(), "my ssn is 123-45-6789"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	res, err := p.ConfirmMasked(context.Background())
	if err != nil {
		t.Fatalf("ConfirmMasked: %v", err)
	}
	if res.Gated || res.Assistant == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(api.sendCalls) != 1 || strings.Contains(api.sendCalls[0].message, "123-45-6789") {
		t.Fatalf("raw text leaked: %+v", api.sendCalls)
	}
	if !strings.Contains(api.sendCalls[0].message, "[masked ssn]") {
		t.Fatalf("masked text not sent: %q", api.sendCalls[0].message)
	}
	if p.PendingGate() != nil {
		t.Fatalf("gate not cleared after confirmation")
	}
}

func TestConfirmOriginal_SendsRawText(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{sendResult: assistantReply("conv-1", "noted")}
	p := newPipeline(api)

	if _, err := p.Send(context.Background(), "reach me at a@b.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := p.ConfirmOriginal(context.Background()); err != nil {
		t.Fatalf("ConfirmOriginal: %v", err)
	}
	if api.sendCalls[0].message != "reach me at a@b.com" {
		t.Fatalf("original text not sent: %q", api.sendCalls[0].message)
	}
}

func TestConfirm_WithoutGate(t *testing.T) {
	t.Parallel()
	p := newPipeline(&fakeChatAPI{})

	if _, err := p.ConfirmOriginal(context.Background()); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	if _, err := p.ConfirmMasked(context.Background()); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestCancel_LeavesTranscriptUnchanged(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{sendResult: assistantReply("conv-1", "first")}
	p := newPipeline(api)

	if _, err := p.Send(context.Background(), "harmless"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	before := p.Transcript()

	if _, err := p.Send(context.Background(), "call 555-123-4567"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	p.Cancel()

	if p.PendingGate() != nil {
		t.Fatalf("gate survived Cancel")
	}
	after := p.Transcript()
	if len(after) != len(before) {
		t.Fatalf("transcript changed by cancelled gate: %d -> %d", len(before), len(after))
	}
	if len(api.sendCalls) != 1 {
		t.Fatalf("cancelled gate dispatched a request")
	}
}

func TestSend_Failure_RollsBackOptimisticEntry(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{sendResult: assistantReply("conv-1", "ok")}
	p := newPipeline(api)

	if _, err := p.Send(context.Background(), "first"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	before := p.Transcript()

	api.sendErr = errs.ErrNetwork
	if _, err := p.Send(context.Background(), "second"); !errors.Is(err, errs.ErrNetwork) {
		t.Fatalf("want ErrNetwork, got %v", err)
	}

	after := p.Transcript()
	if len(after) != len(before) {
		t.Fatalf("transcript length %d -> %d after failed send", len(before), len(after))
	}
	for i := range after {
		if after[i].ID != before[i].ID {
			t.Fatalf("transcript mutated at %d: %+v vs %+v", i, before[i], after[i])
		}
		if after[i].Provenance == model.Optimistic {
			t.Fatalf("residual optimistic entry: %+v", after[i])
		}
	}
}

func TestSend_FailureOnEmptyTranscript(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{sendErr: errs.ErrServer}
	p := newPipeline(api)

	if _, err := p.Send(context.Background(), "hello"); !errors.Is(err, errs.ErrServer) {
		t.Fatalf("want ErrServer, got %v", err)
	}
	if len(p.Transcript()) != 0 {
		t.Fatalf("transcript not empty after rollback")
	}
	if p.Current() != nil {
		t.Fatalf("conversation adopted from a failed send")
	}
}

func TestNewConversation_ClearsEverything(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{sendResult: assistantReply("conv-1", "ok")}
	p := newPipeline(api)

	if _, err := p.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := p.Send(context.Background(), "mail a@b.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if p.PendingGate() == nil {
		t.Fatalf("expected a pending gate")
	}

	p.NewConversation()

	if p.Current() != nil || len(p.Transcript()) != 0 || p.PendingGate() != nil {
		t.Fatalf("NewConversation left state behind")
	}
}

func TestOpen_LoadsServerTranscriptAndClearsGate(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{
		conv: model.Conversation{ID: "conv-9", Title: "older chat"},
		convMsgs: []model.Message{
			{ID: "m1", Role: model.MessageRoleUser, Content: "hi", Provenance: model.Confirmed},
			{ID: "m2", Role: model.MessageRoleAssistant, Content: "hello", Provenance: model.Confirmed},
		},
	}
	p := newPipeline(api)

	if _, err := p.Send(context.Background(), "mail a@b.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := p.Open(context.Background(), "conv-9"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if p.PendingGate() != nil {
		t.Fatalf("gate leaked into the opened conversation")
	}
	ts := p.Transcript()
	if len(ts) != 2 || ts[0].ID != "m1" || ts[1].ID != "m2" {
		t.Fatalf("transcript = %+v", ts)
	}
	if c := p.Current(); c == nil || c.ID != "conv-9" {
		t.Fatalf("conversation = %+v", c)
	}
}

func TestDelete_ActiveConversationResetsState(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{sendResult: assistantReply("conv-1", "ok")}
	p := newPipeline(api)

	if _, err := p.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := p.Delete(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if p.Current() != nil || len(p.Transcript()) != 0 {
		t.Fatalf("active conversation state survived delete")
	}
}

func TestSend_EmptyContent(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{}
	p := newPipeline(api)

	if _, err := p.Send(context.Background(), ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	if len(api.sendCalls) != 0 {
		t.Fatalf("empty message dispatched")
	}
}

func TestCreate_BecomesActive(t *testing.T) {
	t.Parallel()
	api := &fakeChatAPI{
		conv:       model.Conversation{ID: "conv-9", Title: "notes"},
		sendResult: assistantReply("conv-9", "ok"),
	}
	p := newPipeline(api)

	conv, err := p.Create(context.Background(), "notes")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.ID != "conv-9" {
		t.Fatalf("conv = %+v", conv)
	}
	if c := p.Current(); c == nil || c.ID != "conv-9" {
		t.Fatalf("created conversation not active: %+v", c)
	}

	// sends go to the created conversation, no lazy create
	if _, err := p.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if api.sendCalls[0].conversationID != "conv-9" {
		t.Fatalf("send targeted %q", api.sendCalls[0].conversationID)
	}
	if api.listCalls != 0 {
		t.Fatalf("list refresh after explicit create")
	}
}
