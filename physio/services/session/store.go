package session

import (
	"context"
	"io"

	"physio/physio/types"
	utiltypes "physio/physio/utils/types"
)

// Store is the durable ConversationStore the controller persists through.
type Store interface {
	CreateConversation(ctx context.Context, patientID, title string) (*types.Conversation, error)
	AppendMessage(ctx context.Context, msg types.Message) (*types.Message, error)
	GetConversation(ctx context.Context, id string) (*types.Conversation, error)
	ListConversations(ctx context.Context, patientID string) ([]types.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error
	TouchConversation(ctx context.Context, id string) error
	UpdateTitle(ctx context.Context, id, title string) error
}

// CompletionGateway opens a streamed completion. The returned body yields raw
// UTF-8 text; closing it releases the request.
type CompletionGateway interface {
	OpenStream(ctx context.Context, req utiltypes.CompletionRequest) (io.ReadCloser, error)
}
