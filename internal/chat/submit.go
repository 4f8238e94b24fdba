package chat

import (
	"context"
	"fmt"

	"github.com/agentfloor/agentfloor/internal/queue"
)

// SubmitResult reports where an asynchronous message was queued.
type SubmitResult struct {
	ConversationID string   `json:"conversationId"`
	MessageID      string   `json:"messageId"`
	QueueItemIDs   []string `json:"queueItemIds"`
}

// Submit records the user message like Prepare but, instead of calling
// vendors, queues it for each agent's relay to pick up on its next poll.
func (o *Orchestrator) Submit(ctx context.Context, orgID string, req Request) (*SubmitResult, error) {
	if o.queue == nil {
		return nil, fmt.Errorf("chat: submit: no queue configured")
	}
	conv, agents, msg, err := o.accept(ctx, orgID, req)
	if err != nil {
		return nil, err
	}
	res := &SubmitResult{ConversationID: conv.ID, MessageID: msg.ID, QueueItemIDs: make([]string, 0, len(agents))}
	for _, a := range agents {
		item, err := o.queue.Enqueue(ctx, queue.EnqueueOpts{
			AgentID:        a.ID,
			ConversationID: conv.ID,
			Content:        msg.Content,
			UserMessageID:  msg.ID,
		})
		if err != nil {
			return nil, err
		}
		res.QueueItemIDs = append(res.QueueItemIDs, item.ID)
	}
	o.log.Debug().Str("conversation", conv.ID).Int("agents", len(agents)).Msg("queued")
	return res, nil
}
