package domain

// CreateConversationRequest represents a create conversation request.
type CreateConversationRequest struct {
	Area string `json:"area" binding:"max=64"`
}

// ListConversationsRequest represents a list conversations request.
// Pages are zero-based.
type ListConversationsRequest struct {
	Page     int    `form:"page" binding:"min=0"`
	PageSize int    `form:"page_size" binding:"min=0"`
	Query    string `form:"q" binding:"max=120"`
}

// ListMessagesRequest pages backwards from the newest message; page 0 is the latest.
type ListMessagesRequest struct {
	Page     int `form:"page" binding:"min=0"`
	PageSize int `form:"page_size" binding:"min=0"`
}

// SendMessageRequest represents a send message request.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// ConversationSummary is a conversation as seen by one participant.
type ConversationSummary struct {
	Conversation
	CounterpartName string `json:"counterpart_name"`
	UnreadCount     int    `json:"unread_count"`
}

// ConversationPage is one page of a participant's conversations, most recent first.
type ConversationPage struct {
	Conversations []ConversationSummary `json:"conversations"`
	Page          int                   `json:"page"`
	PageSize      int                   `json:"page_size"`
	HasMore       bool                  `json:"has_more"`
}

// MessagePage is one page of messages in chronological order.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	HasMore  bool      `json:"has_more"`
}

// OpenConversationResult is what a client needs to render a freshly opened conversation.
type OpenConversationResult struct {
	Conversation ConversationSummary `json:"conversation"`
	Messages     MessagePage         `json:"messages"`
	MarkedRead   int                 `json:"marked_read"`
}

// ToSummary builds the view of c for the given participant class.
func (c *Conversation) ToSummary(class SenderClass, unread int) ConversationSummary {
	return ConversationSummary{
		Conversation:    *c,
		CounterpartName: c.CounterpartName(class),
		UnreadCount:     unread,
	}
}
