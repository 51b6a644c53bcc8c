package messages

import "time"

// sendMessageRequest represents a chat line typed by a user
type sendMessageRequest struct {
	Username string `json:"username" example:"john_doe" maxLength:"50"`                      // Sender display name
	Content  string `json:"content" example:"/stock=aapl.us" minLength:"1" maxLength:"2000"` // Message text or /stock= command
}

// sendMessageResponse carries the private notice for the sender, if any
type sendMessageResponse struct {
	Notice string `json:"notice,omitempty" example:"Looking up stock quote for AAPL.US..."` // System notice shown only to the sender
}

// messageResponse represents a stored chat record
type messageResponse struct {
	ID        string    `json:"id" example:"550e8400-e29b-41d4-a716-446655440003"`   // Unique message identifier
	RoomID    string    `json:"roomId" example:"lobby"`                              // Room the message belongs to
	Username  string    `json:"username" example:"StockBot"`                         // Author
	Content   string    `json:"content" example:"AAPL.US quote is $93.42 per share"` // Message content
	IsQuote   bool      `json:"isQuote" example:"true"`                              // Posted by the stock bot
	CreatedAt time.Time `json:"createdAt"`                                           // Message timestamp
}
