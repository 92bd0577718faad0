package realtime

import "encoding/json"

// Типы входящих событий клиента.
const (
	frameAuth        = "auth"
	frameJoin        = "channel:join"
	frameLeave       = "channel:leave"
	frameSendMessage = "message:send"
	frameReaction    = "reaction:toggle"
	frameTypingStart = "typing:start"
	frameTypingStop  = "typing:stop"
)

// wireFrame — кадр протокола в обе стороны: тип события плюс данные.
type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type authPayload struct {
	Token string `json:"token"`
}

type channelPayload struct {
	ChannelID string `json:"channel_id"`
}

type sendMessagePayload struct {
	Content   string `json:"content"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`
}

type reactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}
