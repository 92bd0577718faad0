package domain

// EventKind задаёт тип доменного события.
type EventKind string

const (
	// EventMessageNew — в канале появилось новое сообщение.
	EventMessageNew EventKind = "message:new"
	// EventReactionAdded — к сообщению добавлена реакция.
	EventReactionAdded EventKind = "reaction:added"
	// EventReactionRemoved — реакция снята с сообщения.
	EventReactionRemoved EventKind = "reaction:removed"
	// EventTypingStart — пользователь начал набирать текст.
	EventTypingStart EventKind = "typing:start"
	// EventTypingStop — пользователь перестал набирать текст.
	EventTypingStop EventKind = "typing:stop"
	// EventUserOnline — пользователь подключился к команде.
	EventUserOnline EventKind = "user:online"
	// EventUserOffline — пользователь отключился.
	EventUserOffline EventKind = "user:offline"
	// EventAuthOK — подтверждение успешной аутентификации.
	EventAuthOK EventKind = "auth:ok"
	// EventChannelJoined — подтверждение входа в канал.
	EventChannelJoined EventKind = "channel:joined"
	// EventChannelLeft — подтверждение выхода из канала.
	EventChannelLeft EventKind = "channel:left"
	// EventSummaryReady — готова суммаризация ветки.
	EventSummaryReady EventKind = "summary:ready"
	// EventError — ошибка, адресованная только отправителю.
	EventError EventKind = "error"
)

// Event — неизменяемое доменное событие: тип плюс полезная нагрузка.
// Полезная нагрузка всегда сериализуема в JSON.
type Event struct {
	Kind EventKind `json:"event"`
	Data any       `json:"data"`
}

// ReactionRemovedPayload описывает снятую реакцию.
type ReactionRemovedPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
}

// TypingPayload описывает индикатор набора текста.
type TypingPayload struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	ChannelID string `json:"channel_id"`
}

// PresencePayload описывает смену присутствия пользователя.
type PresencePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ChannelPayload подтверждает вход или выход из канала.
type ChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

// SummaryReadyPayload сообщает о готовой суммаризации.
type SummaryReadyPayload struct {
	JobID     string  `json:"job_id"`
	ThreadID  string  `json:"thread_id"`
	ChannelID string  `json:"channel_id"`
	Summary   Summary `json:"summary"`
}

// ErrorPayload содержит текст ошибки для отправителя.
type ErrorPayload struct {
	Message string `json:"message"`
}

// TeamRoom возвращает ключ комнаты всей команды.
func TeamRoom(teamID string) string { return "team:" + teamID }

// ChannelRoom возвращает ключ комнаты канала.
func ChannelRoom(channelID string) string { return "channel:" + channelID }
