package domain

import "time"

// User описывает участника команды.
type User struct {
	ID        string
	Email     string
	Username  string
	Avatar    string
	TeamID    string
	CreatedAt time.Time
}

// Author содержит публичные поля автора для вложения в сообщение.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Channel описывает канал команды.
type Channel struct {
	ID        string
	Name      string
	TeamID    string
	CreatedAt time.Time
}

// Thread описывает ветку обсуждения, привязанную к корневому сообщению.
type Thread struct {
	ID        string
	ChannelID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message представляет сообщение в канале или ветке.
type Message struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	ChannelID string     `json:"channel_id"`
	ThreadID  string     `json:"thread_id,omitempty"`
	Author    Author     `json:"author"`
	Reactions []Reaction `json:"reactions"`
	CreatedAt time.Time  `json:"created_at"`
}

// Reaction описывает реакцию пользователя на сообщение.
// На тройку (пользователь, сообщение, эмодзи) существует не более одной записи.
type Reaction struct {
	ID        string    `json:"id"`
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary содержит сохранённый результат суммаризации ветки.
type Summary struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity представляет проверенную личность подключившегося клиента.
type Identity struct {
	UserID   string
	TeamID   string
	Username string
}
