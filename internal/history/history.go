// Package history keeps per-user chat, image, and code records. The store
// is in-memory; the maps are guarded so concurrent requests appending to the
// same conversation serialize instead of racing.
package history

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one stored turn of a conversation.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
}

// Chat is a stored conversation.
type Chat struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	UserID    string        `json:"userId"`
	Messages  []ChatMessage `json:"messages"`
	Model     string        `json:"model,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ImageRecord is one stored generation result.
type ImageRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negativePrompt,omitempty"`
	Size           string    `json:"size"`
	Model          string    `json:"model"`
	Images         []string  `json:"images"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CodeRecord stores one code-assistance result.
type CodeRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"` // analysis, generation, optimization, explanation
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	Result    string    `json:"result"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store holds all record families.
type Store struct {
	mu     sync.RWMutex
	chats  map[string]*Chat
	images map[string]ImageRecord
	code   map[string]CodeRecord
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		chats:  make(map[string]*Chat),
		images: make(map[string]ImageRecord),
		code:   make(map[string]CodeRecord),
	}
}

// CreateChat starts a new conversation for the user. Long first messages
// are truncated into the title.
func (s *Store) CreateChat(userID, title string) Chat {
	// Truncate on runes, not bytes; titles are often CJK.
	if runes := []rune(title); len(runes) > 30 {
		title = string(runes[:30]) + "..."
	}
	now := time.Now()
	chat := &Chat{
		ID:        uuid.New().String(),
		Title:     strings.TrimSpace(title),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.chats[chat.ID] = chat
	s.mu.Unlock()
	return *chat
}

// Chat returns a copy of the conversation, or false when unknown or owned
// by another user.
func (s *Store) Chat(userID, chatID string) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return Chat{}, false
	}
	return cloneChat(chat), true
}

// AppendExchange appends the user message and the assistant reply in one
// critical section so concurrent sends cannot interleave within a turn.
func (s *Store) AppendExchange(userID, chatID string, userMsg, assistantMsg ChatMessage) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return Chat{}, false
	}
	chat.Messages = append(chat.Messages, userMsg, assistantMsg)
	chat.UpdatedAt = time.Now()
	if assistantMsg.Model != "" {
		chat.Model = assistantMsg.Model
	}
	return cloneChat(chat), true
}

// Chats lists the user's conversations, most recently updated first.
func (s *Store) Chats(userID string) []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chats []Chat
	for _, chat := range s.chats {
		if chat.UserID == userID {
			chats = append(chats, cloneChat(chat))
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].UpdatedAt.After(chats[j].UpdatedAt) })
	return chats
}

// RenameChat updates the title. Returns false when the chat is unknown.
func (s *Store) RenameChat(userID, chatID, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return false
	}
	chat.Title = strings.TrimSpace(title)
	chat.UpdatedAt = time.Now()
	return true
}

// DeleteChat removes a conversation. Returns false when the chat is unknown.
func (s *Store) DeleteChat(userID, chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return false
	}
	delete(s.chats, chatID)
	return true
}

// AddImage stores a generation result and returns it with an assigned id.
func (s *Store) AddImage(record ImageRecord) ImageRecord {
	record.ID = uuid.New().String()
	record.CreatedAt = time.Now()
	s.mu.Lock()
	s.images[record.ID] = record
	s.mu.Unlock()
	return record
}

// Images lists the user's image records, newest first.
func (s *Store) Images(userID string) []ImageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []ImageRecord
	for _, record := range s.images {
		if record.UserID == userID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	return records
}

// DeleteImage removes an image record. Returns false when unknown.
func (s *Store) DeleteImage(userID, imageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.images[imageID]
	if !ok || record.UserID != userID {
		return false
	}
	delete(s.images, imageID)
	return true
}

// AddCode stores a code-assistance result and returns it with an assigned id.
func (s *Store) AddCode(record CodeRecord) CodeRecord {
	record.ID = uuid.New().String()
	record.CreatedAt = time.Now()
	s.mu.Lock()
	s.code[record.ID] = record
	s.mu.Unlock()
	return record
}

// CodeRecords lists the user's code records, newest first.
func (s *Store) CodeRecords(userID string) []CodeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []CodeRecord
	for _, record := range s.code {
		if record.UserID == userID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	return records
}

func cloneChat(chat *Chat) Chat {
	copied := *chat
	copied.Messages = append([]ChatMessage(nil), chat.Messages...)
	return copied
}
