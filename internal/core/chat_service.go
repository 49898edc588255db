package core

import (
	"go.uber.org/zap"

	"github.com/okchat/okchat/internal/store"
)

// titleMaxLen is how much of the first user message becomes the chat title
// before an ellipsis marker is appended.
const titleMaxLen = 30

// ChatService owns chat threads and their message sequences.
type ChatService struct {
	dbStore *store.SQLiteStore
	logger  *zap.Logger
}

func NewChatService(db *store.SQLiteStore, logger *zap.Logger) *ChatService {
	return &ChatService{dbStore: db, logger: logger}
}

func (s *ChatService) CreateChat(userID int64) (*store.Chat, error) {
	return s.dbStore.CreateChat(userID)
}

func (s *ChatService) ListChats(userID int64) ([]store.Chat, error) {
	return s.dbStore.GetChatsByUserID(userID)
}

// AppendMessage adds a message to the end of the chat. The first user
// message into a titleless chat also sets the chat title, atomically with
// the append. The original client sends "bot" for assistant turns; that
// spelling is normalized here.
func (s *ChatService) AppendMessage(chatID string, userID int64, sender, text string) (*store.Message, error) {
	switch sender {
	case store.SenderUser, store.SenderAssistant:
	case "bot", "model":
		sender = store.SenderAssistant
	default:
		return nil, ErrInvalidSender
	}

	var titleIfUnset *string
	if sender == store.SenderUser {
		title := deriveTitle(text)
		titleIfUnset = &title
	}
	return s.dbStore.AppendMessage(chatID, userID, sender, text, titleIfUnset)
}

func (s *ChatService) EditMessage(chatID string, userID int64, index int, newText string) error {
	return s.dbStore.EditMessage(chatID, userID, index, newText)
}

func (s *ChatService) DeleteMessage(chatID string, userID int64, index int) error {
	return s.dbStore.DeleteMessage(chatID, userID, index)
}

// deriveTitle takes the first titleMaxLen characters of the message,
// marking truncation with an ellipsis.
func deriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleMaxLen {
		return text
	}
	return string(runes[:titleMaxLen]) + "..."
}
