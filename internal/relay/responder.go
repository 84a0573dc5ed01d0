package relay

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"online-cinema-support/backend/internal/chat"
)

// supportUserID is the author id stamped on relay-generated messages.
const supportUserID = "support"

// Responder produces the support side of a conversation. The scripted
// implementation below stands in for a real operator-routing policy; the
// connection, heartbeat and reconnect contracts do not depend on which
// one is plugged in.
type Responder interface {
	// Welcome produces the greeting pushed after a user joins.
	Welcome(chatID string) chat.Message
	// Reply produces the response to one inbound user message.
	Reply(incoming chat.Message) chat.Message
}

const welcomeText = "Здравствуйте! Я оператор службы поддержки. Чем могу помочь?"

var scriptedReplies = []string{
	"Благодарю за обращение. Рассматриваю ваш вопрос.",
	"Понятно. Сейчас проверю информацию по вашей проблеме.",
	"Я передал ваше обращение специалисту. Ожидайте ответа.",
	"Мы работаем над решением вашего вопроса.",
	"Спасибо за предоставленную информацию.",
	"Можете предоставить больше деталей о проблеме?",
	"Попробуйте перезагрузить страницу и повторить действие.",
	"Ваш запрос обрабатывается. Это займет несколько минут.",
}

// ScriptedResponder answers every message with a canned reply picked
// uniformly at random.
type ScriptedResponder struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewScriptedResponder creates a responder with its own random source.
func NewScriptedResponder() *ScriptedResponder {
	return &ScriptedResponder{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *ScriptedResponder) Welcome(chatID string) chat.Message {
	return supportMessage(chatID, welcomeText)
}

func (r *ScriptedResponder) Reply(incoming chat.Message) chat.Message {
	r.mu.Lock()
	text := scriptedReplies[r.rnd.Intn(len(scriptedReplies))]
	r.mu.Unlock()
	return supportMessage(incoming.ChatID, text)
}

func supportMessage(chatID, content string) chat.Message {
	return chat.Message{
		ID:            uuid.New().String(),
		UserID:        supportUserID,
		ChatID:        chatID,
		Content:       content,
		Type:          chat.TypeText,
		Timestamp:     time.Now().UnixMilli(),
		IsFromSupport: true,
	}
}
