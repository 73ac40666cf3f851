package domain

import "fmt"

// Области ограничения частоты запросов
const (
	RateLimitScopeAuth     = "auth"
	RateLimitScopeMessages = "messages"
)

const (
	RateLimitSubjectIP   = "ip"
	RateLimitSubjectUser = "user"
)

// RateLimitKey - ключ счетчика окна, например messages:user:<id>.
// REST и WebSocket используют одинаковые ключи, поэтому лимит у них общий.
func RateLimitKey(scope, subject string, id any) string {
	return fmt.Sprintf("%s:%s:%v", scope, subject, id)
}
