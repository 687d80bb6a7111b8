// Пакет model — доменные модели Metaform API: ответы, типизированные поля,
// определения форм, вложения и области доступа.
package model

import "time"

// Reply — ответ на форму (одна отправка).
// Хранится в таблице replies.
type Reply struct {
	// ID — UUID ответа
	ID string
	// MetaformID — UUID формы, к которой относится ответ
	MetaformID string
	// UserID — Keycloak ID отправителя (nil для анонимного ответа)
	UserID *string
	// Revision — время, когда ответ стал исторической ревизией.
	// nil у актуального ответа; ревизии неизменяемы.
	Revision *time.Time
	// ResourceID — ID защищённого ресурса в Keycloak Authorization Services
	ResourceID *string
	// PrivateKey — приватный ключ owner-key (PKCS#8 DER), nil если ключ не выдавался
	PrivateKey []byte
	// CreatedBy — кто создал ответ
	CreatedBy *string
	// LastModifiedBy — кто последним изменил ответ
	LastModifiedBy *string
	// CreatedAt — время создания
	CreatedAt time.Time
	// ModifiedAt — время последнего изменения
	ModifiedAt time.Time
}

// IsRevision сообщает, является ли ответ исторической ревизией.
func (r *Reply) IsRevision() bool {
	return r.Revision != nil
}

// IsAnonymous сообщает, отправлен ли ответ без входа в систему.
func (r *Reply) IsAnonymous() bool {
	return r.UserID == nil
}

// ReplyStrategy — поведение при повторной отправке формы тем же пользователем.
type ReplyStrategy string

const (
	// ReplyStrategyUpdate — актуальный ответ перезаписывается.
	ReplyStrategyUpdate ReplyStrategy = "UPDATE"
	// ReplyStrategyRevision — актуальный ответ становится ревизией, создаётся новый.
	ReplyStrategyRevision ReplyStrategy = "REVISION"
	// ReplyStrategyCumulative — каждая отправка создаёт новый ответ.
	ReplyStrategyCumulative ReplyStrategy = "CUMULATIVE"
)

// IsValid проверяет, что стратегия известна.
func (s ReplyStrategy) IsValid() bool {
	switch s {
	case ReplyStrategyUpdate, ReplyStrategyRevision, ReplyStrategyCumulative:
		return true
	}
	return false
}

// ReplyListFilter — базовые ограничения выборки ответов.
// Все указатели опциональны: nil — фильтр не применяется.
type ReplyListFilter struct {
	MetaformID string
	UserID     *string
	// IncludeRevisions — включать исторические ревизии (по умолчанию только актуальные)
	IncludeRevisions bool
	CreatedBefore    *time.Time
	CreatedAfter     *time.Time
	ModifiedBefore   *time.Time
	ModifiedAfter    *time.Time
	// Fields — фильтры по значениям полей (объединяются через AND)
	Fields []FieldFilter
}
