package model

import "time"

// Attachment — двоичное вложение. Неизменяемо после создания.
// Не принадлежит конкретному ответу: на одно вложение могут ссылаться несколько полей.
type Attachment struct {
	// ID — UUID вложения
	ID string
	// UserID — Keycloak ID загрузившего пользователя (nil для анонимной загрузки)
	UserID *string
	// Name — исходное имя файла
	Name string
	// ContentType — MIME-тип
	ContentType string
	// Size — размер содержимого в байтах
	Size int64
	// Content — содержимое; заполняется только при явном чтении данных
	Content []byte
	// CreatedAt — время загрузки
	CreatedAt time.Time
}
