// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт состояния (ресурс уже существует или неизменяем).
	ErrConflict = errors.New("конфликт состояния ресурса")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrForbidden — доступ запрещён. Причина отказа наружу не сообщается.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrIDPUnavailable — Identity Provider (Keycloak) недоступен или вернул ошибку.
	ErrIDPUnavailable = errors.New("Identity Provider недоступен")
	// ErrUnsupportedFilter — тип поля не поддерживается фильтром.
	ErrUnsupportedFilter = errors.New("фильтр по полю не поддерживается")
)
