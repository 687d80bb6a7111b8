// metaforms.go — провайдер определений форм.
// Определения читаются из БД и кэшируются в LRU с TTL
// (hashicorp/golang-lru/v2/expirable). Кэш per-instance.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
	"github.com/Metatavu/metaform-api-sub001/internal/repository"
)

// Prometheus-метрики кэша форм.
var (
	metaformCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mf_metaform_cache_hits_total",
		Help: "Общее количество попаданий в кэш определений форм.",
	})
	metaformCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mf_metaform_cache_misses_total",
		Help: "Общее количество промахов кэша определений форм.",
	})
)

// MetaformProvider — источник определений форм для ядра ответов.
type MetaformProvider interface {
	Get(ctx context.Context, id string) (*model.Metaform, error)
}

// MetaformService — сервис определений форм с LRU-кэшем.
type MetaformService struct {
	repo   repository.MetaformRepository
	cache  *expirable.LRU[string, *model.Metaform]
	logger *slog.Logger
}

// NewMetaformService создаёт сервис форм.
// cacheSize — максимальное количество форм в кэше, ttl — время жизни записи.
func NewMetaformService(
	repo repository.MetaformRepository,
	cacheSize int,
	ttl time.Duration,
	logger *slog.Logger,
) *MetaformService {
	return &MetaformService{
		repo:   repo,
		cache:  expirable.NewLRU[string, *model.Metaform](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "metaform_service")),
	}
}

// Create проверяет и сохраняет определение формы.
func (s *MetaformService) Create(ctx context.Context, form *model.Metaform, createdBy string) (*model.Metaform, error) {
	if err := validateMetaform(form); err != nil {
		return nil, err
	}

	form.ID = uuid.New().String()
	if createdBy != "" {
		form.CreatedBy = &createdBy
	}

	if err := s.repo.Create(ctx, form); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: форма со slug '%s' уже существует", ErrConflict, form.Slug)
		}
		return nil, fmt.Errorf("сохранение формы: %w", err)
	}

	s.cache.Add(form.ID, form)
	s.logger.Info("Форма создана",
		slog.String("metaform_id", form.ID),
		slog.String("slug", form.Slug),
	)
	return form, nil
}

// Get возвращает определение формы по ID, сначала из кэша.
func (s *MetaformService) Get(ctx context.Context, id string) (*model.Metaform, error) {
	if form, ok := s.cache.Get(id); ok {
		metaformCacheHitsTotal.Inc()
		return form, nil
	}
	metaformCacheMissesTotal.Inc()

	form, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: форма %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение формы: %w", err)
	}

	s.cache.Add(id, form)
	return form, nil
}

// Invalidate удаляет форму из кэша.
func (s *MetaformService) Invalidate(id string) {
	s.cache.Remove(id)
}

// validateMetaform проверяет определение: стратегию ответа, уникальность имён полей,
// столбцы таблиц и варианты выбора.
func validateMetaform(form *model.Metaform) error {
	if form.ReplyStrategy != "" && !form.ReplyStrategy.IsValid() {
		return fmt.Errorf("%w: неизвестная стратегия ответа %q", ErrValidation, form.ReplyStrategy)
	}
	if strings.TrimSpace(form.Slug) == "" {
		return fmt.Errorf("%w: slug не может быть пустым", ErrValidation)
	}

	seen := make(map[string]bool)
	for _, f := range form.Fields() {
		if seen[f.Name] {
			return fmt.Errorf("%w: поле %q объявлено несколько раз", ErrValidation, f.Name)
		}
		seen[f.Name] = true

		st, stored := model.StorageType(f.Type)
		if !stored {
			continue
		}
		if st == model.FieldTypeTable {
			if len(f.Columns) == 0 {
				return fmt.Errorf("%w: таблица %q без столбцов", ErrValidation, f.Name)
			}
			columns := make(map[string]bool, len(f.Columns))
			for _, c := range f.Columns {
				if c.Name == "" || columns[c.Name] {
					return fmt.Errorf("%w: таблица %q: пустое или повторное имя столбца", ErrValidation, f.Name)
				}
				columns[c.Name] = true
			}
		}
		for _, opt := range f.Options {
			if opt.Name == "" {
				return fmt.Errorf("%w: поле %q: вариант без имени", ErrValidation, f.Name)
			}
		}
	}
	return nil
}
