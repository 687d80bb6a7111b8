// replies.go — жизненный цикл ответов: создание с учётом стратегии формы,
// обновление, удаление цепочки ревизий, чтение, выборка с фильтрами по полям,
// проверка доступа (роль администратора, owner-key, UMA).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
	"github.com/Metatavu/metaform-api-sub001/internal/repository"
)

var replyFilterDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mf_reply_filter_dropped_total",
	Help: "Количество фильтров по полям, отброшенных в режиме best effort.",
})

// OwnerKeyIssuer — выпуск и проверка owner-key.
type OwnerKeyIssuer interface {
	Issue() (privateKey []byte, token string, err error)
	Validate(privateKey []byte, token string) bool
}

// Principal — вызывающая сторона.
type Principal struct {
	// UserID — Keycloak subject; пустой у анонимного пользователя
	UserID string
	// Admin — есть роль администратора форм
	Admin bool
	// Token — access token пользователя (для UMA)
	Token string
	// OwnerKey — предъявленный owner-key (заголовок X-Owner-Key)
	OwnerKey string
}

// Anonymous сообщает, что вызов без входа в систему.
func (p Principal) Anonymous() bool {
	return p.UserID == ""
}

// ReplyWithFields — ответ вместе со значениями полей.
type ReplyWithFields struct {
	*model.Reply
	Fields []model.Field
	// OwnerKey — выданный owner-key; заполняется только при создании ответа
	OwnerKey string
}

// FieldQuery — фильтр по полю до разрешения объявленного типа.
type FieldQuery struct {
	Field    string
	Operator model.FilterOperator
	Value    string
}

// ListQuery — параметры выборки ответов.
type ListQuery struct {
	MetaformID       string
	UserID           *string
	IncludeRevisions bool
	CreatedBefore    *time.Time
	CreatedAfter     *time.Time
	ModifiedBefore   *time.Time
	ModifiedAfter    *time.Time
	Fields           []FieldQuery
	// BestEffort — отбрасывать фильтры по неподдерживаемым типам вместо ошибки
	BestEffort bool
}

// ReplyService — контроллер жизненного цикла ответов.
type ReplyService struct {
	store      repository.Store
	forms      MetaformProvider
	perms      ReplyPermissions
	keys       OwnerKeyIssuer
	bestEffort bool
	now        func() time.Time
	logger     *slog.Logger
}

// NewReplyService создаёт сервис ответов.
// bestEffort — режим фильтров по умолчанию (MF_FILTER_BEST_EFFORT).
func NewReplyService(
	store repository.Store,
	forms MetaformProvider,
	perms ReplyPermissions,
	keys OwnerKeyIssuer,
	bestEffort bool,
	logger *slog.Logger,
) *ReplyService {
	return &ReplyService{
		store:      store,
		forms:      forms,
		perms:      perms,
		keys:       keys,
		bestEffort: bestEffort,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With(slog.String("component", "reply_service")),
	}
}

// Create сохраняет отправку формы.
//
// Анонимная отправка всегда создаёт новый ответ и получает owner-key.
// Для вошедшего пользователя поведение зависит от стратегии формы:
//   - UPDATE — актуальный ответ перезаписывается;
//   - REVISION, CUMULATIVE — актуальный ответ становится ревизией, создаётся новый.
func (s *ReplyService) Create(
	ctx context.Context,
	p Principal,
	metaformID string,
	values map[string]model.FieldValue,
) (*ReplyWithFields, error) {
	form, err := s.forms.Get(ctx, metaformID)
	if err != nil {
		return nil, err
	}
	if p.Anonymous() && !form.AllowAnonymous {
		return nil, ErrForbidden
	}
	if err := validateValues(form, values); err != nil {
		return nil, err
	}

	var result *ReplyWithFields
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		var current *model.Reply
		if !p.Anonymous() {
			current, err = tx.Replies().FindCurrent(ctx, metaformID, p.UserID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}

		if current != nil {
			switch form.EffectiveReplyStrategy() {
			case model.ReplyStrategyUpdate:
				result, err = s.rewrite(ctx, tx, form, current, p, values)
				return err
			default:
				if err := tx.Replies().MarkRevision(ctx, current.ID, s.now()); err != nil {
					return fmt.Errorf("перевод ответа %s в ревизию: %w", current.ID, err)
				}
			}
		}

		result, err = s.createReply(ctx, tx, form, p, values)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("Ответ сохранён",
		slog.String("reply_id", result.ID),
		slog.String("metaform_id", metaformID),
		slog.Bool("anonymous", p.Anonymous()),
	)
	return result, nil
}

// createReply создаёт новый актуальный ответ, его поля и права.
func (s *ReplyService) createReply(
	ctx context.Context,
	tx repository.Store,
	form *model.Metaform,
	p Principal,
	values map[string]model.FieldValue,
) (*ReplyWithFields, error) {
	reply := &model.Reply{
		ID:         uuid.New().String(),
		MetaformID: form.ID,
	}
	if !p.Anonymous() {
		reply.UserID = &p.UserID
		reply.CreatedBy = &p.UserID
		reply.LastModifiedBy = &p.UserID
	}

	var ownerKey string
	if p.Anonymous() {
		privateKey, token, err := s.keys.Issue()
		if err != nil {
			return nil, fmt.Errorf("выпуск owner-key: %w", err)
		}
		reply.PrivateKey = privateKey
		ownerKey = token
	}

	if err := tx.Replies().Create(ctx, reply); err != nil {
		return nil, err
	}
	if err := writeFields(ctx, tx, reply.ID, values); err != nil {
		return nil, err
	}
	if err := s.syncPermissions(ctx, tx, form, reply, values); err != nil {
		return nil, err
	}

	fields, err := tx.Fields().ListFields(ctx, reply.ID)
	if err != nil {
		return nil, err
	}
	return &ReplyWithFields{Reply: reply, Fields: fields, OwnerKey: ownerKey}, nil
}

// rewrite заменяет поля существующего актуального ответа.
func (s *ReplyService) rewrite(
	ctx context.Context,
	tx repository.Store,
	form *model.Metaform,
	reply *model.Reply,
	p Principal,
	values map[string]model.FieldValue,
) (*ReplyWithFields, error) {
	if err := writeFields(ctx, tx, reply.ID, values); err != nil {
		return nil, err
	}

	var modifiedBy *string
	if !p.Anonymous() {
		modifiedBy = &p.UserID
	}
	if err := tx.Replies().Touch(ctx, reply.ID, modifiedBy); err != nil {
		return nil, err
	}
	if err := s.syncPermissions(ctx, tx, form, reply, values); err != nil {
		return nil, err
	}

	updated, err := tx.Replies().GetByID(ctx, reply.ID)
	if err != nil {
		return nil, err
	}
	fields, err := tx.Fields().ListFields(ctx, reply.ID)
	if err != nil {
		return nil, err
	}
	return &ReplyWithFields{Reply: updated, Fields: fields}, nil
}

// syncPermissions проецирует права и запоминает ID ресурса при первой синхронизации.
func (s *ReplyService) syncPermissions(
	ctx context.Context,
	tx repository.Store,
	form *model.Metaform,
	reply *model.Reply,
	values map[string]model.FieldValue,
) error {
	resourceID, err := s.perms.Sync(ctx, form, reply, values)
	if err != nil {
		return err
	}
	if reply.ResourceID != nil && *reply.ResourceID == resourceID {
		return nil
	}
	if err := tx.Replies().SetResourceID(ctx, reply.ID, resourceID); err != nil {
		return err
	}
	reply.ResourceID = &resourceID
	return nil
}

// writeFields записывает значения и удаляет поля, не вошедшие в отправку.
func writeFields(ctx context.Context, tx repository.Store, replyID string, values map[string]model.FieldValue) error {
	existing, err := tx.Fields().ListFieldNames(ctx, replyID)
	if err != nil {
		return err
	}
	var stale []string
	for _, name := range existing {
		if _, ok := values[name]; !ok {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		if err := tx.Fields().DeleteFields(ctx, replyID, stale); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := tx.Fields().SetField(ctx, replyID, name, values[name]); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: поле %q ссылается на несуществующее вложение", ErrValidation, name)
			}
			return err
		}
	}
	return nil
}

// Update перезаписывает поля актуального ответа. Ревизии неизменяемы.
// data разбирается по определению формы только после проверки доступа,
// поэтому без прав на ответ ошибка всегда ErrForbidden.
func (s *ReplyService) Update(
	ctx context.Context,
	p Principal,
	metaformID, replyID string,
	data map[string]any,
) (*ReplyWithFields, error) {
	form, err := s.forms.Get(ctx, metaformID)
	if err != nil {
		return nil, err
	}

	var result *ReplyWithFields
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		reply, err := s.findReply(ctx, tx, metaformID, replyID)
		if err != nil {
			return err
		}
		if err := s.checkAccess(ctx, p, reply, model.ScopeEdit); err != nil {
			return err
		}
		if reply.IsRevision() {
			return fmt.Errorf("%w: ревизия ответа неизменяема", ErrConflict)
		}

		values, err := DecodeValues(form, data)
		if err != nil {
			return err
		}
		if err := validateValues(form, values); err != nil {
			return err
		}
		result, err = s.rewrite(ctx, tx, form, reply, p, values)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("Ответ обновлён",
		slog.String("reply_id", replyID),
		slog.String("metaform_id", metaformID),
	)
	return result, nil
}

// Get возвращает ответ со значениями полей.
func (s *ReplyService) Get(ctx context.Context, p Principal, metaformID, replyID string) (*ReplyWithFields, error) {
	reply, err := s.findReply(ctx, s.store, metaformID, replyID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := s.checkAccess(ctx, p, reply, model.ScopeView); err != nil {
		return nil, err
	}

	fields, err := s.store.Fields().ListFields(ctx, reply.ID)
	if err != nil {
		return nil, fmt.Errorf("чтение полей ответа: %w", err)
	}
	return &ReplyWithFields{Reply: reply, Fields: fields}, nil
}

// Delete удаляет ответ.
// Администратор удаляет всю цепочку: актуальный ответ и все ревизии отправителя.
// Остальным доступно удаление только актуального ответа при праве EDIT на него,
// ревизии остаются. Ресурсы Keycloak удаляются после фиксации транзакции.
func (s *ReplyService) Delete(ctx context.Context, p Principal, metaformID, replyID string) error {
	var removed []*model.Reply
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		reply, err := s.findReply(ctx, tx, metaformID, replyID)
		if err != nil {
			return err
		}

		if !p.Admin {
			if reply.IsRevision() {
				return ErrForbidden
			}
			if err := s.checkAccess(ctx, p, reply, model.ScopeEdit); err != nil {
				return err
			}
			removed = []*model.Reply{reply}
			return tx.Replies().Delete(ctx, []string{reply.ID})
		}

		chain, err := tx.Replies().ListChain(ctx, reply)
		if err != nil {
			return err
		}
		ids := make([]string, len(chain))
		for i, r := range chain {
			ids[i] = r.ID
		}
		removed = chain
		return tx.Replies().Delete(ctx, ids)
	})
	if err != nil {
		return mapRepoError(err)
	}

	// Ответы уже удалены: оставшийся в Keycloak ресурс ни к чему не привязан
	for _, r := range removed {
		if err := s.perms.Remove(ctx, r); err != nil {
			s.logger.Warn("Права удалённого ответа не удалены из Keycloak",
				slog.String("reply_id", r.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Ответ удалён",
		slog.String("reply_id", replyID),
		slog.String("metaform_id", metaformID),
		slog.Int("replies", len(removed)),
	)
	return nil
}

// List возвращает ответы формы, упорядоченные по времени создания.
// Не-администратору возвращаются только ответы, доступные ему на просмотр.
func (s *ReplyService) List(ctx context.Context, p Principal, q ListQuery) ([]*model.Reply, error) {
	if p.Anonymous() {
		return nil, ErrForbidden
	}
	form, err := s.forms.Get(ctx, q.MetaformID)
	if err != nil {
		return nil, err
	}

	filters, err := s.resolveFilters(form, q.Fields, q.BestEffort || s.bestEffort)
	if err != nil {
		return nil, err
	}

	replies, err := s.store.Replies().List(ctx, model.ReplyListFilter{
		MetaformID:       q.MetaformID,
		UserID:           q.UserID,
		IncludeRevisions: q.IncludeRevisions,
		CreatedBefore:    q.CreatedBefore,
		CreatedAfter:     q.CreatedAfter,
		ModifiedBefore:   q.ModifiedBefore,
		ModifiedAfter:    q.ModifiedAfter,
		Fields:           filters,
	})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidFilter) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if errors.Is(err, repository.ErrUnsupportedFilter) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFilter, err)
		}
		return nil, fmt.Errorf("выборка ответов: %w", err)
	}

	if p.Admin {
		return replies, nil
	}

	permitted := make([]*model.Reply, 0, len(replies))
	for _, r := range replies {
		err := s.checkAccess(ctx, p, r, model.ScopeView)
		switch {
		case err == nil:
			permitted = append(permitted, r)
		case errors.Is(err, ErrForbidden):
		default:
			return nil, err
		}
	}
	return permitted, nil
}

// ListWithFields — List со значениями полей каждого ответа.
func (s *ReplyService) ListWithFields(ctx context.Context, p Principal, q ListQuery) ([]*ReplyWithFields, error) {
	replies, err := s.List(ctx, p, q)
	if err != nil {
		return nil, err
	}
	result := make([]*ReplyWithFields, 0, len(replies))
	for _, r := range replies {
		fields, err := s.store.Fields().ListFields(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("чтение полей ответа %s: %w", r.ID, err)
		}
		result = append(result, &ReplyWithFields{Reply: r, Fields: fields})
	}
	return result, nil
}

// resolveFilters дополняет фильтры вариантом хранения из определения формы.
// Поле, отсутствующее в форме или не поддерживаемое фильтром, — ошибка,
// в режиме best effort — предупреждение в лог, и фильтр отбрасывается.
func (s *ReplyService) resolveFilters(form *model.Metaform, queries []FieldQuery, bestEffort bool) ([]model.FieldFilter, error) {
	filters := make([]model.FieldFilter, 0, len(queries))
	for _, q := range queries {
		var declared string
		st, ok := model.FieldType(""), false
		if field, found := form.FieldByName(q.Field); found {
			declared = field.Type
			st, ok = model.StorageType(field.Type)
		}

		if !ok || !repository.FilterSupported(st) {
			if !bestEffort {
				return nil, fmt.Errorf("%w: поле %q (тип %q)", ErrUnsupportedFilter, q.Field, declared)
			}
			replyFilterDroppedTotal.Inc()
			s.logger.Warn("Фильтр по полю отброшен",
				slog.String("metaform_id", form.ID),
				slog.String("field", q.Field),
				slog.String("type", declared),
			)
			continue
		}

		filters = append(filters, model.FieldFilter{
			Field:        q.Field,
			DeclaredType: st,
			Operator:     q.Operator,
			Value:        q.Value,
		})
	}
	return filters, nil
}

// findReply возвращает ответ, принадлежащий форме.
func (s *ReplyService) findReply(ctx context.Context, store repository.Store, metaformID, replyID string) (*model.Reply, error) {
	reply, err := store.Replies().GetByID(ctx, replyID)
	if err != nil {
		return nil, err
	}
	if reply.MetaformID != metaformID {
		return nil, fmt.Errorf("%w: ответ %s", ErrNotFound, replyID)
	}
	return reply, nil
}

// CheckAccess проверяет доступ к ответу в указанной области.
func (s *ReplyService) CheckAccess(ctx context.Context, p Principal, reply *model.Reply, scope model.Scope) error {
	return s.checkAccess(ctx, p, reply, scope)
}

// checkAccess: администратор → владелец по subject → owner-key → UMA.
// Любой отказ — ErrForbidden без уточнения причины.
func (s *ReplyService) checkAccess(ctx context.Context, p Principal, reply *model.Reply, scope model.Scope) error {
	if p.Admin {
		return nil
	}
	if !p.Anonymous() && reply.UserID != nil && *reply.UserID == p.UserID {
		return nil
	}
	if p.OwnerKey != "" && len(reply.PrivateKey) > 0 && s.keys.Validate(reply.PrivateKey, p.OwnerKey) {
		return nil
	}
	if p.Anonymous() || p.Token == "" || reply.ResourceID == nil {
		return ErrForbidden
	}

	allowed, err := s.perms.Check(ctx, p.Token, *reply.ResourceID, scope)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

// mapRepoError переводит ошибки репозитория в ошибки сервиса.
func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
