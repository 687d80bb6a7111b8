package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store объединяет репозитории, работающие через одно подключение (пул или транзакцию).
// Сервисы зависят от интерфейса, чтобы подменять хранилище в тестах.
type Store interface {
	Replies() ReplyRepository
	Fields() FieldRepository
	Metaforms() MetaformRepository
	Attachments() AttachmentRepository
	// InTx выполняет fn в транзакции; репозитории tx работают внутри неё.
	// Вложенный вызов InTx выполняется в уже открытой транзакции.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// pgStore — реализация Store поверх pgx.
type pgStore struct {
	db       DBTX
	txRunner *TxRunner
}

// NewStore создаёт Store поверх пула подключений.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{db: pool, txRunner: NewTxRunner(pool)}
}

func (s *pgStore) Replies() ReplyRepository         { return NewReplyRepository(s.db) }
func (s *pgStore) Fields() FieldRepository          { return NewFieldRepository(s.db) }
func (s *pgStore) Metaforms() MetaformRepository    { return NewMetaformRepository(s.db) }
func (s *pgStore) Attachments() AttachmentRepository { return NewAttachmentRepository(s.db) }

func (s *pgStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.txRunner == nil {
		return fn(s)
	}
	return s.txRunner.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgStore{db: tx})
	})
}
