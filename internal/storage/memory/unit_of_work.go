package memory

import (
	"context"
	"sync"
)

type journalKey struct{}

// journal копит обратные операции, чтобы откатить изменения при ошибке внутри UnitOfWork.
type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) push(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.undo = append(j.undo, fn)
}

func (j *journal) rollback() {
	j.mu.Lock()
	undo := j.undo
	j.undo = nil
	j.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// onRollback регистрирует обратную операцию, если ctx несёт открытую единицу работы.
func onRollback(ctx context.Context, fn func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.push(fn)
	}
}

// UnitOfWork — in-memory единица работы на основе журнала компенсаций.
// Каждая операция репозитория атомарна сама по себе; при ошибке fn изменения
// откатываются в обратном порядке. Изоляции чтения нет.
type UnitOfWork struct{}

// NewUnitOfWork создаёт in-memory UnitOfWork.
func NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{}
}

// Do выполняет fn; вложенный вызов присоединяется к внешнему журналу.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}

	j := &journal{}
	defer func() {
		if r := recover(); r != nil {
			j.rollback()
			panic(r)
		}
	}()

	if err = fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}
