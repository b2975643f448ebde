package domain

// Account хранит баланс пользователя. Баланс меняется только условными атомарными операциями.
type Account struct {
	UserID  int64
	Name    string
	Balance int64
}

// Product — товар с ценой и остатком на складе.
type Product struct {
	ID    int64
	Name  string
	Price int64
	Stock int64
}
