package traderr

import (
	"context"
	"errors"
	"fmt"
)

// ErrDataUnavailable — шлюз/фид недоступен или ответил мусором. Ретраится.
var ErrDataUnavailable = errors.New("data unavailable")

// ErrNotFound — тикет не найден на сервере. Для close/cancel это подтверждение,
// а не ошибка: позиция уже закрыта на той стороне.
var ErrNotFound = errors.New("ticket not found")

// OrderError — отказ торгового сервера по конкретному запросу.
// Retryable=true для requote/timeout/off-quotes, false для невалидных параметров.
type OrderError struct {
	Op        string
	Code      int
	Msg       string
	Retryable bool
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s: order rejected code=%d: %s", e.Op, e.Code, e.Msg)
}

// ConstraintViolation — запрос нарушает инвариант (откат стопа назад,
// недопустимый переход состояния). Никогда не ретраится: это баг вызывающего.
type ConstraintViolation struct {
	Reason string
	Detail string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violated (%s): %s", e.Reason, e.Detail)
}

// ConfigError — невалидная конфигурация, собирается при старте.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Msg)
}

// Retryable решает, имеет ли смысл повторять операцию.
// Контекстные отмены и нарушения инвариантов не повторяем.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var cv *ConstraintViolation
	if errors.As(err, &cv) {
		return false
	}
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Retryable
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	// сетевые и прочие неизвестные ошибки считаем временными
	return true
}
