// Package sl содержит вспомогательные функции для работы с логгером slog.
// Основная цель — единообразно формировать структурированные поля лога
// для ошибок и чувствительных значений вроде ключей лицензий.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
// Для nil возвращает пустую строку, чтобы не паниковать в путях логирования.
//
// Пример:
//
//	log.Error("failed to create key", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Key возвращает slog.Attr с замаскированной строкой ключа: видны только
// префикс и последние четыре символа.
func Key(keyString string) slog.Attr {
	return slog.String("key", Mask(keyString))
}

// Mask скрывает середину строки ключа.
func Mask(keyString string) string {
	const visibleTail = 4
	r := []rune(keyString)
	if len(r) <= visibleTail*2 {
		return "****"
	}
	head := 0
	for i, c := range r {
		if c == '-' {
			head = i + 1
			break
		}
	}
	if head == 0 || head > len(r)-visibleTail {
		head = visibleTail
	}
	return string(r[:head]) + "****" + string(r[len(r)-visibleTail:])
}
