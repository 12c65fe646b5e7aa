package service

import (
	"fmt"
	"strconv"

	"prop_bot/internal/models"
)

func f2(v float64) string { // для красивого вывода
	return fmt.Sprintf("%.2f", v)
}

// fp — цена без хвостовых нулей: у инструментов разная разрядность,
// а тащить каталог в форматтер ради неё не хочется.
func fp(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func tpText(tp float64) string {
	if tp <= 0 {
		return "нет"
	}
	return fp(tp)
}

func connEmoji(st models.ConnState) string {
	switch st {
	case models.ConnConnected:
		return "📡"
	case models.ConnDegraded:
		return "⚠️"
	}
	return "🔌"
}

func connEmojiStr(state string) string {
	switch state {
	case models.ConnConnected.String():
		return "📡"
	case models.ConnDegraded.String():
		return "⚠️"
	}
	return "🔌"
}
