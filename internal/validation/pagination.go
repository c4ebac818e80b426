// Package validation содержит функции валидации входных данных.
package validation

import "strconv"

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
	maxLimit        = 100
)

// ParsePage разбирает параметры страницы из строк запроса и приводит их к
// допустимым значениям: страница не меньше 1, размер страницы в пределах [1, 100].
func ParsePage(pageRaw, sizeRaw string) (page, size int) {
	page = defaultPage
	size = defaultPageSize

	if pageRaw != "" {
		if v, err := strconv.Atoi(pageRaw); err == nil && v > 0 {
			page = v
		}
	}
	if sizeRaw != "" {
		if v, err := strconv.Atoi(sizeRaw); err == nil && v > 0 {
			size = v
		}
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	return page, size
}

// ParseLimit разбирает лимит выборки, возвращая fallback для пустых и
// некорректных значений и ограничивая результат сверху.
func ParseLimit(raw string, fallback int) int {
	limit := fallback
	if raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}
