package service

import "github.com/mmeshcher/clubpoints-system/internal/model"

// levelTable — упорядоченная по возрастанию порогов таблица уровней членства.
// Статическая конфигурация, не хранится в БД.
var levelTable = []model.Level{
	{Name: "Aspirante", Threshold: 0, Icon: "🌱", Color: "#10B981"},
	{Name: "Explorador", Threshold: 250, Icon: "🔍", Color: "#6B7280"},
	{Name: "Participante", Threshold: 500, Icon: "🚀", Color: "#3B82F6"},
	{Name: "Friend", Threshold: 1000, Icon: "🤝", Color: "#8B5CF6"},
	{Name: "Rider", Threshold: 1500, Icon: "🏍️", Color: "#059669"},
	{Name: "Pro", Threshold: 3000, Icon: "⚡", Color: "#F59E0B"},
	{Name: "Legend", Threshold: 9000, Icon: "🏆", Color: "#DC2626"},
	{Name: "Master", Threshold: 18000, Icon: "👑", Color: "#7C3AED"},
	{Name: "Volunteer", Threshold: 25000, Icon: "🤲", Color: "#059669"},
	{Name: "Leader", Threshold: 40000, Icon: "💎", Color: "#1F2937"},
}

// LevelFor возвращает уровень для указанного количества баллов: текущий уровень —
// наибольший порог, не превышающий баллы; следующий — следующая запись таблицы
// либо nil для максимального уровня. Прогресс — процент пути от текущего порога
// к следующему, ограниченный диапазоном [0, 100]; на максимальном уровне всегда 100.
func LevelFor(points int64) model.LevelProgress {
	if points < 0 {
		points = 0
	}

	idx := 0
	for i, lvl := range levelTable {
		if points >= lvl.Threshold {
			idx = i
		}
	}

	current := levelTable[idx]
	if idx == len(levelTable)-1 {
		return model.LevelProgress{Current: current, ProgressPercent: 100}
	}

	next := levelTable[idx+1]
	span := next.Threshold - current.Threshold
	percent := int(100 * (points - current.Threshold) / span)
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	return model.LevelProgress{Current: current, Next: &next, ProgressPercent: percent}
}
