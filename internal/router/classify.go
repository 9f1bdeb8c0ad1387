package router

import "strings"

// TaskType is the router's classification of a query.
type TaskType string

const (
	TaskCode         TaskType = "code"
	TaskMath         TaskType = "math"
	TaskTechnical    TaskType = "technical"
	TaskCreative     TaskType = "creative"
	TaskMultilingual TaskType = "multilingual"
	TaskGeneral      TaskType = "general"
)

// Keyword sets are checked in declaration order; the first matching
// category wins. The multilingual heuristic only applies when no keyword
// category matched.
var keywordCategories = []struct {
	task     TaskType
	keywords []string
}{
	{TaskCode, []string{"code", "function", "debug", "error", "implement", "python", "javascript", "class", "method"}},
	{TaskMath, []string{"calculate", "solve", "equation", "math", "formula", "derivative", "integral"}},
	{TaskTechnical, []string{"technical", "architecture", "system", "database", "api", "infrastructure"}},
	{TaskCreative, []string{"write", "story", "creative", "poem", "essay", "narrative"}},
}

// Classify determines the task type of a query. Keyword categories take
// precedence over the statistical multilingual check: a query containing
// "debug" classifies as code even when mostly non-ASCII.
func Classify(query string) TaskType {
	lower := strings.ToLower(query)

	for _, cat := range keywordCategories {
		for _, kw := range cat.keywords {
			if strings.Contains(lower, kw) {
				return cat.task
			}
		}
	}

	runes := []rune(query)
	if len(runes) > 0 {
		nonASCII := 0
		for _, r := range runes {
			if r > 127 {
				nonASCII++
			}
		}
		if nonASCII*10 > len(runes) {
			return TaskMultilingual
		}
	}

	return TaskGeneral
}
