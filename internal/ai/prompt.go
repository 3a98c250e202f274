package ai

import (
	"fmt"
	"strings"
)

// BuildPrompt 组装生成请求：身份、用户原始问题、检索上下文、回答要求
func BuildPrompt(role, language, query, contextBlock string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ты %s. Пользователь спросил: \"%s\".\n", role, query)
	fmt.Fprintf(&b, "На основе следующей информации дай краткий и информативный ответ на %s языке:\n", language)
	b.WriteString(contextBlock)
	if !strings.HasSuffix(contextBlock, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("Если запрос неясен, задай уточняющий вопрос.\n")
	return b.String()
}
