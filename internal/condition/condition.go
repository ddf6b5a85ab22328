// Package condition はフィードの条件ロジックを評価する。
package condition

import (
	"strconv"
	"strings"

	"github.com/hitoshi/kitbridge/internal/mapping"
	"github.com/hitoshi/kitbridge/internal/model"
)

// 演算子
const (
	OpIs         = "is"
	OpIsNot      = "isnot"
	OpGreater    = ">"
	OpLess       = "<"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
)

// Evaluate は条件ロジックを評価し、フィードを実行すべきかを返す。
// logic が nil またはルールが空の場合は常に true を返す。
func Evaluate(logic *model.ConditionalLogic, form *model.Form, entry *model.Entry, resolver mapping.Resolver) bool {
	if logic == nil || len(logic.Rules) == 0 {
		return true
	}
	if resolver == nil {
		resolver = mapping.FieldResolver{}
	}

	matchAll := logic.LogicType != "any"
	matched := matchAll
	for _, rule := range logic.Rules {
		ok := matchRule(rule, resolver.Resolve(form, entry, rule.FieldID))
		if matchAll && !ok {
			matched = false
			break
		}
		if !matchAll && ok {
			matched = true
			break
		}
	}

	if logic.ActionType == "hide" {
		return !matched
	}
	return matched
}

func matchRule(rule model.ConditionRule, value string) bool {
	target := rule.Value
	switch rule.Operator {
	case OpIs, "":
		return strings.EqualFold(value, target)
	case OpIsNot:
		return !strings.EqualFold(value, target)
	case OpGreater, OpLess:
		a, errA := strconv.ParseFloat(strings.TrimSpace(value), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(target), 64)
		if errA != nil || errB != nil {
			return false
		}
		if rule.Operator == OpGreater {
			return a > b
		}
		return a < b
	case OpContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(target))
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(value), strings.ToLower(target))
	case OpEndsWith:
		return strings.HasSuffix(strings.ToLower(value), strings.ToLower(target))
	default:
		return false
	}
}
