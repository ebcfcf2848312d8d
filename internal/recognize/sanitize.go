package recognize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NormalizeExtractionJSON
// - Renames the model's Chinese field names to the schema's keys
// - Coerces numeric amounts to decimal strings
// - Drops unknown keys (strict additionalProperties = false friendliness)
// - Trims obvious strings
func NormalizeExtractionJSON(raw []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	changed := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			changed = append(changed, from+"->"+to)
		}
	}

	// 1) the vision model frequently answers with the receipt's own labels
	renamed("报销单号", "expense_id")
	renamed("单号", "expense_id")
	renamed("日期", "date")
	renamed("报销人", "submitter")
	renamed("部门", "department")
	renamed("项目", "line_items")
	renamed("总金额", "total_amount")
	renamed("items", "line_items")
	renamed("total", "total_amount")

	// 2) coerce amounts to decimal strings
	if v, ok := m["total_amount"]; ok {
		if s, ok2 := coerceAmount(v); ok2 {
			m["total_amount"] = s
		}
	}
	if items, ok := m["line_items"].([]any); ok {
		for _, entry := range items {
			it, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			renameItemKey(it, "名称", "name")
			renameItemKey(it, "金额", "amount")
			if v, ok := it["amount"]; ok {
				if s, ok2 := coerceAmount(v); ok2 {
					it["amount"] = s
				}
			}
			if v, ok := it["name"].(string); ok {
				it["name"] = strings.TrimSpace(v)
			}
		}
	}

	// 3) drop unknown top-level keys
	allowed := map[string]struct{}{
		"expense_id": {}, "date": {}, "submitter": {}, "department": {},
		"line_items": {}, "total_amount": {},
	}
	for k := range m {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			changed = append(changed, k+"(unknown)")
		}
	}

	// 4) trim strings
	for _, k := range []string{"expense_id", "date", "submitter", "department"} {
		if v, ok := m[k].(string); ok {
			m[k] = strings.TrimSpace(v)
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, changed, fmt.Errorf("sanitize: encode: %w", err)
	}
	return out, changed, nil
}

func renameItemKey(it map[string]any, from, to string) {
	if v, ok := it[from]; ok {
		if _, exists := it[to]; !exists {
			it[to] = v
		}
		delete(it, from)
	}
}

func coerceAmount(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimPrefix(s, "¥")
		s = strings.TrimPrefix(s, "￥")
		s = strings.ReplaceAll(s, ",", "")
		return s, true
	case float64:
		// shortest representation, so 120.5 stays "120.5"
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	}
	return "", false
}
