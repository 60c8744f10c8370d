package plan

import "strings"

// SuggestTableName derives a table name from an uploaded file name:
// "Sales Q1-2024.csv" becomes "sales_q1_2024".
func SuggestTableName(fileName string) string {
	name := fileName
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if strings.HasSuffix(strings.ToLower(name), ".csv") {
		name = name[:len(name)-4]
	}
	name = strings.ToLower(name)

	var sb strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	out := sb.String()
	switch {
	case out == "":
		return "imported"
	case out[0] >= '0' && out[0] <= '9':
		return "t_" + out
	}
	return out
}
