package followup

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"whatsapp-automation/internal/models"
)

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// RenderMessage replaces every {key} in body with vars[key]. Unknown keys
// are left as written.
func RenderMessage(body string, vars map[string]interface{}) string {
	return placeholder.ReplaceAllStringFunc(body, func(token string) string {
		key := token[1 : len(token)-1]
		v, ok := vars[key]
		if !ok || v == nil {
			return token
		}
		return format(v)
	})
}

// Variables builds the substitution record for c, overridden by metadata.
// French and English keys are both provided.
func Variables(c *models.Contact, metadata map[string]interface{}) map[string]interface{} {
	vars := map[string]interface{}{}
	if c != nil {
		name := c.DisplayName()
		if name == "" {
			name = "Client"
		}
		first := "Client"
		if fields := strings.Fields(c.Name); len(fields) > 0 {
			first = fields[0]
		}
		vars["nom"], vars["name"] = name, name
		vars["prenom"], vars["first_name"] = first, first
		vars["total_commandes"], vars["total_orders"] = c.TotalOrders, c.TotalOrders
		vars["total_depense"], vars["total_spent"] = c.TotalSpent, c.TotalSpent
	}
	for k, v := range metadata {
		vars[k] = v
	}
	return vars
}

func format(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}
