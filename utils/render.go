package utils

import (
	"fmt"
	"regexp"
	"strings"

	"dealflow/models"
)

var mergeFieldPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderTemplate substitutes {{field}} merge tags against the given fields.
// Unresolved fields render as an empty string, not a literal placeholder.
func RenderTemplate(text string, fields map[string]string) string {
	return mergeFieldPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := mergeFieldPattern.FindStringSubmatch(match)[1]
		return fields[name]
	})
}

// MergeFields builds the substitution context for a deal and its contact
func MergeFields(deal *models.Deal, contact *models.Contact) map[string]string {
	fields := map[string]string{}
	if deal != nil {
		fields["deal_name"] = deal.Name
		fields["deal_stage"] = deal.Stage
		fields["deal_value"] = fmt.Sprintf("%.2f", float64(deal.Value)/100)
	}
	if contact != nil {
		fields["first_name"] = contact.FirstName
		fields["last_name"] = contact.LastName
		fields["full_name"] = strings.TrimSpace(contact.FirstName + " " + contact.LastName)
		fields["email"] = contact.Email
		fields["phone"] = contact.Phone
		fields["company"] = contact.Company
		fields["position"] = contact.Position
	}
	return fields
}
