package utils

import (
	"testing"

	"dealflow/models"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate(t *testing.T) {
	fields := map[string]string{
		"first_name": "Ada",
		"deal_name":  "Engine rollout",
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Hello there", "Hello there"},
		{"known field", "Hi {{first_name}}", "Hi Ada"},
		{"whitespace inside braces", "Hi {{ first_name }}", "Hi Ada"},
		{"multiple fields", "{{first_name}}: {{deal_name}}", "Ada: Engine rollout"},
		{"unknown field renders empty", "Hi {{nickname}}, welcome", "Hi , welcome"},
		{"single braces untouched", "a {first_name} b", "a {first_name} b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderTemplate(tt.in, fields))
		})
	}
}

func TestMergeFields(t *testing.T) {
	deal := &models.Deal{Name: "Engine rollout", Stage: "proposal", Value: 250000}
	contact := &models.Contact{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Phone:     "+15550001111",
		Company:   "Analytical Engines",
		Position:  "CTO",
	}

	fields := MergeFields(deal, contact)

	assert.Equal(t, "Engine rollout", fields["deal_name"])
	assert.Equal(t, "proposal", fields["deal_stage"])
	assert.Equal(t, "2500.00", fields["deal_value"])
	assert.Equal(t, "Ada", fields["first_name"])
	assert.Equal(t, "Ada Lovelace", fields["full_name"])
	assert.Equal(t, "ada@example.com", fields["email"])
}

func TestMergeFieldsPartialContact(t *testing.T) {
	fields := MergeFields(nil, &models.Contact{FirstName: "Ada"})

	assert.Equal(t, "Ada", fields["full_name"])
	assert.NotContains(t, fields, "deal_name")
}
