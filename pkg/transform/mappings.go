package transform

import (
	"regexp"

	"github.com/syncbridge/syncbridge/pkg/types"
)

var (
	htmlTagPattern     = regexp.MustCompile(`<[^>]+>`)
	specialCharPattern = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
)

// DefaultMappings returns the shipped internal → external field
// mappings for a provider kind. Custom providers start empty.
func DefaultMappings(kind types.ProviderKind) []types.FieldMapping {
	switch kind {
	case types.ProviderSalesforce:
		return []types.FieldMapping{
			{InternalField: "first_name", ExternalField: "FirstName"},
			{InternalField: "last_name", ExternalField: "LastName", Required: true},
			{InternalField: "email", ExternalField: "Email", Transformer: "format_email"},
			{InternalField: "phone", ExternalField: "Phone", Transformer: "format_phone"},
			{InternalField: "company_id", ExternalField: "AccountId"},
			{InternalField: "title", ExternalField: "Title"},
		}
	case types.ProviderHubSpot:
		return []types.FieldMapping{
			{InternalField: "first_name", ExternalField: "firstname"},
			{InternalField: "last_name", ExternalField: "lastname", Required: true},
			{InternalField: "email", ExternalField: "email", Transformer: "format_email"},
			{InternalField: "phone", ExternalField: "phone", Transformer: "format_phone"},
			{InternalField: "company_name", ExternalField: "company"},
			{InternalField: "title", ExternalField: "jobtitle"},
		}
	case types.ProviderPipedrive:
		return []types.FieldMapping{
			{InternalField: "full_name", ExternalField: "name", Required: true},
			{InternalField: "email", ExternalField: "email", Transformer: "format_email"},
			{InternalField: "phone", ExternalField: "phone", Transformer: "format_phone"},
			{InternalField: "organization_id", ExternalField: "org_id", Transformer: "to_int"},
		}
	default:
		return nil
	}
}
