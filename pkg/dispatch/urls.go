package dispatch

import (
	"fmt"
	"net/http"

	"github.com/syncbridge/syncbridge/pkg/types"
)

// contactsBase returns the collection endpoint for a provider kind.
func contactsBase(kind types.ProviderKind) string {
	switch kind {
	case types.ProviderSalesforce:
		return "/services/data/v52.0/sobjects/Contact"
	case types.ProviderHubSpot:
		return "/crm/v3/objects/contacts"
	case types.ProviderPipedrive:
		return "/v1/persons"
	default:
		return "/contacts"
	}
}

// updateVerb is PATCH for Salesforce and HubSpot, PUT elsewhere.
func updateVerb(kind types.ProviderKind) string {
	switch kind {
	case types.ProviderSalesforce, types.ProviderHubSpot:
		return http.MethodPatch
	default:
		return http.MethodPut
	}
}

// route maps (provider kind, operation kind, record id) to the HTTP
// method and path of the destination request. Operations addressing
// an existing record fail here when the record id is absent.
func route(kind types.ProviderKind, op types.OperationKind, recordID string) (method, path string, err error) {
	base := contactsBase(kind)
	if op != types.OpCreate && recordID == "" {
		return "", "", fmt.Errorf("record_id is required for %s operations", op)
	}
	switch op {
	case types.OpCreate:
		return http.MethodPost, base, nil
	case types.OpRead:
		return http.MethodGet, base + "/" + recordID, nil
	case types.OpUpdate:
		return updateVerb(kind), base + "/" + recordID, nil
	case types.OpDelete:
		return http.MethodDelete, base + "/" + recordID, nil
	default:
		return "", "", fmt.Errorf("unsupported operation kind: %q", op)
	}
}
