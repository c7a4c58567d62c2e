// Package entitlements describes the subscription features consulted by the
// auth core. Plan resolution is owned by the external licensing service.
package entitlements

// Plan is the feature set of a tenant's subscription. Only IPAllowlisting
// is consulted by this module; the remaining fields mirror what the
// licensing collaborator reports.
type Plan struct {
	Slug           string `json:"slug"`
	IPAllowlisting bool   `json:"ipAllowlisting"`
	IdentityLimit  int    `json:"identityLimit,omitempty"`
	IdentitiesUsed int    `json:"identitiesUsed,omitempty"`
}
