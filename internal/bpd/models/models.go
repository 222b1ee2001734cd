package models

import "time"

// BusinessPartner is the legal entity data of a business partner as held by
// the upstream pool.
type BusinessPartner struct {
	BPN       string    `json:"bpn"`
	LegalName string    `json:"legalName"`
	LegalForm string    `json:"legalForm,omitempty"`
	Addresses []Address `json:"addresses"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Address struct {
	Country    string `json:"country,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Street     string `json:"street,omitempty"`
}

// RefreshResult reports the outcome of a refresh per BPN.
type RefreshResult struct {
	Refreshed []string          `json:"refreshed"`
	Failed    map[string]string `json:"failed"`
}

// Credential subjects issued for business partner data.
func (bp *BusinessPartner) BPNSubject() map[string]any {
	return map[string]any{"bpn": bp.BPN}
}

func (bp *BusinessPartner) NameSubject() map[string]any {
	subject := map[string]any{"name": bp.LegalName}
	if bp.LegalForm != "" {
		subject["legalForm"] = bp.LegalForm
	}
	return subject
}

// AddressSubject returns nil when no address is known.
func (bp *BusinessPartner) AddressSubject() map[string]any {
	if len(bp.Addresses) == 0 {
		return nil
	}
	addresses := make([]any, 0, len(bp.Addresses))
	for _, a := range bp.Addresses {
		entry := map[string]any{}
		for k, v := range map[string]string{
			"country":    a.Country,
			"city":       a.City,
			"postalCode": a.PostalCode,
			"street":     a.Street,
		} {
			if v != "" {
				entry[k] = v
			}
		}
		addresses = append(addresses, entry)
	}
	return map[string]any{"addresses": addresses}
}
