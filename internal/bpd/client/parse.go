package client

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"custodian/internal/bpd/models"
)

// parseLegalEntity accepts both the legacy catena shape (bpn, names[],
// addresses[]) and the current pool shape (bpnl, legalName, legalAddress).
func parseLegalEntity(body []byte) (*models.BusinessPartner, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid json")
	}
	doc := gjson.ParseBytes(body)

	bp := &models.BusinessPartner{
		BPN:       first(doc, "bpnl", "bpn"),
		LegalName: first(doc, "legalName", "legalShortName", "names.0.value"),
		LegalForm: first(doc, "legalForm.name", "legalForm.technicalKey", "legalForm"),
	}
	if bp.BPN == "" {
		return nil, errors.New("response carries no bpn")
	}
	if bp.LegalName == "" {
		return nil, errors.New("response carries no legal name")
	}

	if legal := doc.Get("legalAddress"); legal.Exists() {
		bp.Addresses = append(bp.Addresses, parseAddress(legal))
	}
	doc.Get("addresses").ForEach(func(_, value gjson.Result) bool {
		bp.Addresses = append(bp.Addresses, parseAddress(value))
		return true
	})
	if bp.Addresses == nil {
		bp.Addresses = []models.Address{}
	}
	return bp, nil
}

func parseAddress(v gjson.Result) models.Address {
	if postal := v.Get("physicalPostalAddress"); postal.Exists() {
		v = postal
	}
	street := first(v, "street.name", "thoroughfares.0.value", "street")
	if number := first(v, "street.houseNumber", "thoroughfares.0.number"); number != "" && street != "" {
		street += " " + number
	}
	return models.Address{
		Country:    first(v, "country.technicalKey", "countryCode", "country"),
		City:       first(v, "city", "localities.0.value"),
		PostalCode: first(v, "postalCode", "postCode", "postCodes.0.value"),
		Street:     street,
	}
}

// first returns the first non-empty string value among paths.
func first(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := v.Get(p)
		if r.Type == gjson.String {
			if s := strings.TrimSpace(r.String()); s != "" {
				return s
			}
		}
	}
	return ""
}
