package domain

import (
	"regexp"
	"strings"
)

// propertyIDPattern is {State}-{District}-{Tehsil}-{Village}-{Survey}-{SubSurvey}
var propertyIDPattern = regexp.MustCompile(`^[A-Z]{2}-[A-Z]{2,5}-[A-Z]{2,5}-[A-Z]{2,5}-[0-9A-Za-z]+-[0-9A-Za-z]+$`)

// PropertyID is the hierarchical land parcel identifier, e.g. AP-GNT-TNL-SKM-142-3
type PropertyID string

// ParsePropertyID validates the identifier format
func ParsePropertyID(s string) (PropertyID, error) {
	s = strings.TrimSpace(s)
	if !propertyIDPattern.MatchString(s) {
		return "", Errorf(CodeValidation, "invalid property id %q", s)
	}
	return PropertyID(s), nil
}

func (p PropertyID) String() string {
	return string(p)
}

func (p PropertyID) part(i int) string {
	parts := strings.Split(string(p), "-")
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}

// StateCode is the first segment, also the anchoring scope
func (p PropertyID) StateCode() string { return p.part(0) }

func (p PropertyID) DistrictCode() string { return p.part(1) }

func (p PropertyID) TehsilCode() string { return p.part(2) }

func (p PropertyID) VillageCode() string { return p.part(3) }

// Scope returns the anchoring scope the property belongs to
func (p PropertyID) Scope() AnchorScope {
	return AnchorScope(p.StateCode())
}
