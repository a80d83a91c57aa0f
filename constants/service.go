package constants

import "strings"

// ServiceType is the utility service an invoice bills for.
type ServiceType string

const (
	Electricity ServiceType = "Electricity"
	Gas         ServiceType = "Gas"
	Water       ServiceType = "Water"
)

// ServiceTypes holds the allowed service types in canonical casing.
var ServiceTypes = []ServiceType{Electricity, Gas, Water}

// ParseServiceType maps a free-form label to its canonical service type.
func ParseServiceType(s string) (ServiceType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "electricity", "power":
		return Electricity, true
	case "gas":
		return Gas, true
	case "water":
		return Water, true
	}
	return "", false
}
