// Package models defines the persisted records and the shared vocabulary of the
// peer-validation engine.
package models

import (
	"fmt"
	"strings"
)

// Family is the top-level discriminator of a submission kind, stored in the
// submissions.kind column.
type Family string

const (
	FamilyOBV Family = "obv"
	FamilyKPI Family = "kpi"
)

// KPISubtype enumerates the KPI record variants that require peer review.
type KPISubtype string

const (
	KPISubtypeBP KPISubtype = "bp"
	KPISubtypeLP KPISubtype = "lp"
	KPISubtypeCP KPISubtype = "cp"
)

// Kind is the tagged union of submission variants. OBV and KPI are the only
// implementations; switch on the concrete type to handle each variant.
type Kind interface {
	Family() Family
	Subtype() string
	String() string
	isKind()
}

// OBV is an exploration record. Type is free-form and optional.
type OBV struct {
	Type string
}

func (OBV) Family() Family    { return FamilyOBV }
func (k OBV) Subtype() string { return k.Type }
func (OBV) isKind()           {}
func (k OBV) String() string  { return joinKind(FamilyOBV, k.Type) }

// KPI is a key-performance record of one of the reviewed subtypes.
type KPI struct {
	Type KPISubtype
}

func (KPI) Family() Family    { return FamilyKPI }
func (k KPI) Subtype() string { return string(k.Type) }
func (KPI) isKind()           {}
func (k KPI) String() string  { return joinKind(FamilyKPI, string(k.Type)) }

func joinKind(f Family, subtype string) string {
	if subtype == "" {
		return string(f)
	}
	return string(f) + "/" + subtype
}

// ParseKind rebuilds a Kind from its stored (family, subtype) pair.
func ParseKind(family, subtype string) (Kind, error) {
	subtype = strings.TrimSpace(subtype)
	switch Family(strings.ToLower(strings.TrimSpace(family))) {
	case FamilyOBV:
		return OBV{Type: subtype}, nil
	case FamilyKPI:
		switch st := KPISubtype(strings.ToLower(subtype)); st {
		case KPISubtypeBP, KPISubtypeLP, KPISubtypeCP:
			return KPI{Type: st}, nil
		default:
			return nil, fmt.Errorf("kpi subtype %q: %w", subtype, ErrInvalidArgument)
		}
	default:
		return nil, fmt.Errorf("submission kind %q: %w", family, ErrInvalidArgument)
	}
}

// ValidateKind checks a Kind constructed by a caller rather than parsed.
func ValidateKind(k Kind) error {
	switch v := k.(type) {
	case OBV:
		return nil
	case KPI:
		_, err := ParseKind(string(FamilyKPI), string(v.Type))
		return err
	case nil:
		return fmt.Errorf("submission kind missing: %w", ErrInvalidArgument)
	default:
		return fmt.Errorf("submission kind %T: %w", k, ErrInvalidArgument)
	}
}
