// Package tariff holds the regulated vocabulary of a PVPC bill: access-toll tariff
// types, tax zones and the year-indexed regulatory coefficient tables.
package tariff

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// ErrConfiguration is returned when a regulatory year, tariff or tax zone is not
// covered by the loaded tables. It is never defaulted.
var ErrConfiguration = errors.New("tariff: unsupported configuration")

// Location is the reference zone of every local-clock rule on the bill.
var Location = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		panic(fmt.Errorf("failed to load Europe/Madrid location: %w", err))
	}
	return loc
}()

// Type is an access-toll tariff for low-voltage supplies up to 10 kW.
type Type int

const (
	General Type = iota + 1
	Night
	ElectricVehicle
)

type typeInfo struct {
	key     string
	code    string
	name    string
	periods int
}

var types = map[Type]typeInfo{
	General:         {key: "GEN", code: "2.0A", name: "General", periods: 1},
	Night:           {key: "NOC", code: "2.0DHA", name: "Nocturna", periods: 2},
	ElectricVehicle: {key: "VHC", code: "2.0DHS", name: "Vehículo eléctrico", periods: 3},
}

// Types lists the supported tariffs.
func Types() []Type {
	return []Type{General, Night, ElectricVehicle}
}

// ParseType resolves a tariff from its price-series key (GEN) or its official code (2.0A).
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	for t, info := range types {
		if strings.EqualFold(s, info.key) || strings.EqualFold(s, info.code) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown tariff %q", ErrConfiguration, s)
}

// Valid reports whether t is one of the supported tariffs.
func (t Type) Valid() bool {
	_, ok := types[t]
	return ok
}

// NumPeriods is the number of time-of-day periods of the tariff.
func (t Type) NumPeriods() int { return types[t].periods }

// Key is the PVPC price-series key of the tariff (GEN, NOC, VHC).
func (t Type) Key() string { return types[t].key }

// Code is the official access-toll code (2.0A, 2.0DHA, 2.0DHS).
func (t Type) Code() string { return types[t].code }

// Name is the display name.
func (t Type) Name() string { return types[t].name }

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return t.Code()
}

// MarshalText encodes the tariff as its official code.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: invalid tariff %d", ErrConfiguration, int(t))
	}
	return []byte(t.Code()), nil
}

// UnmarshalText accepts the official code or the price-series key.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TaxZone is the indirect-tax territory of the supply point.
type TaxZone int

const (
	PeninsulaBaleares TaxZone = iota + 1
	Canarias
	CeutaMelilla
)

type zoneInfo struct {
	code          string
	name          string
	rate          float64
	equipmentRate float64
}

var zones = map[TaxZone]zoneInfo{
	PeninsulaBaleares: {code: "IVA", name: "Península y Baleares", rate: 0.21, equipmentRate: 0.21},
	Canarias:          {code: "IGIC", name: "Canarias", rate: 0.03, equipmentRate: 0.07},
	CeutaMelilla:      {code: "IPSI", name: "Ceuta y Melilla", rate: 0.01, equipmentRate: 0.04},
}

// ParseTaxZone resolves a tax zone from its code (IVA, IGIC, IPSI).
func ParseTaxZone(s string) (TaxZone, error) {
	s = strings.TrimSpace(s)
	for z, info := range zones {
		if strings.EqualFold(s, info.code) {
			return z, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown tax zone %q", ErrConfiguration, s)
}

// Valid reports whether z is one of the supported zones.
func (z TaxZone) Valid() bool {
	_, ok := zones[z]
	return ok
}

// Code is the tax code (IVA, IGIC, IPSI).
func (z TaxZone) Code() string { return zones[z].code }

// Name is the display name, including the tax code.
func (z TaxZone) Name() string {
	info := zones[z]
	return fmt.Sprintf("%s (%s)", info.name, info.code)
}

// Rate is the tax rate applied to the energy and power terms.
func (z TaxZone) Rate() float64 { return zones[z].rate }

// EquipmentRate is the tax rate applied to the metering equipment rental.
func (z TaxZone) EquipmentRate() float64 { return zones[z].equipmentRate }

func (z TaxZone) String() string {
	if !z.Valid() {
		return fmt.Sprintf("TaxZone(%d)", int(z))
	}
	return z.Code()
}

// MarshalText encodes the zone as its tax code.
func (z TaxZone) MarshalText() ([]byte, error) {
	if !z.Valid() {
		return nil, fmt.Errorf("%w: invalid tax zone %d", ErrConfiguration, int(z))
	}
	return []byte(z.Code()), nil
}

// UnmarshalText decodes a tax code.
func (z *TaxZone) UnmarshalText(text []byte) error {
	parsed, err := ParseTaxZone(string(text))
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}
