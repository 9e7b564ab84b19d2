package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/azogue/pvpcbill/internal/tariff"
)

// Defaults of a household contract.
const (
	DefaultCUPS               = "ES00XXXXXXXXXXXXXXDB"
	DefaultContractedPowerKW  = 3.45
	DefaultElectricityTaxRate = 0.0511269632 // 4.864% x 1.05113
	DefaultAnnualRentalFee    = 0.81 * 12    // EUR/year, single-phase meter
)

// ErrInvalidContract is returned by Contract.Validate.
var ErrInvalidContract = errors.New("model: invalid contract")

var validate = validator.New()

// Contract is the contract configuration that defines the billing policy of a bill.
type Contract struct {
	Tariff             tariff.Type    `json:"tariff" validate:"required"`
	ContractedPowerKW  float64        `json:"contracted_power_kw" validate:"gt=0"`
	WithSocialDiscount bool           `json:"social_discount"`
	TaxZone            tariff.TaxZone `json:"tax_zone" validate:"required"`
	AnnualRentalFee    float64        `json:"annual_rental_fee" validate:"gte=0"`
	ElectricityTaxRate float64        `json:"electricity_tax_rate" validate:"gte=0,lt=1"`
	CUPS               string         `json:"cups" validate:"required"`
}

// DefaultContract returns a General tariff contract with the default terms.
func DefaultContract() Contract {
	return Contract{
		Tariff:             tariff.General,
		ContractedPowerKW:  DefaultContractedPowerKW,
		TaxZone:            tariff.PeninsulaBaleares,
		AnnualRentalFee:    DefaultAnnualRentalFee,
		ElectricityTaxRate: DefaultElectricityTaxRate,
		CUPS:               DefaultCUPS,
	}
}

// Validate checks the contract terms.
func (c Contract) Validate() error {
	if !c.Tariff.Valid() {
		return fmt.Errorf("%w: tariff %d", tariff.ErrConfiguration, int(c.Tariff))
	}
	if !c.TaxZone.Valid() {
		return fmt.Errorf("%w: tax zone %d", tariff.ErrConfiguration, int(c.TaxZone))
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContract, err)
	}
	for name, v := range map[string]float64{
		"contracted power":  c.ContractedPowerKW,
		"annual rental fee": c.AnnualRentalFee,
		"electricity tax":   c.ElectricityTaxRate,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidContract, name)
		}
	}
	return nil
}
