package models

import (
	"strings"
	"time"

	id "fundops/pkg/domain"
)

// Fund is a tenant: the unit of data isolation.
type Fund struct {
	ID           id.FundID `json:"id"`
	Name         string    `json:"name"`
	BaseCurrency string    `json:"base_currency"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewFund(fundID id.FundID, name, baseCurrency string, now time.Time) (*Fund, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 200 {
		return nil, invalidInput("fund name must be 1-200 characters")
	}
	currency, err := ParseCurrency(baseCurrency)
	if err != nil {
		return nil, err
	}
	return &Fund{ID: fundID, Name: name, BaseCurrency: currency, CreatedAt: now}, nil
}

// ParseCurrency accepts a three-letter ISO 4217 style code.
func ParseCurrency(s string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(s))
	if len(c) != 3 {
		return "", invalidInput("currency must be a three-letter code")
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", invalidInput("currency must be a three-letter code")
		}
	}
	return c, nil
}
