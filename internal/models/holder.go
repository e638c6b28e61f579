package models

import (
	"errors"
	"fmt"
)

type HolderKind string

const (
	HolderDeposit     HolderKind = "deposit"
	HolderBonusCredit HolderKind = "bonus_credit"
)

var (
	ErrHolderAmbiguous = errors.New("obligation references both a deposit and a bonus credit")
	ErrHolderMissing   = errors.New("obligation references neither a deposit nor a bonus credit")
	ErrHolderKind      = errors.New("unknown holder kind")
)

// HolderRef points at exactly one obligation holder.
type HolderRef struct {
	Kind HolderKind `json:"kind"`
	ID   string     `json:"id"`
}

func DepositRef(id string) HolderRef {
	return HolderRef{Kind: HolderDeposit, ID: id}
}

func BonusCreditRef(id string) HolderRef {
	return HolderRef{Kind: HolderBonusCredit, ID: id}
}

func ParseHolderKind(raw string) (HolderKind, error) {
	switch HolderKind(raw) {
	case HolderDeposit, HolderBonusCredit:
		return HolderKind(raw), nil
	}
	return "", ErrHolderKind
}

// HolderFromColumns maps the store's nullable key pair back to a HolderRef.
func HolderFromColumns(depositID, bonusCreditID *string) (HolderRef, error) {
	hasDeposit := depositID != nil && *depositID != ""
	hasBonus := bonusCreditID != nil && *bonusCreditID != ""
	switch {
	case hasDeposit && hasBonus:
		return HolderRef{}, ErrHolderAmbiguous
	case hasDeposit:
		return DepositRef(*depositID), nil
	case hasBonus:
		return BonusCreditRef(*bonusCreditID), nil
	}
	return HolderRef{}, ErrHolderMissing
}

// Columns returns the (deposit_id, bonus_credit_id) pair with exactly one side set.
func (r HolderRef) Columns() (*string, *string) {
	id := r.ID
	if r.Kind == HolderBonusCredit {
		return nil, &id
	}
	return &id, nil
}

func (r HolderRef) Validate() error {
	if r.ID == "" {
		return ErrHolderMissing
	}
	if _, err := ParseHolderKind(string(r.Kind)); err != nil {
		return err
	}
	return nil
}

func (r HolderRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}
