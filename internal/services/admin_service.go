package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"plexledger/internal/db"
	"plexledger/internal/store"

	"github.com/jmoiron/sqlx"
)

var ErrUnknownRole = errors.New("unknown admin role")

var knownRoles = map[string]bool{
	store.RoleOperator:   true,
	store.RoleOverrides:  true,
	store.RoleWithdrawal: true,
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	Roles(ctx context.Context, userID string) ([]string, error)
	HasAnyAdmin(ctx context.Context, getter store.Getter) (bool, error)
	CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

// AdminService grants access to the admin API. The first admin ever granted is a super admin.
type AdminService struct {
	txRunner db.TxRunner
	admins   AdminStore
	audit    AuditStore
}

func NewAdminService(txRunner db.TxRunner, admins AdminStore, audit AuditStore) *AdminService {
	return &AdminService{txRunner: txRunner, admins: admins, audit: audit}
}

type AdminGrant struct {
	UserID string   `json:"user_id"`
	Super  bool     `json:"super"`
	Roles  []string `json:"roles"`
}

func (s *AdminService) Grant(ctx context.Context, actorID, userID string, roles []string, super bool) (AdminGrant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AdminGrant{}, ErrUserNotFound
	}
	for _, role := range roles {
		if !knownRoles[role] {
			return AdminGrant{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
	}
	var createdBy *string
	if actorID != "" {
		createdBy = &actorID
	}

	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := s.admins.HasAnyAdmin(ctx, tx)
		if err != nil {
			return err
		}
		bootstrap := !exists
		if err := s.admins.CreateAdmin(ctx, tx, userID, super || bootstrap, createdBy); err != nil {
			return err
		}
		for _, role := range roles {
			if err := s.admins.GrantRole(ctx, tx, userID, role); err != nil {
				return err
			}
		}
		return s.audit.Log(ctx, tx, actorID, "admin_granted", "admin", userID, map[string]any{
			"roles":     roles,
			"super":     super,
			"bootstrap": bootstrap,
		})
	})
	if err != nil {
		return AdminGrant{}, err
	}

	_, isSuper, err := s.admins.IsAdmin(ctx, userID)
	if err != nil {
		return AdminGrant{}, err
	}
	granted, err := s.admins.Roles(ctx, userID)
	if err != nil {
		return AdminGrant{}, err
	}
	return AdminGrant{UserID: userID, Super: isSuper, Roles: granted}, nil
}
