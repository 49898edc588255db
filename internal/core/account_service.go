package core

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/okchat/okchat/internal/auth"
	"github.com/okchat/okchat/internal/store"
)

// AccountService owns identity records: local signup/login, OAuth account
// resolution, password rotation, and account deletion.
type AccountService struct {
	dbStore *store.SQLiteStore
	logger  *zap.Logger
}

func NewAccountService(db *store.SQLiteStore, logger *zap.Logger) *AccountService {
	return &AccountService{dbStore: db, logger: logger}
}

// Signup creates a local account. At least one of username/email must be
// set; both are unique across all accounts.
func (s *AccountService) Signup(username, email *string, password string) (*store.User, error) {
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.dbStore.CreateLocalUser(username, email, hashed)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user signed up", zap.Int64("user_id", user.ID))
	return user, nil
}

// Login verifies local credentials. The identifier matches username or
// email. OAuth-only accounts carry no password hash and can never pass.
func (s *AccountService) Login(identifier, password string) (*store.User, error) {
	user, err := s.dbStore.GetUserByIdentifier(identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !user.HasPassword() || !auth.CheckPasswordHash(password, *user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// LoginOAuth resolves a verified provider identity to a user, creating the
// account on first login. Idempotent on email.
func (s *AccountService) LoginOAuth(identity *auth.Identity) (*store.User, error) {
	user, err := s.dbStore.CreateOAuthUser(identity.Email, identity.DisplayName)
	if err != nil {
		return nil, err
	}
	s.logger.Info("oauth login", zap.Int64("user_id", user.ID))
	return user, nil
}

func (s *AccountService) ChangePassword(userID int64, oldPassword, newPassword string) error {
	user, err := s.dbStore.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return store.ErrNotFound
	}
	if !user.HasPassword() || !auth.CheckPasswordHash(oldPassword, *user.PasswordHash) {
		return ErrWrongOldPassword
	}

	hashed, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash new password: %w", err)
	}
	return s.dbStore.UpdatePasswordHash(userID, hashed)
}

// DeleteAccount removes the user and everything they own.
func (s *AccountService) DeleteAccount(userID int64) error {
	if err := s.dbStore.DeleteUser(userID); err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.Int64("user_id", userID))
	return nil
}
