package devapi

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// BootstrapAdmin creates an initial admin user when none exists.
// It is idempotent: if an admin already exists, it does nothing.
func BootstrapAdmin(store *Store, cfg Config, logger *zap.Logger) error {
	if !cfg.BootstrapAdmin || store.HasAdmin() {
		return nil
	}

	username := "admin"
	password, err := generatePassword(32)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if _, err := store.CreateUser(User{
		Username:     username,
		Email:        "admin@localhost",
		DisplayName:  "Administrator",
		Role:         RoleAdmin,
		PasswordHash: string(hash),
	}); err != nil {
		return err
	}

	if cfg.InitialAdminPasswordPath != "" {
		if err := os.WriteFile(cfg.InitialAdminPasswordPath, []byte(password+"\n"), 0o600); err != nil {
			return err
		}
		logger.Info("initial admin created", zap.String("username", username), zap.String("password_file", cfg.InitialAdminPasswordPath))
	} else {
		logger.Info("initial admin created", zap.String("username", username), zap.String("password", password))
	}

	return nil
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	// base64 yields 4 chars per 3 bytes, so length bytes always cover length chars.
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}
