package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity is the player's locally minted id. The server never issues ids;
// whoever holds the file is the player.
type Identity struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BaseDir is $RTL_HOME, or ~/.rtl when unset. It is created on demand.
func BaseDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv("RTL_HOME"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".rtl")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func identityPath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "identity.json"), nil
}

// NewUserID mints a random 32 character hex id.
func NewUserID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func SaveIdentity(id Identity) error {
	path, err := identityPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

func LoadIdentity() (Identity, error) {
	path, err := identityPath()
	if err != nil {
		return Identity{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(body, &id); err != nil {
		return Identity{}, err
	}
	if strings.TrimSpace(id.UserID) == "" {
		return Identity{}, fmt.Errorf("no user id found in identity file")
	}
	return id, nil
}

// EnsureIdentity loads the stored identity, minting and saving a new one on
// first use. created reports whether a new id was minted.
func EnsureIdentity() (id Identity, created bool, err error) {
	id, err = LoadIdentity()
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Identity{}, false, err
	}
	id = Identity{UserID: NewUserID(), CreatedAt: time.Now().UTC()}
	if err := SaveIdentity(id); err != nil {
		return Identity{}, false, err
	}
	return id, true, nil
}

func ClearIdentity() error {
	path, err := identityPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
