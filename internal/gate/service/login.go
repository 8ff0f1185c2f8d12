package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/colonia-access/gatekeeper/internal/gate/auth"
	"github.com/colonia-access/gatekeeper/internal/gate/store"
	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

// ErrBadCredentials covers both an unknown resident and a wrong access
// code, so responses do not reveal which names exist.
var ErrBadCredentials = errors.New("unknown resident or wrong access code")

// LoginService authenticates residents against the locally mirrored
// directory and mints session tokens. Because the directory is cached,
// login keeps working with the uplink down.
type LoginService struct {
	cache  store.CacheStore
	signer auth.Signer
}

func NewLoginService(cache store.CacheStore, signer auth.Signer) *LoginService {
	return &LoginService{cache: cache, signer: signer}
}

// Login checks the resident's name and access code and returns a signed
// session token. Name matching is case-insensitive; the code is not.
func (s *LoginService) Login(ctx context.Context, name, accessCode string) (string, types.Resident, error) {
	name = strings.TrimSpace(name)
	if name == "" || accessCode == "" {
		return "", types.Resident{}, ErrBadCredentials
	}

	res, err := s.cache.FindResidentByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return "", types.Resident{}, ErrBadCredentials
	}
	if err != nil {
		return "", types.Resident{}, fmt.Errorf("login lookup: %w", err)
	}

	if res.AccessCode == "" || res.AccessCode != strings.TrimSpace(accessCode) {
		return "", types.Resident{}, ErrBadCredentials
	}

	token, err := s.signer.Issue(res.ID, res.Name)
	if err != nil {
		return "", types.Resident{}, fmt.Errorf("sign session: %w", err)
	}
	return token, res, nil
}
