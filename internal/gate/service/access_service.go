package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/colonia-access/gatekeeper/internal/gate/policy"
	"github.com/colonia-access/gatekeeper/internal/gate/qrtoken"
	"github.com/colonia-access/gatekeeper/internal/gate/store"
	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

var (
	ErrInvalidResident    = errors.New("resident id is required")
	ErrInvalidPurpose     = errors.New("purpose must be vehicular or pedestrian")
	ErrInvalidVisitorName = errors.New("visitor name is required")
	ErrTokenNotFound      = errors.New("token not found")
	ErrVisitorNotFound    = errors.New("visitor record not found")

	// ErrStoreUnavailable means a durable write failed earlier. Issuance
	// and registration are refused until the operator resolves it;
	// scans keep working as long as the store stays readable.
	ErrStoreUnavailable = errors.New("local store unavailable, new records refused")
)

// Session identifies the resident an operation acts for. It is built from
// a verified session token by the HTTP layer and passed explicitly; the
// core has no notion of a currently-logged-in resident.
type Session struct {
	ResidentID   string
	ResidentName string
}

// IssuePolicy bounds token issuance.
type IssuePolicy struct {
	// MaxLifetime caps expiresAt - issuedAt. Defaults to 60 days, the
	// furthest ahead residents may schedule a visit.
	MaxLifetime time.Duration

	// DefaultTTL applies when the resident does not pick a duration.
	DefaultTTL time.Duration
}

// AccessService orchestrates token issuance, visitor registration and the
// gate-side admission decision. Admission reads and writes only the local
// cache store; it never touches the network.
type AccessService struct {
	cache  store.CacheStore
	codec  *qrtoken.Codec
	window policy.Window
	policy IssuePolicy
	logger *log.Logger

	// now is replaceable in tests.
	now func() time.Time

	// degraded latches after a failed durable write.
	degraded atomic.Bool
}

func NewAccessService(cache store.CacheStore, codec *qrtoken.Codec, window policy.Window, pol IssuePolicy, logger *log.Logger) *AccessService {
	if pol.MaxLifetime <= 0 {
		pol.MaxLifetime = 60 * 24 * time.Hour
	}
	if pol.DefaultTTL <= 0 || pol.DefaultTTL > pol.MaxLifetime {
		pol.DefaultTTL = 12 * time.Hour
	}
	return &AccessService{
		cache:  cache,
		codec:  codec,
		window: window,
		policy: pol,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Test hook.
func (s *AccessService) WithClock(now func() time.Time) *AccessService {
	s.now = now
	return s
}

// Healthy reports whether durable writes are still being accepted.
func (s *AccessService) Healthy() bool { return !s.degraded.Load() }

// IssueToken creates a token for a visitor of the session's resident and
// returns it with its QR-embeddable encoding. The token is durably cached
// before the encoding is handed out.
func (s *AccessService) IssueToken(ctx context.Context, sess Session, purpose types.Purpose, visitorName string, ttl time.Duration) (types.AccessToken, string, error) {
	if s.degraded.Load() {
		return types.AccessToken{}, "", ErrStoreUnavailable
	}
	if sess.ResidentID == "" {
		return types.AccessToken{}, "", ErrInvalidResident
	}
	if !purpose.Valid() {
		return types.AccessToken{}, "", ErrInvalidPurpose
	}

	if ttl <= 0 {
		ttl = s.policy.DefaultTTL
	}
	if ttl > s.policy.MaxLifetime {
		ttl = s.policy.MaxLifetime
	}

	// Codec resolution is whole seconds.
	now := s.now().Truncate(time.Second)

	tok := types.AccessToken{
		ID:          uuid.NewString(),
		ResidentID:  sess.ResidentID,
		VisitorName: visitorName,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		Purpose:     purpose,
		Status:      types.StatusPending,
	}
	if s.window.Contains(now) {
		tok.Status = types.StatusActive
	}

	encoded, err := s.codec.Encode(tok)
	if err != nil {
		return types.AccessToken{}, "", fmt.Errorf("issue token: %w", err)
	}

	if _, err := s.cache.Put(ctx, store.CacheEntry{
		Kind:      store.KindToken,
		Token:     &tok,
		SyncState: store.SyncLocalOnly,
	}); err != nil {
		return types.AccessToken{}, "", s.writeFailed("issue token", err)
	}

	return tok, encoded, nil
}

// RegisterPedestrian records a walk-in visitor directly, with no token.
func (s *AccessService) RegisterPedestrian(ctx context.Context, sess Session, visitorName string) (types.VisitorRecord, error) {
	if s.degraded.Load() {
		return types.VisitorRecord{}, ErrStoreUnavailable
	}
	if sess.ResidentID == "" {
		return types.VisitorRecord{}, ErrInvalidResident
	}
	if visitorName == "" {
		return types.VisitorRecord{}, ErrInvalidVisitorName
	}

	rec := types.VisitorRecord{
		ID:         uuid.NewString(),
		ResidentID: sess.ResidentID,
		Name:       visitorName,
		EntryAt:    s.now().Truncate(time.Second),
	}

	if _, err := s.cache.Put(ctx, store.CacheEntry{
		Kind:      store.KindVisitor,
		Visitor:   &rec,
		SyncState: store.SyncLocalOnly,
	}); err != nil {
		return types.VisitorRecord{}, s.writeFailed("register pedestrian", err)
	}

	return rec, nil
}

// ScanAndAdmit decides one gate presentation. The decision depends only on
// the decoded payload, the clock and the local cache; a dead uplink
// changes nothing here.
func (s *AccessService) ScanAndAdmit(ctx context.Context, encoded string) (types.AdmitDecision, error) {
	now := s.now().Truncate(time.Second)

	tok, err := s.codec.Decode(encoded)
	if err != nil {
		return types.AdmitDecision{
			Reason:    decodeReason(err),
			DecidedAt: now,
		}, nil
	}

	entry, err := s.cache.Get(ctx, tok.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Integrity-checked payload issued from another portal instance
		// that has not reached us yet. Validate offline and record the
		// consumption locally; it wins over the remote row when the
		// pull catches up.
		return s.admitUncached(ctx, tok, now)
	}
	if err != nil {
		return types.AdmitDecision{}, fmt.Errorf("scan lookup %s: %w", tok.ID, err)
	}
	if entry.Kind != store.KindToken || entry.Token == nil {
		return types.AdmitDecision{Reason: types.ReasonInvalidCode, TokenID: tok.ID, DecidedAt: now}, nil
	}

	stored := *entry.Token

	switch stored.Status {
	case types.StatusConsumed:
		return s.reject(tok.ID, types.ReasonAlreadyConsumed, now), nil
	case types.StatusRevoked:
		return s.reject(tok.ID, types.ReasonRevoked, now), nil
	case types.StatusExpired:
		return s.reject(tok.ID, types.ReasonExpired, now), nil
	}

	if !s.window.Contains(now) {
		return s.reject(tok.ID, types.ReasonOutsideWindow, now), nil
	}

	if !now.Before(stored.ExpiresAt) {
		if _, err := s.cache.TransitionToken(ctx, tok.ID,
			[]types.TokenStatus{types.StatusPending, types.StatusActive}, types.StatusExpired); err != nil {
			return types.AdmitDecision{}, fmt.Errorf("expire %s: %w", tok.ID, err)
		}
		return s.reject(tok.ID, types.ReasonExpired, now), nil
	}

	// The compare-and-swap: of N concurrent scans of the same token,
	// exactly one lands this transition.
	won, err := s.cache.TransitionToken(ctx, tok.ID,
		[]types.TokenStatus{types.StatusPending, types.StatusActive}, types.StatusConsumed)
	if err != nil {
		return types.AdmitDecision{}, fmt.Errorf("consume %s: %w", tok.ID, err)
	}
	if !won {
		return s.reject(tok.ID, s.lostReason(ctx, tok.ID), now), nil
	}

	visitorID := s.recordEntry(ctx, stored, now)

	return types.AdmitDecision{
		Admitted:  true,
		TokenID:   tok.ID,
		VisitorID: visitorID,
		DecidedAt: now,
	}, nil
}

// EncodedToken returns a cached token with its QR-embeddable encoding,
// re-derived from the stored fields. Tokens of other residents read as
// not found.
func (s *AccessService) EncodedToken(ctx context.Context, sess Session, tokenID string) (types.AccessToken, string, error) {
	tok, err := s.ownedToken(ctx, sess, tokenID)
	if err != nil {
		return types.AccessToken{}, "", err
	}
	encoded, err := s.codec.Encode(tok)
	if err != nil {
		return types.AccessToken{}, "", fmt.Errorf("encode %s: %w", tokenID, err)
	}
	return tok, encoded, nil
}

// Revoke moves a Pending/Active token of the session's resident to
// Revoked. Consumed and Expired tokens are left untouched.
func (s *AccessService) Revoke(ctx context.Context, sess Session, tokenID string) error {
	if _, err := s.ownedToken(ctx, sess, tokenID); err != nil {
		return err
	}
	if _, err := s.cache.TransitionToken(ctx, tokenID,
		[]types.TokenStatus{types.StatusPending, types.StatusActive}, types.StatusRevoked); err != nil {
		return fmt.Errorf("revoke %s: %w", tokenID, err)
	}
	return nil
}

func (s *AccessService) ownedToken(ctx context.Context, sess Session, tokenID string) (types.AccessToken, error) {
	entry, err := s.cache.Get(ctx, tokenID)
	if errors.Is(err, store.ErrNotFound) {
		return types.AccessToken{}, ErrTokenNotFound
	}
	if err != nil {
		return types.AccessToken{}, fmt.Errorf("lookup %s: %w", tokenID, err)
	}
	if entry.Kind != store.KindToken || entry.Token == nil {
		return types.AccessToken{}, ErrTokenNotFound
	}
	if sess.ResidentID == "" || entry.Token.ResidentID != sess.ResidentID {
		return types.AccessToken{}, ErrTokenNotFound
	}
	return *entry.Token, nil
}

// MarkExit stamps the exit time on an admitted visitor record.
func (s *AccessService) MarkExit(ctx context.Context, visitorID string) (types.VisitorRecord, error) {
	entry, err := s.cache.Get(ctx, visitorID)
	if errors.Is(err, store.ErrNotFound) {
		return types.VisitorRecord{}, ErrVisitorNotFound
	}
	if err != nil {
		return types.VisitorRecord{}, fmt.Errorf("mark exit %s: %w", visitorID, err)
	}
	if entry.Kind != store.KindVisitor || entry.Visitor == nil {
		return types.VisitorRecord{}, ErrVisitorNotFound
	}
	if entry.Visitor.ExitAt != nil {
		return *entry.Visitor, nil // already stamped
	}

	exit := s.now().Truncate(time.Second)
	entry.Visitor.ExitAt = &exit
	entry.SyncState = store.SyncLocalOnly

	if _, err := s.cache.Put(ctx, entry); err != nil {
		return types.VisitorRecord{}, s.writeFailed("mark exit", err)
	}
	return *entry.Visitor, nil
}

// admitUncached handles a structurally valid payload with no cache row.
func (s *AccessService) admitUncached(ctx context.Context, tok types.AccessToken, now time.Time) (types.AdmitDecision, error) {
	if !s.window.Contains(now) {
		return s.reject(tok.ID, types.ReasonOutsideWindow, now), nil
	}
	if !now.Before(tok.ExpiresAt) {
		return s.reject(tok.ID, types.ReasonExpired, now), nil
	}

	tok.Status = types.StatusConsumed
	if _, err := s.cache.Put(ctx, store.CacheEntry{
		Kind:      store.KindToken,
		Token:     &tok,
		SyncState: store.SyncLocalOnly,
	}); err != nil {
		return types.AdmitDecision{}, s.writeFailed("record uncached consumption", err)
	}

	visitorID := s.recordEntry(ctx, tok, now)

	return types.AdmitDecision{
		Admitted:  true,
		TokenID:   tok.ID,
		VisitorID: visitorID,
		DecidedAt: now,
	}, nil
}

// recordEntry writes the visitor record for a consumed token. Admission is
// already durable at this point, so a failed write is logged and degrades
// the service rather than reversing the decision.
func (s *AccessService) recordEntry(ctx context.Context, tok types.AccessToken, now time.Time) string {
	rec := types.VisitorRecord{
		ID:         uuid.NewString(),
		TokenID:    tok.ID,
		ResidentID: tok.ResidentID,
		Name:       tok.VisitorName,
		EntryAt:    now,
	}
	if _, err := s.cache.Put(ctx, store.CacheEntry{
		Kind:      store.KindVisitor,
		Visitor:   &rec,
		SyncState: store.SyncLocalOnly,
	}); err != nil {
		s.logger.Printf("visitor record for token %s failed: %v", tok.ID, err)
		if errors.Is(err, store.ErrStorage) {
			s.degraded.Store(true)
		}
		return ""
	}
	return rec.ID
}

// lostReason reports why a losing concurrent transition was refused.
func (s *AccessService) lostReason(ctx context.Context, tokenID string) types.RejectReason {
	entry, err := s.cache.Get(ctx, tokenID)
	if err != nil || entry.Token == nil {
		return types.ReasonAlreadyConsumed
	}
	switch entry.Token.Status {
	case types.StatusRevoked:
		return types.ReasonRevoked
	case types.StatusExpired:
		return types.ReasonExpired
	default:
		return types.ReasonAlreadyConsumed
	}
}

func (s *AccessService) reject(tokenID string, reason types.RejectReason, now time.Time) types.AdmitDecision {
	return types.AdmitDecision{
		Reason:    reason,
		TokenID:   tokenID,
		DecidedAt: now,
	}
}

func (s *AccessService) writeFailed(op string, err error) error {
	if errors.Is(err, store.ErrStorage) {
		// Offline safety rests on the durable cache; stop taking new
		// records until the operator intervenes.
		s.degraded.Store(true)
		s.logger.Printf("%s: durable write failed, refusing new records: %v", op, err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func decodeReason(err error) types.RejectReason {
	switch {
	case errors.Is(err, qrtoken.ErrIntegrityMismatch):
		return types.ReasonIntegrityMismatch
	case errors.Is(err, qrtoken.ErrUnsupportedVersion):
		return types.ReasonUnsupportedVersion
	default:
		return types.ReasonInvalidCode
	}
}
