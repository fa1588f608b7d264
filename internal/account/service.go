package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

// Setting names read from the LifetimeSource.
const (
	SettingActivationLifetime    = "activation_token_lifetime"
	SettingPasswordResetLifetime = "password_reset_token_lifetime"
)

// TokenKind selects which one-time token a flow works with.
type TokenKind int

const (
	TokenActivation TokenKind = iota
	TokenPasswordReset
)

func (k TokenKind) String() string {
	switch k {
	case TokenActivation:
		return "activation"
	case TokenPasswordReset:
		return "password reset"
	default:
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
}

// Mailer delivers the plaintext tokens. A false result means the message was not accepted.
type Mailer interface {
	SendActivationEmail(ctx context.Context, email, token string) (bool, error)
	SendPasswordResetEmail(ctx context.Context, email, token string) (bool, error)
}

// LifetimeSource looks up token lifetimes in hours by setting name.
type LifetimeSource interface {
	LifetimeHours(ctx context.Context, name string) (int, error)
}

// RegisterOutcome reports the new account id and whether the activation email went out.
type RegisterOutcome struct {
	AccountID      int64
	EmailDelivered bool
}

// Service runs the account lifecycle: registration, activation and password reset.
// Every operation re-reads storage.
type Service struct {
	repo      *repo.AccountRepo
	hasher    utilities.Hasher
	mailer    Mailer
	lifetimes LifetimeSource
	logger    *zap.SugaredLogger
	// Now is the clock used for creation times and expiry checks.
	Now func() time.Time
}

func NewService(r *repo.AccountRepo, hasher utilities.Hasher, mailer Mailer, lifetimes LifetimeSource, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = utilities.BcryptHasher{Cost: utilities.DefaultBcryptCost}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: r, hasher: hasher, mailer: mailer, lifetimes: lifetimes, logger: logger, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) opLogger(op string) *zap.SugaredLogger {
	return s.logger.With("op", op, "op_id", utilities.NewKSUID())
}

// expired reports whether more than lifetimeHours passed since issuedAt.
func (s *Service) expired(issuedAt *int64, lifetimeHours int) bool {
	if issuedAt == nil {
		return true
	}
	return s.now().Unix()-*issuedAt > int64(lifetimeHours)*3600
}

// newToken returns a fresh token and the hash to store for it.
func (s *Service) newToken() (utilities.Token, string, error) {
	tok, err := s.hasher.GenerateToken()
	if err != nil {
		return utilities.Token{}, "", err
	}
	h, err := s.hasher.Hash(tok.Value)
	if err != nil {
		return utilities.Token{}, "", err
	}
	return tok, h, nil
}

// Register stores a new inactive account and mails its activation token.
// A failed email does not fail the registration; it is reported in the outcome.
func (s *Service) Register(ctx context.Context, a *entity.Account) (RegisterOutcome, error) {
	log := s.opLogger("register")

	byName, byEmail, err := s.repo.CountDuplicates(ctx, a.UserName, a.Email)
	if err != nil {
		return RegisterOutcome{}, err
	}
	if byName > 0 {
		return RegisterOutcome{}, &DuplicateKeyError{Key: "userName", Value: a.UserName}
	}
	if byEmail > 0 {
		return RegisterOutcome{}, &DuplicateKeyError{Key: "email", Value: a.Email}
	}

	hash, err := s.hasher.Hash(a.PlainPassword)
	if err != nil {
		return RegisterOutcome{}, err
	}
	a.PasswordHash = hash
	a.PlainPassword = ""
	a.CreatedAt = s.now().Unix()
	if len(a.Roles) == 0 {
		a.Roles = []string{entity.RoleUser}
	}

	tok, tokHash, err := s.newToken()
	if err != nil {
		return RegisterOutcome{}, err
	}
	a.SetActivationToken(tokHash, tok.IssuedAt)

	res, err := s.repo.Insert(ctx, a)
	if err != nil {
		return RegisterOutcome{}, &PersistenceError{Op: "register", Err: err}
	}
	if len(res.InsertIDs) != 1 || res.InsertIDs[0] == nil {
		cause := res.Errors[0]
		if dup := duplicateFromConstraint(cause, a); dup != nil {
			return RegisterOutcome{}, dup
		}
		return RegisterOutcome{}, &PersistenceError{Op: "register", Err: cause}
	}
	if err := a.SetID(*res.InsertIDs[0]); err != nil {
		return RegisterOutcome{}, err
	}
	log.Infow("account registered", "account_id", a.ID)

	out := RegisterOutcome{AccountID: a.ID}
	sent, err := s.mailer.SendActivationEmail(ctx, a.Email, tok.Value)
	if err != nil || !sent {
		log.Warnw("activation email not delivered", "account_id", a.ID, "err", err)
		return out, nil
	}
	out.EmailDelivered = true
	return out, nil
}

// duplicateFromConstraint maps a unique violation raised by the insert to the
// field it protects. It returns nil when err is not such a violation.
func duplicateFromConstraint(err error, a *entity.Account) error {
	constraint, ok := database.IsUniqueViolation(err)
	if !ok {
		return nil
	}
	switch {
	case strings.Contains(constraint, "user_name"):
		return &DuplicateKeyError{Key: "userName", Value: a.UserName}
	case strings.Contains(constraint, "email"):
		return &DuplicateKeyError{Key: "email", Value: a.Email}
	default:
		return nil
	}
}

// Activate checks token against the pending account registered with email and
// activates it. An expired token is replaced and mailed again.
func (s *Service) Activate(ctx context.Context, email, token string) error {
	log := s.opLogger("activate")

	a, err := s.repo.FindPendingActivation(ctx, email)
	if err != nil {
		return err
	}
	if a.ActivationHash == nil {
		return ErrInvalidToken
	}
	ok, err := s.hasher.Verify(token, *a.ActivationHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidToken
	}

	lifetime, err := s.lifetimes.LifetimeHours(ctx, SettingActivationLifetime)
	if err != nil {
		return fmt.Errorf("activation lifetime: %w", err)
	}
	if s.expired(a.ActivationHashGeneratedAt, lifetime) {
		rerr := s.Regenerate(ctx, email, TokenActivation)
		log.Infow("activation token expired", "account_id", a.ID, "resent", rerr == nil, "err", rerr)
		return &ActivationExpiredError{Resent: rerr == nil, ResendErr: rerr}
	}

	a.MarkActive()
	n, err := s.repo.Update(ctx, a, "is_active", "activation_hash", "activation_hash_gen_ts")
	if err != nil {
		return &PersistenceError{Op: "activate", Err: err}
	}
	if n != 1 {
		return &PersistenceError{Op: "activate", Affected: n}
	}
	log.Infow("account activated", "account_id", a.ID)
	return nil
}

// Regenerate issues a new token of kind for email, replacing the stored one,
// and mails it. Regenerating an activation token also deactivates the account.
func (s *Service) Regenerate(ctx context.Context, email string, kind TokenKind) error {
	log := s.opLogger("regenerate")

	tok, tokHash, err := s.newToken()
	if err != nil {
		return err
	}
	a := &entity.Account{Email: email}
	update := s.repo.Update
	var cols []string
	switch kind {
	case TokenActivation:
		a.SetActivationToken(tokHash, tok.IssuedAt)
		cols = []string{"is_active", "activation_hash", "activation_hash_gen_ts"}
	case TokenPasswordReset:
		// reset tokens only ever live on active accounts
		a.SetResetToken(tokHash, tok.IssuedAt)
		update = s.repo.UpdateActive
		cols = []string{"pw_reset_hash", "pw_reset_hash_gen_ts"}
	default:
		return fmt.Errorf("regenerate: unknown token kind %d", int(kind))
	}

	n, err := update(ctx, a, cols...)
	if err != nil {
		return &PersistenceError{Op: "regenerate " + kind.String(), Err: err}
	}
	if n != 1 {
		return &PersistenceError{Op: "regenerate " + kind.String(), Affected: n}
	}

	var sent bool
	if kind == TokenActivation {
		sent, err = s.mailer.SendActivationEmail(ctx, email, tok.Value)
	} else {
		sent, err = s.mailer.SendPasswordResetEmail(ctx, email, tok.Value)
	}
	if err != nil || !sent {
		return &EmailDeliveryError{Kind: kind, Email: email, Err: err}
	}
	log.Infow("token regenerated", "kind", kind.String())
	return nil
}

// ResendActivation replaces the activation token of an account still awaiting activation.
func (s *Service) ResendActivation(ctx context.Context, email string) error {
	if _, err := s.repo.FindWithActivationHash(ctx, email); err != nil {
		return err
	}
	return s.Regenerate(ctx, email, TokenActivation)
}

// InitiatePasswordReset mails a reset token to an active account.
func (s *Service) InitiatePasswordReset(ctx context.Context, email string) error {
	if _, err := s.repo.FindActive(ctx, email); err != nil {
		return err
	}
	return s.Regenerate(ctx, email, TokenPasswordReset)
}

// CompletePasswordReset sets a new password when token matches the pending reset.
func (s *Service) CompletePasswordReset(ctx context.Context, email, token, newPassword string) error {
	log := s.opLogger("complete_password_reset")

	a, err := s.repo.FindWithResetHash(ctx, email)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(token, *a.PwResetHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidToken
	}

	lifetime, err := s.lifetimes.LifetimeHours(ctx, SettingPasswordResetLifetime)
	if err != nil {
		return fmt.Errorf("password reset lifetime: %w", err)
	}
	if s.expired(a.PwResetHashGeneratedAt, lifetime) {
		a.ClearResetToken()
		if _, cerr := s.repo.Update(ctx, a, "pw_reset_hash", "pw_reset_hash_gen_ts"); cerr != nil {
			log.Warnw("clear expired reset token", "account_id", a.ID, "err", cerr)
		}
		return ErrTokenExpired
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	a.ClearResetToken()
	n, err := s.repo.Update(ctx, a, "password", "pw_reset_hash", "pw_reset_hash_gen_ts")
	if err != nil {
		return &PersistenceError{Op: "complete password reset", Err: err}
	}
	if n == 0 {
		return &PersistenceError{Op: "complete password reset", Affected: n}
	}
	log.Infow("password reset", "account_id", a.ID)
	return nil
}

// ExpirePasswordResets clears every reset token older than its lifetime in a
// single transaction and returns the number of accounts cleared.
func (s *Service) ExpirePasswordResets(ctx context.Context) (int64, error) {
	log := s.opLogger("expire_password_resets")

	lifetime, err := s.lifetimes.LifetimeHours(ctx, SettingPasswordResetLifetime)
	if err != nil {
		return 0, fmt.Errorf("password reset lifetime: %w", err)
	}
	cutoff := s.now().Unix() - int64(lifetime)*3600
	recs, err := s.repo.ExpiredResets(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	accounts := recs.Values()
	for _, a := range accounts {
		a.ClearResetToken()
	}
	n, err := s.repo.SaveResetState(ctx, accounts)
	if err != nil {
		var bulk *database.BulkChangeError
		if errors.As(err, &bulk) {
			log.Errorw("expire reset tokens", "rollback_failed", bulk.RollbackFailed, "err", bulk.Err)
		}
		return 0, &PersistenceError{Op: "expire password resets", Err: err}
	}
	log.Infow("expired reset tokens cleared", "count", n)
	return n, nil
}

// LookupAccounts loads the accounts registered with emails, keyed by email.
// Unknown emails are absent from the result.
func (s *Service) LookupAccounts(ctx context.Context, emails []string) (map[string]*entity.Account, error) {
	if len(emails) == 0 {
		return map[string]*entity.Account{}, nil
	}
	recs, err := s.repo.FindByEmails(ctx, emails)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*entity.Account, recs.Len())
	for _, a := range recs.Values() {
		out[a.Email] = a
	}
	return out, nil
}
