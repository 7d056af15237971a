// Package reset implements password reset by emailed single-use link.
//
// FLOW:
//
//	RequestReset(username, email) → CreateToken → mail linkBase/<raw>
//	GET  /account/reset/<raw>     → Lookup      (no consumption)
//	POST /account/reset/<raw>     → Reset       (password + consume, one tx)
//
// The raw token exists only in the email. The database keeps its SHA-256
// digest, so a leaked table can't be replayed as links.
//
// Every rejection (unknown, expired, used, malformed) is the same
// apperror.ErrNotFound. The caller can't tell them apart, and neither can
// whoever is guessing links.
package reset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/mail"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
)

// MinPasswordBytes is the shortest password Reset accepts.
const MinPasswordBytes = 8

// rawTokenLen is the length of auth.NewSecret's output.
const rawTokenLen = 43

// Config is the reset flow's slice of the application settings.
type Config struct {
	// TTL is how long an emailed link stays valid.
	TTL time.Duration
}

type Service struct {
	cfg       Config
	tokens    repository.ResetTokenRepository
	users     repository.UserRepository
	passwords *auth.PasswordService
	mailer    mail.Mailer
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	cfg Config,
	tokens repository.ResetTokenRepository,
	users repository.UserRepository,
	passwords *auth.PasswordService,
	mailer mail.Mailer,
	logger *slog.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		tokens:    tokens,
		users:     users,
		passwords: passwords,
		mailer:    mailer,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateToken issues a new reset token for user and returns the raw value.
// Earlier tokens for the same user stay valid until they expire.
func (s *Service) CreateToken(ctx context.Context, user *model.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("reset: user must not be empty")
	}

	raw, err := auth.NewSecret()
	if err != nil {
		return "", fmt.Errorf("reset: generating token: %w", err)
	}

	now := s.now()
	token := &model.ResetToken{
		UserID:    user.ID,
		TokenHash: auth.HashSecret(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.tokens.CreateResetToken(ctx, token); err != nil {
		return "", fmt.Errorf("reset: storing token for user %s: %w", user.ID, err)
	}
	return raw, nil
}

// Lookup returns the owner and the token for a live raw value without
// consuming it.
func (s *Service) Lookup(ctx context.Context, raw string) (*model.User, *model.ResetToken, error) {
	if !wellFormed(raw) {
		return nil, nil, invalidLink()
	}

	token, err := s.tokens.GetResetTokenByHash(ctx, auth.HashSecret(raw))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, invalidLink()
		}
		return nil, nil, fmt.Errorf("reset: looking up token: %w", err)
	}
	if !token.IsLive(s.now()) {
		return nil, nil, invalidLink()
	}

	user, err := s.users.GetUserByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, invalidLink()
		}
		return nil, nil, fmt.Errorf("reset: loading user %s: %w", token.UserID, err)
	}
	return user, token, nil
}

// Reset sets a new password and consumes the token in one transaction.
// Of two concurrent calls with the same link, exactly one succeeds.
func (s *Service) Reset(ctx context.Context, raw, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if !wellFormed(raw) {
		return invalidLink()
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("reset: hashing password: %w", err)
	}

	user, err := s.tokens.RedeemResetToken(ctx, auth.HashSecret(raw), hash, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return invalidLink()
		}
		return fmt.Errorf("reset: redeeming token: %w", err)
	}

	s.logger.Info("password reset", slog.String("userID", user.ID))
	return nil
}

// Consume marks token used without touching the password. A token that is
// already used or expired reports apperror.ErrNotFound.
func (s *Service) Consume(ctx context.Context, token *model.ResetToken) error {
	if token == nil {
		return invalidLink()
	}
	if err := s.tokens.MarkResetTokenUsed(ctx, token.ID, s.now()); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return invalidLink()
		}
		return fmt.Errorf("reset: consuming token %s: %w", token.ID, err)
	}
	return nil
}

// RequestReset mails a reset link when username and email name the same
// account. It returns nil whether or not they do; only a malformed request
// is an error. Storage and mail failures are logged and swallowed for the
// same reason.
func (s *Service) RequestReset(ctx context.Context, username, email, linkBase string) error {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("reset request: loading user", slog.String("error", err.Error()))
		}
		return nil
	}
	if user.Email == "" || !strings.EqualFold(user.Email, email) {
		return nil
	}

	raw, err := s.CreateToken(ctx, user)
	if err != nil {
		s.logger.Warn("reset request: creating token",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	link := strings.TrimRight(linkBase, "/") + "/" + raw
	msg, err := resetMessage(user, link, s.cfg.TTL)
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		s.logger.Warn("reset request: sending mail",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// PurgeExpired deletes tokens that expired, or were used, more than one TTL
// ago.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteStaleResetTokens(ctx, s.now().Add(-s.cfg.TTL))
	if err != nil {
		return 0, fmt.Errorf("reset: purging tokens: %w", err)
	}
	return n, nil
}

// ValidatePassword enforces the length bounds: bcrypt ignores bytes past 72.
func ValidatePassword(p string) error {
	switch {
	case len(p) < MinPasswordBytes:
		return apperror.ValidationFailed("password", fmt.Sprintf("password must be at least %d characters", MinPasswordBytes))
	case len(p) > auth.MaxPasswordBytes:
		return apperror.ValidationFailed("password", fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes))
	}
	return nil
}

func invalidLink() error {
	return &apperror.AppError{Err: apperror.ErrNotFound, Message: "reset link is invalid or has expired"}
}

func wellFormed(raw string) bool {
	if len(raw) != rawTokenLen {
		return false
	}
	for _, c := range raw {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

var resetHTML = template.Must(template.New("reset").Parse(`<p>Hello {{.Username}},</p>
<p>Click the link below to reset your password:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>The link expires in {{.TTL}}. If you did not ask for a reset, ignore this email.</p>
`))

func resetMessage(user *model.User, link string, ttl time.Duration) (mail.Message, error) {
	data := struct {
		Username, Link, TTL string
	}{user.Username, link, ttl.String()}

	var html bytes.Buffer
	if err := resetHTML.Execute(&html, data); err != nil {
		return mail.Message{}, fmt.Errorf("reset: rendering mail: %w", err)
	}
	return mail.Message{
		To:      []string{user.Email},
		Subject: "Password Reset Request",
		Text:    "Click the link below to reset your password:\n" + link,
		HTML:    html.String(),
	}, nil
}
