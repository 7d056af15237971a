package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/mail"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/repository"
	"github.com/sakif/storefront/internal/reset"
)

// AccountService handles registration, login and username reminders.
//
// DEPENDENCIES (injected via NewAccountService):
//   - users      repository.UserRepository → read/write accounts
//   - tokens     *auth.TokenService        → sign the login JWT
//   - passwords  *auth.PasswordService     → bcrypt hashing
//   - mailer     mail.Mailer               → forgot-username email
type AccountService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mailer    mail.Mailer
	logger    *slog.Logger
}

func NewAccountService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	mailer mail.Mailer,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		mailer:    mailer,
		logger:    logger,
	}
}

// RegisterInput is what the sign-up form collects. StoreName and Bio are
// only read for vendors.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	Role      model.Role
	StoreName string
	Bio       string
}

// AuthResult bundles the user and the signed JWT so the handler can set the
// cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Store *model.Store // set when a vendor registers
	Token string
}

// Register creates an account. A vendor gets their first store in the same
// transaction, named "<username>'s Store" unless they chose a name.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := reset.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = model.RoleCustomer
	}
	if in.Role != model.RoleCustomer && in.Role != model.RoleVendor {
		return nil, apperror.ValidationFailed("role", "role must be customer or vendor")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/account: hashing password: %w", err)
	}
	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
	}

	result := &AuthResult{User: user}
	if in.Role == model.RoleVendor {
		name := strings.TrimSpace(in.StoreName)
		if name == "" {
			name = in.Username + "'s Store"
		}
		store := &model.Store{Name: name, Bio: strings.TrimSpace(in.Bio)}
		if err := validateStore(store.Name, store.Bio); err != nil {
			return nil, err
		}
		if err := s.users.CreateVendor(ctx, user, store); err != nil {
			return nil, err
		}
		result.Store = store
	} else if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("account registered",
		slog.String("userID", user.ID),
		slog.String("role", string(user.Role)),
	)

	if result.Token, err = s.tokens.Generate(user.ID); err != nil {
		return nil, fmt.Errorf("service/account: generating token for %s: %w", user.ID, err)
	}
	return result, nil
}

// Login checks the credentials. Every failure is the same Unauthorized so
// the response never says which half was wrong.
func (s *AccountService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	invalid := apperror.Unauthorized("invalid username or password")

	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/account: loading %q: %w", username, err)
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("unusable password hash", slog.String("userID", user.ID), slog.String("error", err.Error()))
		}
		return nil, invalid
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: generating token for %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// GetUserByID returns the account behind a validated JWT.
func (s *AccountService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return loadUser(ctx, s.users, id)
}

// ForgotUsername mails every username registered with email. The result is
// the same whether or not any account matched.
func (s *AccountService) ForgotUsername(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return apperror.ValidationFailed("email", "a valid email address is required")
	}

	users, err := s.users.ListUsersByEmail(ctx, email)
	if err != nil {
		s.logger.Warn("forgot username: listing users", slog.String("error", err.Error()))
		return nil
	}
	if len(users) == 0 {
		return nil
	}

	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	err = s.mailer.Send(ctx, mail.Message{
		To:      []string{email},
		Subject: "Your Username",
		Text:    "Your username(s): " + strings.Join(names, ", "),
	})
	if err != nil {
		s.logger.Warn("forgot username: sending mail", slog.String("error", err.Error()))
	}
	return nil
}

// validateUsername allows letters, digits and @.+-_ like most sign-up forms.
func validateUsername(u string) error {
	if len(u) < MinUsernameLength || len(u) > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength))
	}
	for _, c := range u {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("@.+-_", c):
		default:
			return apperror.ValidationFailed("username", "username may only contain letters, digits and @.+-_")
		}
	}
	return nil
}
