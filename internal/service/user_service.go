package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"jewelcraft/internal/apperr"
	"jewelcraft/internal/auth"
	"jewelcraft/internal/models"
	"jewelcraft/internal/store"
	"jewelcraft/internal/util"

	"go.uber.org/zap"
)

// UserService manages staff accounts and issues bearer tokens
type UserService struct {
	users   UserRepository
	tokens  *auth.TokenManager
	timeout storeCall
	logger  *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(users UserRepository, tokens *auth.TokenManager, storeTimeout time.Duration) *UserService {
	return &UserService{
		users:   users,
		tokens:  tokens,
		timeout: storeCall(storeTimeout),
		logger:  util.GetLogger(),
	}
}

// LoginResult is a verified user and a token for it
type LoginResult struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Register creates an account. Callers gate this on the owner role.
func (s *UserService) Register(ctx context.Context, req *models.RegisterUserRequest) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Register")
	defer span.End()

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Internal(err, "hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		Role:         req.Role,
		PasswordHash: hash,
	}

	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	if err := s.users.CreateUser(callCtx, user); err != nil {
		var dup *store.DuplicateError
		if errors.As(err, &dup) {
			if dup.Field == "email" {
				return nil, apperr.ValidationCode(apperr.CodeDuplicateEmail, "email %s is already registered", user.Email)
			}
			return nil, apperr.ValidationCode(apperr.CodeDuplicateUsername, "username %s is already taken", user.Username)
		}
		util.RecordError(span, err)
		return nil, unexpected("create user", err)
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("role", user.Role.String()))
	return user, nil
}

// Login checks credentials and issues a token
func (s *UserService) Login(ctx context.Context, req *models.LoginRequest) (*LoginResult, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Login")
	defer span.End()

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := req.Validate(); err != nil {
		return nil, err
	}

	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	user, err := s.users.GetUserByEmail(callCtx, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthorized(apperr.CodeInvalidCredentials, "invalid email or password")
	}
	if err != nil {
		return nil, unexpected("find user", err)
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		return nil, apperr.Unauthorized(apperr.CodeInvalidCredentials, "invalid email or password")
	}

	token, err := s.tokens.Issue(auth.Principal{UserID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		return nil, apperr.Internal(err, "issue token")
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return &LoginResult{User: user, Token: token}, nil
}

// Me returns the account behind a verified principal
func (s *UserService) Me(ctx context.Context, userID string) (*models.User, error) {
	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	user, err := s.users.GetUserByID(callCtx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return nil, unexpected("get user", err)
	}
	return user, nil
}

// List returns every account. Callers gate this on the owner role.
func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	users, err := s.users.ListUsers(callCtx)
	if err != nil {
		return nil, unexpected("list users", err)
	}
	return users, nil
}

// EnsureOwner creates the first owner account unless one already exists.
// It reports whether an account was created.
func (s *UserService) EnsureOwner(ctx context.Context, username, email, password string) (bool, error) {
	callCtx, cancel := s.timeout.ctx(ctx)
	n, err := s.users.CountUsersByRole(callCtx, string(auth.RoleOwner))
	cancel()
	if err != nil {
		return false, unexpected("count owners", err)
	}
	if n > 0 {
		s.logger.Info("owner account already present, nothing to do")
		return false, nil
	}

	if _, err := s.Register(ctx, &models.RegisterUserRequest{
		Username: username,
		Email:    email,
		Password: password,
		Role:     auth.RoleOwner,
	}); err != nil {
		return false, err
	}
	return true, nil
}
