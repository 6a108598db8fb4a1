package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"tinyagent/internal/model"
	"tinyagent/internal/pkg/jwtutil"
	"tinyagent/internal/pkg/password"
	"tinyagent/internal/repository"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrAccountDisabled   = errors.New("account is disabled")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrUserNotFound      = errors.New("user not found")
)

const minPasswordLength = 6

type AuthService struct {
	userRepo      *repository.UserRepository
	hasher        password.Hasher
	jwtSecret     string
	jwtExpiration time.Duration
	now           func() time.Time
}

type RegisterInput struct {
	Username   string
	Password   string
	NickName   string
	RealName   string
	Sex        int
	Mobile     string
	Email      string
	Source     int
	RegisterIP string
}

type LoginInput struct {
	Username string
	Password string
}

type AuthResult struct {
	Token string
	User  *model.User
}

func NewAuthService(userRepo *repository.UserRepository, hasher password.Hasher, jwtSecret string, jwtExpiration time.Duration) *AuthService {
	return &AuthService{
		userRepo:      userRepo,
		hasher:        hasher,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
		now:           time.Now,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || len(input.Password) < minPasswordLength {
		return nil, ErrInvalidInput
	}

	existing, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameExists
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:     username,
		PasswordHash: hash,
		NickName:     strings.TrimSpace(input.NickName),
		RealName:     strings.TrimSpace(input.RealName),
		Sex:          input.Sex,
		Mobile:       strings.TrimSpace(input.Mobile),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Source:       input.Source,
		Status:       model.UserStatusEnabled,
		RegisterIP:   input.RegisterIP,
	}
	if user.NickName == "" {
		user.NickName = username
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrUsernameExists
		}
		return nil, err
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

// Login checks the password before the account status; a disabled account
// never gets a token.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || input.Password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !s.hasher.Verify(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCredential
	}
	if user.Disabled() {
		return nil, ErrAccountDisabled
	}

	now := s.now()
	if err := s.userRepo.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AuthService) SetUserStatus(ctx context.Context, userID uint, status int) error {
	if userID == 0 || (status != model.UserStatusEnabled && status != model.UserStatusDisabled) {
		return ErrInvalidInput
	}
	if _, err := s.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return s.userRepo.UpdateStatus(ctx, userID, status)
}
