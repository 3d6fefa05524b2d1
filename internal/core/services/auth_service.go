package services

import (
	"context"
	"errors"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// directCallLimit is the number of users a one-to-one call admits.
const directCallLimit = 2

type AuthService interface {
	GenerateToken(profile domain.Profile) (string, error)
	GenerateRefreshToken(userID domain.UserID) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
	CheckCallAccess(ctx context.Context, userID domain.UserID, callID domain.CallID) error
	GetUserFromContext(ctx context.Context) (domain.UserID, error)
}

type Claims struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	Avatar   string        `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Profile returns the display identity carried by the token.
func (c *Claims) Profile() domain.Profile {
	return domain.Profile{ID: c.UserID, Name: c.Username, Avatar: c.Avatar}
}

type authService struct {
	jwtSecret       []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	calls           ports.CallRepository // nil disables call access checks
}

func NewAuthService(
	jwtSecret string,
	accessTokenTTL time.Duration,
	refreshTokenTTL time.Duration,
	calls ports.CallRepository,
) AuthService {
	return &authService{
		jwtSecret:       []byte(jwtSecret),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
		calls:           calls,
	}
}

func (s *authService) GenerateToken(profile domain.Profile) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   profile.ID,
		Username: profile.Name,
		Avatar:   profile.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) GenerateRefreshToken(userID domain.UserID) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.ValidateToken(tokenString)
}

// CheckCallAccess lets anyone into a group call. A direct call admits its
// current participants and fills up to two users.
func (s *authService) CheckCallAccess(ctx context.Context, userID domain.UserID, callID domain.CallID) error {
	if s.calls == nil {
		return nil
	}

	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return err
	}

	if call.IsGroup || call.InitiatorID == userID || call.HasParticipant(userID) {
		return nil
	}
	if len(call.ParticipantIDs) < directCallLimit {
		return nil
	}

	return ErrUnauthorized
}

func (s *authService) GetUserFromContext(ctx context.Context) (domain.UserID, error) {
	userID, ok := ctx.Value("user_id").(domain.UserID)
	if !ok {
		return "", ErrUnauthorized
	}
	return userID, nil
}
