package services

import (
	"errors"
	"time"

	"syncroom/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AdminRole marks tokens allowed to call the room admin API.
const AdminRole = "admin"

type AuthService interface {
	// IssueJoinToken signs an entitlement for one participant in one room.
	// The token never outlives the room.
	IssueJoinToken(room *domain.Room, participantID domain.ParticipantID, name string, role domain.Role) (string, error)
	ValidateJoinToken(tokenString string) (*JoinClaims, error)
	// Authorize checks a join against its token and returns the participant
	// with the role granted by the token.
	Authorize(tokenString string, roomID domain.RoomID, participant domain.Participant) (domain.Participant, error)
	IssueAdminToken(subject string) (string, error)
	ValidateAdminToken(tokenString string) (*AdminClaims, error)
}

type JoinClaims struct {
	RoomID        domain.RoomID        `json:"room_id"`
	ParticipantID domain.ParticipantID `json:"participant_id"`
	Name          string               `json:"name,omitempty"`
	Role          domain.Role          `json:"role"`
	jwt.RegisteredClaims
}

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret     []byte
	joinTokenTTL  time.Duration
	adminTokenTTL time.Duration
	now           func() time.Time
}

func NewAuthService(jwtSecret string, joinTokenTTL, adminTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:     []byte(jwtSecret),
		joinTokenTTL:  joinTokenTTL,
		adminTokenTTL: adminTokenTTL,
		now:           time.Now,
	}
}

func (s *authService) IssueJoinToken(room *domain.Room, participantID domain.ParticipantID, name string, role domain.Role) (string, error) {
	if !role.Valid() {
		return "", domain.ErrInvalidRole
	}
	now := s.now()
	expires := now.Add(s.joinTokenTTL)
	if roomExpiry := room.ExpiresAt(); roomExpiry.Before(expires) {
		expires = roomExpiry
	}

	claims := &JoinClaims{
		RoomID:        room.ID,
		ParticipantID: participantID,
		Name:          name,
		Role:          role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(participantID),
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateJoinToken(tokenString string) (*JoinClaims, error) {
	claims := &JoinClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.RoomID == "" || claims.ParticipantID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) Authorize(tokenString string, roomID domain.RoomID, participant domain.Participant) (domain.Participant, error) {
	if tokenString == "" {
		return participant, domain.ErrNotEntitled
	}
	claims, err := s.ValidateJoinToken(tokenString)
	if err != nil {
		return participant, errors.Join(domain.ErrNotEntitled, err)
	}
	if claims.RoomID != roomID || claims.ParticipantID != participant.ID {
		return participant, domain.ErrNotEntitled
	}
	participant.Role = claims.Role
	if participant.DisplayName == "" {
		participant.DisplayName = claims.Name
	}
	return participant, nil
}

func (s *authService) IssueAdminToken(subject string) (string, error) {
	now := s.now()
	claims := &AdminClaims{
		Role: AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.adminTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateAdminToken(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Role != AdminRole {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func (s *authService) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
