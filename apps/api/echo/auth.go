package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/access"
	"github.com/darasahq/darasa/core/principal"
)

var (
	// appJWTConfig is the default JWT auth middleware config.
	appJWTConfig = middleware.JWTConfig{
		SigningKey:    []byte(core.Conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    "principalToken",
		Claims:        new(Claims),
	}
	contextPrincipalKey = "principal"
)

// Claims represents the authorization claims transmitted via a JWT. Role and
// InstituteID are captured at token issue time; every request's access context
// is rebuilt from them.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
	InstituteID  string `json:"institute_id,omitempty"`
}

func GetPrincipalClaims(p principal.Principal, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    core.Conf.AppName,
			Subject:   p.ID,
			Audience:  "Darasa",
			ExpiresAt: now.Add(core.Conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Name:         p.Name,
		Email:        p.Email,
		Role:         p.Role,
		InstituteID:  p.InstituteID,
	}
}

func authenticate(ctx echo.Context, email, pwd string, svc *principal.Service) (*Claims, error) {
	p, err := svc.Authenticate(ctx.Request().Context(), email, pwd)
	if err != nil {
		switch errors.Cause(err) {
		case principal.ErrInvalidCredentials:
			return nil, errAuthenticationFailed
		case principal.ErrAccountDeactivated:
			return nil, errAccountDeactivated
		}
		return nil, errors.Wrap(err, "authenticating")
	}
	return GetPrincipalClaims(p), nil
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(appJWTConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(appJWTConfig.SigningKey)
	if err != nil {
		return "", errors.New("signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(appJWTConfig.ContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthenticated
}

// getAccessContext builds the immutable per-request identity context from the
// verified token claims. Handlers never build one themselves.
func getAccessContext(ctx echo.Context) (access.Context, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return access.Context{}, err
	}
	return access.Context{
		PrincipalID: claims.Subject,
		Role:        claims.Role,
		InstituteID: claims.InstituteID,
	}, nil
}

func getContextPrincipal(ctx echo.Context, svc *principal.Service, clms ...Claims) (principal.Principal, error) {
	if p, ok := ctx.Get(contextPrincipalKey).(principal.Principal); ok {
		return p, nil
	}

	var claims Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return principal.Principal{}, errors.Wrap(err, "getting context claims")
		}
	}

	// a self lookup always passes the scope check, unless the principal was
	// relinked since the token was issued; then a fresh login is required.
	ac := access.Context{PrincipalID: claims.Subject, Role: claims.Role, InstituteID: claims.InstituteID}
	p, err := svc.GetByID(ctx.Request().Context(), ac, claims.Subject)
	if err != nil {
		return principal.Principal{}, errors.Wrap(err, "finding principal by ID")
	}
	ctx.Set(contextPrincipalKey, p)
	return p, nil
}

func refreshToken(ctx echo.Context, svc *principal.Service) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	p, err := getContextPrincipal(ctx, svc, claims)
	if err != nil {
		return "", errors.Wrap(err, "getting context principal")
	}

	// check if principal is still active
	if !p.Active() {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(core.Conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	newClaims := GetPrincipalClaims(p, claims.OrigIssuedAt)
	token, err := GenerateToken(newClaims)
	return token, errors.Wrap(err, "generating token")
}
