package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// JWTConfig configures the bearer-token gate in front of the status
// surface. Unlike a multi-tenant API, this surface has exactly one
// principal per machine (the operator), so Claims carries a role
// ("operator" or "viewer") rather than a user ID namespace.
type JWTConfig struct {
	SecretKey  string
	Expiration time.Duration
	Issuer     string
	SkipPaths  []string
}

// Claims identifies the bearer and the role their token was issued
// under; ValidateToken callers gate write-capable routes (queue
// control, feedhold) on Role == "operator" and leave read-only routes
// open to "viewer" tokens too.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// JWTMiddleware rejects requests without a valid bearer token, except
// for paths matching config.SkipPaths (health checks, the login route
// itself).
func JWTMiddleware(config JWTConfig) fiber.Handler {
	if config.Expiration == 0 {
		config.Expiration = 12 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "motiond"
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, skip := range config.SkipPaths {
			if strings.HasPrefix(path, skip) {
				return c.Next()
			}
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization header",
			})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization header format",
			})
		}

		claims, err := ValidateToken(tokenString, config)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token: " + err.Error(),
			})
		}

		c.Locals("subject", claims.Subject)
		c.Locals("role", claims.Role)

		return c.Next()
	}
}

// RequireRole rejects any request whose token role isn't role,
// intended for routes that mutate queue/motion state (job submission,
// feedhold release) rather than merely observing it.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got, _ := c.Locals("role").(string)
		if got != role {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient role",
			})
		}
		return c.Next()
	}
}

// GenerateToken signs a new bearer token for subject under role.
func GenerateToken(subject, role string, config JWTConfig) (string, error) {
	if config.Expiration == 0 {
		config.Expiration = 12 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "motiond"
	}

	claims := Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(config.Expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.SecretKey))
}

// ValidateToken parses and verifies tokenString against config.
func ValidateToken(tokenString string, config JWTConfig) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.SecretKey), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// HashPassword bcrypt-hashes a password for storage. Nothing in this
// repository reads a stored credential file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
