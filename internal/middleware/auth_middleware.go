package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

type AuthMiddleware struct {
	jwtSecret   string
	issuer      string
	internalKey string
	skipPaths   map[string]bool
}

func NewAuthMiddleware(jwtSecret, issuer string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
		issuer:    issuer,
		skipPaths: map[string]bool{
			"/health":  true,
			"/ready":   true,
			"/version": true,
			"/metrics": true,
		},
	}
}

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth validates bearer tokens and stores the caller's user id on the context
func (a *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.shouldSkipAuth(c.Request.URL.Path) {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Authorization header required", "Missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "Invalid authorization format", "Authorization header must be 'Bearer <token>'")
			return
		}

		options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if a.issuer != "" {
			options = append(options, jwt.WithIssuer(a.issuer))
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.jwtSecret), nil
		}, options...)
		if err != nil || !token.Valid {
			message := "Token contains invalid claims"
			if err != nil {
				message = err.Error()
			}
			abortUnauthorized(c, "Invalid token", message)
			return
		}

		if claims.UserID == "" {
			abortUnauthorized(c, "Invalid token claims", "Token does not carry a user id")
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set("jwt_claims", claims)
		c.Next()
	}
}

// WithInternalKey enables InternalAPIAuth for service-to-service calls
func (a *AuthMiddleware) WithInternalKey(key string) *AuthMiddleware {
	a.internalKey = key
	return a
}

// InternalAPIAuth validates internal service API keys. Without a configured
// key every request is rejected.
func (a *AuthMiddleware) InternalAPIAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			abortUnauthorized(c, "API key required", "Missing X-API-Key header")
			return
		}

		if a.internalKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.internalKey)) != 1 {
			abortUnauthorized(c, "Invalid API key", "Invalid or expired API key")
			return
		}

		c.Set("is_internal", true)
		c.Set("service_name", c.GetHeader("X-Service-Name"))
		c.Next()
	}
}

// ValidateUserAccess ensures users can only act on their own mining state
func (a *AuthMiddleware) ValidateUserAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestedUserID := c.Param("userId")
		if requestedUserID == "" {
			c.Next()
			return
		}

		tokenUserID, ok := UserID(c)
		if !ok {
			abortUnauthorized(c, "User ID not found", "User ID not available in token")
			return
		}

		if tokenUserID != requestedUserID {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "Access denied",
				"message": "Cannot access other user's resources",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GenerateJWT creates a signed access token for a user
func (a *AuthMiddleware) GenerateJWT(userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    a.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.jwtSecret))
}

// UserID returns the authenticated user id set by JWTAuth
func UserID(c *gin.Context) (string, bool) {
	value, exists := c.Get(userIDKey)
	if !exists {
		return "", false
	}
	userID, ok := value.(string)
	return userID, ok && userID != ""
}

func (a *AuthMiddleware) shouldSkipAuth(path string) bool {
	if a.skipPaths[path] {
		return true
	}
	return strings.HasPrefix(path, "/swagger/")
}

func abortUnauthorized(c *gin.Context, errMsg, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   errMsg,
		"message": message,
	})
	c.Abort()
}
