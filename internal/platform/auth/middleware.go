package auth

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"library-backend/internal/platform/apierr"
)

const (
	CtxUserIDKey = "user_id"
	CtxEmailKey  = "email"
)

// RequireAuth: Authorization: Bearer <token> を検証して context に user_id / email を詰める
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			apierr.Respond(c, apierr.Unauthorized("missing Authorization header"))
			return
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			apierr.Respond(c, apierr.Unauthorized("invalid Authorization header"))
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			apierr.Respond(c, apierr.Unauthorized("empty token"))
			return
		}

		// alg は HS256 固定
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil || token == nil || !token.Valid {
			apierr.Respond(c, apierr.Unauthorized("invalid token"))
			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			apierr.Respond(c, apierr.Unauthorized("missing sub"))
			return
		}
		uid, err := strconv.ParseInt(sub, 10, 64)
		if err != nil || uid <= 0 {
			apierr.Respond(c, apierr.Unauthorized("invalid sub"))
			return
		}

		email, _ := claims["email"].(string)
		c.Set(CtxUserIDKey, uid)
		c.Set(CtxEmailKey, email)
		c.Next()
	}
}

// UserID は RequireAuth が詰めたログイン中ユーザーのID
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
