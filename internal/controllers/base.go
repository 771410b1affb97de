package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"EmbyToolbox/internal/helpers"
)

type LoginUser struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type APIResponseCode int

const (
	Success    APIResponseCode = 200
	BadRequest APIResponseCode = 500
)

type APIResponse[T any] struct {
	Code    APIResponseCode `json:"code"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
}

func ok[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, APIResponse[T]{Code: Success, Message: "ok", Data: data})
}

func fail(c *gin.Context, format string, args ...interface{}) {
	c.JSON(http.StatusOK, APIResponse[any]{Code: BadRequest, Message: fmt.Sprintf(format, args...)})
}

// JWTAuthMiddleware 基于JWT的认证中间件--验证用户是否登录
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.Request.Header.Get("Authorization")
		if authHeader == "" {
			// websocket握手没法带自定义header，允许query参数兜底
			authHeader = c.Query("token")
		}
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, APIResponse[any]{Code: BadRequest, Message: "Token不存在"})
			c.Abort()
			return
		}
		tokenString := strings.Replace(authHeader, "Bearer ", "", 1)
		loginUser, err := ValidateJWT(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, APIResponse[any]{Code: BadRequest, Message: fmt.Sprintf("Token无效：%v", err)})
			c.Abort()
			return
		}
		c.Set("username", loginUser.Username)
		c.Next()
	}
}

// ValidateJWT 校验JWT
func ValidateJWT(tokenString string) (*LoginUser, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LoginUser{}, func(token *jwt.Token) (any, error) {
		return []byte(helpers.GlobalConfig.JwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("登录凭证校验失败: %v", err)
	}
	claims := token.Claims.(*LoginUser)
	if claims.Username == "" {
		return nil, fmt.Errorf("登录凭证中无法获取用户名")
	}
	return claims, nil
}

// IssueJWT 签发7天有效期的登录凭证
func IssueJWT(username string) (string, error) {
	claims := LoginUser{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(7 * 24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(helpers.GlobalConfig.JwtSecret))
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login 账号密码换JWT
func Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, "请求参数有误: %v", err)
		return
	}
	if req.Username != helpers.GlobalConfig.AdminUsername ||
		req.Password != helpers.GlobalConfig.AdminPassword {
		fail(c, "用户名或密码错误")
		return
	}
	token, err := IssueJWT(req.Username)
	if err != nil {
		fail(c, "签发Token失败: %v", err)
		return
	}
	ok(c, gin.H{"token": token, "username": req.Username})
}

func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Length, X-CSRF-Token, Token, Accept, Origin, Host, Connection, Content-Type, Cache-Control, Pragma")
			c.Header("Access-Control-Max-Age", "172800")
			c.Header("Access-Control-Allow-Credentials", "false")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
