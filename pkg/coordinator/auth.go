package coordinator

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/catalogfi/xswap/pkg/store"
	"github.com/dgrijalva/jwt-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/spruceid/siwe-go"
)

const (
	nonceExpiry = 10 * time.Minute
	tokenExpiry = 24 * time.Hour

	resolverKey = "userWallet"
)

// VerifySiwe is a signed Sign-In with Ethereum message.
type VerifySiwe struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type Claims struct {
	UserWallet string `json:"userWallet"`
	jwt.StandardClaims
}

// Auth issues sign-in nonces and JWTs to resolvers.
type Auth struct {
	secret []byte
	store  store.Store
	nowFn  func() time.Time
}

func NewAuth(secret string, st store.Store) *Auth {
	return &Auth{secret: []byte(secret), store: st, nowFn: time.Now}
}

// Nonce hands out a single use sign-in nonce.
func (a *Auth) Nonce() (string, error) {
	nonce := siwe.GenerateNonce()
	if err := a.store.PutNonce(nonce, nonceExpiry); err != nil {
		return "", err
	}
	return nonce, nil
}

// Verify checks a SIWE message signed by the resolver and returns a signed
// JWT for its address.
func (a *Auth) Verify(req VerifySiwe) (string, error) {
	parsed, err := siwe.ParseMessage(req.Message)
	if err != nil {
		return "", fmt.Errorf("%w: parse message: %v", ErrUnauthorized, err)
	}
	valid, err := parsed.ValidNow()
	if err != nil {
		return "", fmt.Errorf("%w: validate message: %v", ErrUnauthorized, err)
	}
	if !valid {
		return "", fmt.Errorf("%w: message expired", ErrUnauthorized)
	}

	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := verifyPersonal(req.Message, sig, parsed.GetAddress()); err != nil {
		return "", err
	}
	ok, err := a.store.ConsumeNonce(parsed.GetNonce())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: unknown or expired nonce", ErrUnauthorized)
	}

	now := a.nowFn()
	claims := &Claims{
		UserWallet: strings.ToLower(parsed.GetAddress().Hex()),
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(tokenExpiry).Unix(),
			IssuedAt:  now.Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate is gin middleware accepting a JWT issued by Verify, either as
// the Authorization header or, for browsers opening a websocket, the token
// query parameter.
func (a *Auth) Authenticate(ctx *gin.Context) {
	tokenString := strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer ")
	if tokenString == "" {
		tokenString = ctx.Query("token")
	}
	if tokenString == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
		return
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !common.IsHexAddress(claims.UserWallet) {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
		return
	}
	ctx.Set(resolverKey, common.HexToAddress(claims.UserWallet))
	ctx.Next()
}
