package httpapi

import (
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cfszone_connect/answer_uma_provider/internal/authorize"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
)

var ErrNoLoginUser = errors.New("no login user")

// answerUserKey is where Answer's auth middleware stores the session user.
const answerUserKey = "ctxUuidKey"

// ExtractAnswerUserFromContext reads the Answer session user. The value is
// read by field name since Answer's type lives in its internal packages.
func ExtractAnswerUserFromContext(ctx *gin.Context) (*model.ResourceOwner, bool) {
	if ctx == nil {
		return nil, false
	}
	raw, exists := ctx.Get(answerUserKey)
	if !exists || raw == nil {
		return nil, false
	}
	value := reflect.ValueOf(raw)
	if value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil, false
		}
		value = value.Elem()
	}
	if !value.IsValid() || value.Kind() != reflect.Struct {
		return nil, false
	}

	userID := readStructStringField(value, "UserID")
	if userID == "" {
		return nil, false
	}
	username := readStructStringField(value, "Username")
	name := readStructStringField(value, "DisplayName")
	if username == "" {
		username = name
	}
	if username == "" {
		username = userID
	}
	if name == "" {
		name = username
	}
	claims := map[string]any{
		"preferred_username": username,
		"name":               name,
	}
	if mail := readStructStringField(value, "Mail"); mail != "" {
		claims["email"] = mail
		claims["email_verified"] = true
	}
	if role := readStructIntField(value, "RoleID"); role == 2 {
		claims["role"] = "administrator"
	}
	return &model.ResourceOwner{Subject: userID, Claims: claims}, true
}

func readStructStringField(value reflect.Value, fieldName string) string {
	field := value.FieldByName(fieldName)
	if !field.IsValid() || field.Kind() != reflect.String {
		return ""
	}
	return strings.TrimSpace(field.String())
}

func readStructIntField(value reflect.Value, fieldName string) int64 {
	field := value.FieldByName(fieldName)
	if !field.IsValid() || !field.CanInt() {
		return 0
	}
	return field.Int()
}

// AnswerUserResolver authenticates the end user from the Answer session.
func AnswerUserResolver(ctx HTTPContext) (authorize.Authenticated, error) {
	ginCtx, ok := ctx.(*GinContext)
	if !ok {
		return authorize.Authenticated{}, ErrNoLoginUser
	}
	owner, ok := ExtractAnswerUserFromContext(ginCtx.Gin())
	if !ok {
		return authorize.Authenticated{}, ErrNoLoginUser
	}
	return authorize.Authenticated{Owner: owner, AuthTime: time.Now().UTC()}, nil
}

// BasicUserResolver authenticates the end user with HTTP Basic credentials,
// for the standalone server which has no session of its own.
func BasicUserResolver(owners resourceowner.Authenticator) UserResolver {
	return func(ctx HTTPContext) (authorize.Authenticated, error) {
		raw := strings.TrimSpace(ctx.Header("Authorization"))
		if len(raw) < len("Basic ") || !strings.EqualFold(raw[:len("Basic ")], "basic ") {
			return authorize.Authenticated{}, ErrNoLoginUser
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw[len("Basic "):]))
		if err != nil {
			return authorize.Authenticated{}, ErrNoLoginUser
		}
		username, password, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return authorize.Authenticated{}, ErrNoLoginUser
		}
		owner, err := owners.Authenticate(ctx.Context(), username, password)
		if err != nil {
			return authorize.Authenticated{}, err
		}
		return authorize.Authenticated{Owner: owner, AuthTime: time.Now().UTC(), AMR: []string{"pwd"}}, nil
	}
}
