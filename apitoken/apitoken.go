// Package apitoken authenticates against the Matomo HTTP API and mints app-specific tokens.
package apitoken

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
)

const (
	StrategyExchange = "exchange"
	StrategySession  = "session"

	apiPath      = "/index.php"
	maxErrorBody = 200
)

var (
	ErrUnknownStrategy = errors.New("unknown token strategy: must be exchange or session")
	ErrMissingLogin    = errors.New("admin user and password are required")

	tokenPattern = regexp.MustCompile(`^[a-f0-9]{32,64}$`)
)

// CreationError is returned when Matomo refused or garbled an authentication or
// token-creation call.
type CreationError struct {
	Op     string
	Status int
	Body   string
	Msg    string
}

func (e *CreationError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("HTTP %d during %s: %s", e.Status, e.Op, e.Body)
	}
	return fmt.Sprintf("%s during %s: %s", e.Msg, e.Op, e.Body)
}

// Credentials identify the Matomo superuser.
type Credentials struct {
	Login    string
	Password string
}

// Acquirer obtains an API token for the superuser.
type Acquirer interface {
	Acquire(ctx context.Context, creds Credentials, description string) (string, error)
}

// New returns the acquirer for strategy ("" selects exchange).
func New(strategy string, client *Client, log logger.Logger) (Acquirer, error) {
	switch strings.ToLower(strategy) {
	case "", StrategyExchange:
		return &ExchangeAcquirer{client: client, logger: log}, nil
	case StrategySession:
		return &SessionAcquirer{client: client, logger: log}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// ValidToken reports whether s looks like a Matomo token: 32 to 64 lowercase hex characters.
func ValidToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// HashPassword returns the hex MD5 digest Matomo's legacy API expects.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// ExchangeAcquirer trades login and password hash for the user's token_auth, then
// creates an app-specific token with it.
type ExchangeAcquirer struct {
	client *Client
	logger logger.Logger
}

// Acquire returns a new app-specific token.
func (a *ExchangeAcquirer) Acquire(ctx context.Context, creds Credentials, description string) (string, error) {
	if creds.Login == "" || creds.Password == "" {
		return "", ErrMissingLogin
	}

	status, body, err := a.client.Get(ctx, apiPath, url.Values{
		"module":      {"API"},
		"method":      {"UsersManager.getTokenAuth"},
		"userLogin":   {creds.Login},
		"md5Password": {HashPassword(creds.Password)},
		"format":      {"json"},
	})
	if err != nil {
		return "", fmt.Errorf("getTokenAuth: %w", err)
	}
	adminToken, err := parseValue("getTokenAuth", status, body, true)
	if err != nil {
		return "", err
	}
	a.logger.Debug(ctx, "obtained admin token_auth", nil)

	return createAppToken(ctx, a.client, a.logger, url.Values{
		"module":               {"API"},
		"method":               {"UsersManager.createAppSpecificTokenAuth"},
		"userLogin":            {creds.Login},
		"passwordConfirmation": {creds.Password},
		"description":          {description},
		"format":               {"json"},
		"token_auth":           {adminToken},
	})
}

// SessionAcquirer logs in through the classic login form and creates the token on the
// resulting session.
type SessionAcquirer struct {
	client *Client
	logger logger.Logger
}

// Acquire returns a new app-specific token.
func (a *SessionAcquirer) Acquire(ctx context.Context, creds Credentials, description string) (string, error) {
	if creds.Login == "" || creds.Password == "" {
		return "", ErrMissingLogin
	}

	status, body, err := a.client.Get(ctx, apiPath, url.Values{
		"module":   {"Login"},
		"action":   {"logme"},
		"login":    {creds.Login},
		"password": {HashPassword(creds.Password)},
	})
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if status != http.StatusOK {
		return "", &CreationError{Op: "login", Status: status, Body: truncate(body)}
	}
	a.logger.Debug(ctx, "login session established", nil)

	return createAppToken(ctx, a.client, a.logger, url.Values{
		"module":               {"API"},
		"method":               {"UsersManager.createAppSpecificTokenAuth"},
		"userLogin":            {creds.Login},
		"passwordConfirmation": {creds.Password},
		"description":          {description},
		"format":               {"json"},
		"force_api_session":    {"1"},
	})
}

func createAppToken(ctx context.Context, client *Client, log logger.Logger, form url.Values) (string, error) {
	status, body, err := client.PostForm(ctx, apiPath, form)
	if err != nil {
		return "", fmt.Errorf("token creation: %w", err)
	}
	token, err := parseValue("token creation", status, body, false)
	if err != nil {
		return "", err
	}
	if !ValidToken(token) {
		log.Warn(ctx, "token does not look like a matomo token", map[string]interface{}{
			"length": len(token),
		})
	}
	log.Info(ctx, "app-specific token created", map[string]interface{}{
		"description": form.Get("description"),
	})
	return token, nil
}

// parseValue extracts "value" from a Matomo JSON response. With allowString a bare JSON
// string is accepted as well, as some versions answer getTokenAuth that way.
func parseValue(op string, status int, body string, allowString bool) (string, error) {
	if status != http.StatusOK {
		return "", &CreationError{Op: op, Status: status, Body: truncate(body)}
	}

	var data interface{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return "", &CreationError{Op: op, Status: status, Body: truncate(body), Msg: "invalid JSON"}
	}

	switch v := data.(type) {
	case map[string]interface{}:
		if result, _ := v["result"].(string); result == "error" {
			msg, _ := v["message"].(string)
			return "", &CreationError{Op: op, Status: status, Body: truncate(body), Msg: "matomo error: " + msg}
		}
		if value, ok := v["value"]; ok && value != nil {
			if s := fmt.Sprint(value); s != "" {
				return s, nil
			}
		}
	case string:
		if allowString && v != "" {
			return v, nil
		}
	}
	return "", &CreationError{Op: op, Status: status, Body: truncate(body), Msg: "unexpected response"}
}

func truncate(body string) string {
	if len(body) <= maxErrorBody {
		return body
	}
	return body[:maxErrorBody]
}
