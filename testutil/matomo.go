package testutil

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"
)

const sessionCookie = "MATOMO_SESSID"

// IssuedToken is an app-specific token handed out by FakeMatomo.
type IssuedToken struct {
	Login       string
	Description string
	Token       string
}

type failure struct {
	status int
	body   string
}

// FakeMatomo is an in-process stand-in for the Matomo front controller. It serves the
// landing page (installer or login), Login.logme and the two UsersManager API methods
// used to mint tokens.
type FakeMatomo struct {
	Server *httptest.Server

	mu           sync.Mutex
	installed    bool
	login        string
	passwordHash []byte
	adminToken   string
	tokens       []IssuedToken
	calls        []string
	failures     map[string]failure
	cookies      *securecookie.SecureCookie
}

// NewFakeMatomo starts a fake instance with one superuser. It is closed with the test.
func NewFakeMatomo(t *testing.T, login, password string) *FakeMatomo {
	t.Helper()

	// Matomo stores bcrypt(md5(password)).
	hash, err := bcrypt.GenerateFromPassword([]byte(md5Hex(password)), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	f := &FakeMatomo{
		installed:    true,
		login:        login,
		passwordHash: hash,
		adminToken:   randomToken(t),
		failures:     map[string]failure{},
		cookies:      securecookie.New(securecookie.GenerateRandomKey(32), nil),
	}

	router := mux.NewRouter()
	router.HandleFunc("/", f.landing).Methods(http.MethodGet)
	router.HandleFunc("/index.php", f.frontController).Methods(http.MethodGet, http.MethodPost)

	f.Server = httptest.NewServer(router)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the instance.
func (f *FakeMatomo) URL() string {
	return f.Server.URL
}

// SetInstalled switches the landing page between the login page and the installer.
func (f *FakeMatomo) SetInstalled(installed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = installed
}

// AdminToken returns the token_auth of the superuser.
func (f *FakeMatomo) AdminToken() string {
	return f.adminToken
}

// Tokens returns the app-specific tokens issued so far.
func (f *FakeMatomo) Tokens() []IssuedToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]IssuedToken(nil), f.tokens...)
}

// Calls returns "module.method" or "module.action" for every front controller request.
func (f *FakeMatomo) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Fail makes the given API method (e.g. "UsersManager.getTokenAuth") answer with status and body.
func (f *FakeMatomo) Fail(method string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = failure{status: status, body: body}
}

func (f *FakeMatomo) landing(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	installed := f.installed
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if installed {
		w.Write([]byte(`<html><head><title>Matomo › Login</title></head>` +
			`<body><form action="index.php?module=Login&action=login"><input name="form_login"></form></body></html>`))
		return
	}
	w.Write([]byte(`<html><head><title>Matomo › Installation</title></head>` +
		`<body><a href="index.php?action=systemCheck&module=Installation">Next »</a></body></html>`))
}

func (f *FakeMatomo) frontController(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	module := r.Form.Get("module")

	switch module {
	case "":
		f.landing(w, r)
	case "Login":
		f.record("Login." + r.Form.Get("action"))
		f.logme(w, r)
	case "CoreHome":
		f.record("CoreHome.index")
		w.Write([]byte("<html><title>Dashboard - Matomo</title></html>"))
	case "API":
		method := r.Form.Get("method")
		f.record(method)
		f.api(w, r, method)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeMatomo) logme(w http.ResponseWriter, r *http.Request) {
	if r.Form.Get("action") != "logme" || !f.checkLogin(r.Form.Get("login"), r.Form.Get("password")) {
		w.Write([]byte("<html><div class=\"message_error\">Wrong Username and password combination.</div></html>"))
		return
	}

	encoded, err := f.cookies.Encode(sessionCookie, map[string]string{"login": r.Form.Get("login")})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: encoded, Path: "/", HttpOnly: true})
	http.Redirect(w, r, "/index.php?module=CoreHome&action=index", http.StatusFound)
}

func (f *FakeMatomo) api(w http.ResponseWriter, r *http.Request, method string) {
	f.mu.Lock()
	fail, failing := f.failures[method]
	f.mu.Unlock()
	if failing {
		w.WriteHeader(fail.status)
		w.Write([]byte(fail.body))
		return
	}

	switch method {
	case "UsersManager.getTokenAuth":
		if !f.checkLogin(r.Form.Get("userLogin"), r.Form.Get("md5Password")) {
			apiError(w, "The login or password is incorrect.")
			return
		}
		writeJSON(w, map[string]string{"value": f.adminToken})

	case "UsersManager.createAppSpecificTokenAuth":
		if r.Method != http.MethodPost {
			apiError(w, "This method must be called with POST.")
			return
		}
		login := r.Form.Get("userLogin")
		if !f.authenticated(r, login) {
			apiError(w, "You must be logged in to access this functionality.")
			return
		}
		if !f.checkLogin(login, md5Hex(r.Form.Get("passwordConfirmation"))) {
			apiError(w, "The current password you entered is not correct.")
			return
		}

		token := randomTokenOrEmpty()
		f.mu.Lock()
		f.tokens = append(f.tokens, IssuedToken{Login: login, Description: r.Form.Get("description"), Token: token})
		f.mu.Unlock()
		writeJSON(w, map[string]string{"value": token})

	default:
		apiError(w, "The method '"+method+"' does not exist or is not available.")
	}
}

// authenticated accepts the admin token_auth, or a session cookie when force_api_session=1.
func (f *FakeMatomo) authenticated(r *http.Request, login string) bool {
	if r.Form.Get("token_auth") == f.adminToken {
		return true
	}
	if r.Form.Get("force_api_session") != "1" {
		return false
	}
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	var sess map[string]string
	if err := f.cookies.Decode(sessionCookie, c.Value, &sess); err != nil {
		return false
	}
	return sess["login"] == login
}

func (f *FakeMatomo) checkLogin(login, passwordMD5 string) bool {
	if login != f.login {
		return false
	}
	return bcrypt.CompareHashAndPassword(f.passwordHash, []byte(passwordMD5)) == nil
}

func (f *FakeMatomo) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func apiError(w http.ResponseWriter, msg string) {
	writeJSON(w, map[string]string{"result": "error", "message": msg})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomToken(t *testing.T) string {
	tok := randomTokenOrEmpty()
	if tok == "" {
		t.Fatalf("failed to generate token")
	}
	return tok
}

func randomTokenOrEmpty() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
