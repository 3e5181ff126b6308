package apitest

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/impactlog/impactlog/jwt"
	"golang.org/x/crypto/bcrypt"
)

// DefaultPrefix is the path under which the API is mounted.
const DefaultPrefix = "/api"

const publicFeedLimit = 100

// Options configures a [Server].
type Options struct {
	// Secret signs tokens. Defaults to a fixed test secret.
	Secret []byte
	// TokenTTL defaults to the backend's 24 hours.
	TokenTTL time.Duration
	// Now overrides the clock for token issuance, verification and
	// created_at stamps.
	Now func() time.Time
	// BcryptCost defaults to bcrypt.MinCost to keep tests fast.
	BcryptCost int
	Prefix     string
}

type account struct {
	ID           string
	Email        string
	Name         string
	Role         string
	PasswordHash []byte
}

type impactLog struct {
	ID          string
	UserID      string
	Name        string
	Locality    string
	Latitude    float64
	Longitude   float64
	ImpactDate  string
	Category    string
	Description string
	Status      string
	CreatedAt   time.Time
	seq         int
}

// Server is an in-memory Impact Log backend served over HTTP.
type Server struct {
	URL string

	prefix string
	tokens *jwt.Manager
	now    func() time.Time
	cost   int
	http   *httptest.Server

	mu       sync.Mutex
	accounts map[string]*account
	byEmail  map[string]string
	logs     []*impactLog
	seq      int
	calls    map[string]int
	auth     map[string]string
	faults   map[string][]int
	holds    map[string][]*hold
	held     []*hold
}

type hold struct {
	arrived  chan struct{}
	released chan struct{}
	once     sync.Once
}

// NewServer starts a backend. Call Close when done.
func NewServer(opts Options) *Server {
	s := newServer(opts)
	s.http = httptest.NewServer(s.Handler())
	s.URL = s.http.URL
	return s
}

func newServer(opts Options) *Server {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("apitest-secret")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.MinCost
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	tokens, err := jwt.NewManager(jwt.Config{
		TTL:           opts.TokenTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    opts.Secret,
		Now:           opts.Now,
	})
	if err != nil {
		panic("apitest: " + err.Error())
	}
	return &Server{
		prefix:   strings.TrimRight(opts.Prefix, "/"),
		tokens:   tokens,
		now:      opts.Now,
		cost:     opts.BcryptCost,
		accounts: make(map[string]*account),
		byEmail:  make(map[string]string),
		calls:    make(map[string]int),
		auth:     make(map[string]string),
		faults:   make(map[string][]int),
		holds:    make(map[string][]*hold),
	}
}

// BaseURL is the API root a client should be configured with.
func (s *Server) BaseURL() string {
	return s.URL + s.prefix
}

// Close releases held requests and shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	for _, h := range s.held {
		h.release()
	}
	s.holds = make(map[string][]*hold)
	s.mu.Unlock()
	if s.http != nil {
		s.http.Close()
	}
}

// Handler returns the router, for mounting without a listener.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)

	api := r.PathPrefix(s.prefix).Subrouter()
	api.HandleFunc("/auth/signup", s.handleSignUp).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.authenticated(s.handleMe)).Methods(http.MethodGet)
	api.HandleFunc("/impact-logs/my-logs", s.authenticated(s.handleMyLogs)).Methods(http.MethodGet)
	api.HandleFunc("/impact-logs/all", s.authenticated(s.handleAllLogs)).Methods(http.MethodGet)
	api.HandleFunc("/impact-logs", s.authenticated(s.handleCreateLog)).Methods(http.MethodPost)
	api.HandleFunc("/impact-logs/{id}/status", s.authenticated(s.handleUpdateStatus)).Methods(http.MethodPatch)
	api.HandleFunc("/public/impact-logs", s.handlePublicLogs).Methods(http.MethodGet)
	api.HandleFunc("/public/stats", s.handleStats).Methods(http.MethodGet)
	return s.intercept(r)
}

/* ==== FAULT INJECTION ==== */

// FailNext makes the next request to path (relative to the prefix, e.g.
// "/auth/me") answer status with the standard status text as detail.
// Calls queue up.
func (s *Server) FailNext(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[path] = append(s.faults[path], status)
}

// Hold parks the next request to path. arrived is closed once the request
// is parked; it is answered normally after release is called. release is
// idempotent.
func (s *Server) Hold(path string) (arrived <-chan struct{}, release func()) {
	h := &hold{arrived: make(chan struct{}), released: make(chan struct{})}
	s.mu.Lock()
	s.holds[path] = append(s.holds[path], h)
	s.held = append(s.held, h)
	s.mu.Unlock()
	return h.arrived, h.release
}

func (h *hold) release() {
	h.once.Do(func() { close(h.released) })
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastAuthorization returns the Authorization header of the latest request
// to path.
func (s *Server) LastAuthorization(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth[path]
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, ok := strings.CutPrefix(r.URL.Path, s.prefix)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		s.mu.Lock()
		s.calls[path]++
		s.auth[path] = r.Header.Get("Authorization")
		var status int
		if queued := s.faults[path]; len(queued) > 0 {
			status = queued[0]
			s.faults[path] = queued[1:]
		}
		var h *hold
		if pending := s.holds[path]; len(pending) > 0 {
			h = pending[0]
			s.holds[path] = pending[1:]
		}
		s.mu.Unlock()

		if h != nil {
			close(h.arrived)
			select {
			case <-h.released:
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeDetail(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

/* ==== ACCOUNTS ==== */

// SeedAdmin creates an administrator, like the backend's create_admin
// script. It returns the account id.
func (s *Server) SeedAdmin(email, password, name string) (string, error) {
	return s.createAccount(email, password, name, "admin")
}

// SeedUser creates a reporter account and returns its id.
func (s *Server) SeedUser(email, password, name string) (string, error) {
	return s.createAccount(email, password, name, "user")
}

// TokenFor issues a valid token for the account registered under email.
func (s *Server) TokenFor(email string) (string, error) {
	s.mu.Lock()
	acct, ok := s.accountByEmailLocked(email)
	s.mu.Unlock()
	if !ok {
		return "", errors.New("apitest: unknown account " + email)
	}
	return s.tokens.Issue(acct.ID, acct.Role)
}

// SetRole changes an account's role. Tokens already issued keep working;
// /auth/me reports the new role.
func (s *Server) SetRole(email, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accountByEmailLocked(email)
	if !ok {
		return errors.New("apitest: unknown account " + email)
	}
	acct.Role = role
	return nil
}

// DeleteAccount removes an account and its logs. Its tokens stop working.
func (s *Server) DeleteAccount(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accountByEmailLocked(email)
	if !ok {
		return
	}
	delete(s.accounts, acct.ID)
	delete(s.byEmail, strings.ToLower(acct.Email))
	kept := s.logs[:0]
	for _, l := range s.logs {
		if l.UserID != acct.ID {
			kept = append(kept, l)
		}
	}
	s.logs = kept
}

func (s *Server) createAccount(email, password, name, role string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[strings.ToLower(email)]; exists {
		return "", errors.New("apitest: account already exists")
	}
	acct := &account{ID: uuid.NewString(), Email: email, Name: name, Role: role, PasswordHash: hash}
	s.accounts[acct.ID] = acct
	s.byEmail[strings.ToLower(email)] = acct.ID
	return acct.ID, nil
}

func (s *Server) accountByEmailLocked(email string) (*account, bool) {
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, false
	}
	acct, ok := s.accounts[id]
	return acct, ok
}

/* ==== LOGS ==== */

// SeedLog stores a report for the account under email, bypassing the API.
// It returns the log id.
func (s *Server) SeedLog(email string, log NewLog) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accountByEmailLocked(email)
	if !ok {
		return "", errors.New("apitest: unknown account " + email)
	}
	return s.insertLogLocked(acct.ID, log).ID, nil
}

// NewLog is the report body accepted by POST /impact-logs.
type NewLog struct {
	Name        string   `json:"name"`
	Locality    string   `json:"locality"`
	Latitude    *float64 `json:"gps_latitude"`
	Longitude   *float64 `json:"gps_longitude"`
	ImpactDate  string   `json:"impact_date"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
}

func (s *Server) insertLogLocked(userID string, in NewLog) *impactLog {
	s.seq++
	l := &impactLog{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        in.Name,
		Locality:    in.Locality,
		ImpactDate:  in.ImpactDate,
		Category:    in.Category,
		Description: in.Description,
		Status:      "Solving",
		CreatedAt:   s.now().UTC(),
		seq:         s.seq,
	}
	if in.Latitude != nil {
		l.Latitude = *in.Latitude
	}
	if in.Longitude != nil {
		l.Longitude = *in.Longitude
	}
	s.logs = append(s.logs, l)
	return l
}

// newestFirstLocked returns the logs ordered by created_at descending.
func (s *Server) newestFirstLocked(filter func(*impactLog) bool) []*impactLog {
	out := make([]*impactLog, 0, len(s.logs))
	for _, l := range s.logs {
		if filter == nil || filter(l) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func resolutionRate(solved, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(solved)/float64(total)*1000) / 10
}

/* ==== WIRE ==== */

type profileReporter struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type logPayload struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Name        string           `json:"name"`
	Locality    string           `json:"locality"`
	Latitude    float64          `json:"gps_latitude"`
	Longitude   float64          `json:"gps_longitude"`
	ImpactDate  string           `json:"impact_date"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
	Status      string           `json:"status"`
	CreatedAt   string           `json:"created_at"`
	Profile     *profileReporter `json:"profile"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func serializeLog(l *impactLog, reporter *account) logPayload {
	out := logPayload{
		ID:          l.ID,
		UserID:      l.UserID,
		Name:        l.Name,
		Locality:    l.Locality,
		Latitude:    l.Latitude,
		Longitude:   l.Longitude,
		ImpactDate:  l.ImpactDate,
		Category:    l.Category,
		Description: l.Description,
		Status:      l.Status,
		CreatedAt:   l.CreatedAt.Format(time.RFC3339Nano),
	}
	if reporter != nil {
		out.Profile = &profileReporter{Name: reporter.Name, Email: reporter.Email}
	}
	return out
}

func serializeUser(a *account) userPayload {
	return userPayload{ID: a.ID, Email: a.Email, Name: a.Name, Role: a.Role}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// writeValidation answers 422 with a list-shaped detail.
func writeValidation(w http.ResponseWriter, errs ...fieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string][]fieldError{"detail": errs})
}

func missing(field string) fieldError {
	return fieldError{Loc: []string{"body", field}, Msg: "Field required", Type: "missing"}
}
