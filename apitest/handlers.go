package apitest

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "Backend active",
		"message":   "Impact Log is running!",
		"timestamp": s.now().Format(time.RFC3339),
	})
}

type signUpRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     *string `json:"name"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, fieldError{Loc: []string{"body"}, Msg: "JSON decode error", Type: "json_invalid"})
		return
	}
	var errs []fieldError
	if _, err := mail.ParseAddress(req.Email); err != nil || req.Email == "" {
		errs = append(errs, fieldError{Loc: []string{"body", "email"}, Msg: "value is not a valid email address", Type: "value_error"})
	}
	if len(req.Password) < minPasswordLength {
		errs = append(errs, fieldError{Loc: []string{"body", "password"}, Msg: "String should have at least 6 characters", Type: "string_too_short"})
	}
	if req.Name == nil {
		errs = append(errs, missing("name"))
	}
	if len(errs) > 0 {
		writeValidation(w, errs...)
		return
	}

	s.mu.Lock()
	_, exists := s.accountByEmailLocked(req.Email)
	s.mu.Unlock()
	if exists {
		writeDetail(w, http.StatusBadRequest, "Account already exists")
		return
	}

	if _, err := s.createAccount(req.Email, req.Password, *req.Name, "user"); err != nil {
		writeDetail(w, http.StatusBadRequest, "Account already exists")
		return
	}
	s.writeToken(w, req.Email)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, fieldError{Loc: []string{"body"}, Msg: "JSON decode error", Type: "json_invalid"})
		return
	}

	s.mu.Lock()
	acct, ok := s.accountByEmailLocked(req.Email)
	var hash []byte
	if ok {
		hash = acct.PasswordHash
	}
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(req.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	s.writeToken(w, req.Email)
}

func (s *Server) writeToken(w http.ResponseWriter, email string) {
	s.mu.Lock()
	acct, ok := s.accountByEmailLocked(email)
	var user userPayload
	if ok {
		user = serializeUser(acct)
	}
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

// authenticated resolves the bearer token like the backend's HTTPBearer
// dependency: no bearer credentials is 403, any token problem is 401.
func (s *Server) authenticated(next func(http.ResponseWriter, *http.Request, account)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			writeDetail(w, http.StatusForbidden, "Not authenticated")
			return
		}

		claims, err := s.tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid authentication token")
			return
		}

		s.mu.Lock()
		acct, ok := s.accounts[claims.Subject]
		var current account
		if ok {
			current = *acct
		}
		s.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Invalid authentication token")
			return
		}

		next(w, r, current)
	}
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, acct account) {
	writeJSON(w, http.StatusOK, serializeUser(&acct))
}

func (s *Server) handleMyLogs(w http.ResponseWriter, _ *http.Request, acct account) {
	s.mu.Lock()
	logs := s.newestFirstLocked(func(l *impactLog) bool { return l.UserID == acct.ID })
	out := make([]logPayload, 0, len(logs))
	for _, l := range logs {
		out = append(out, serializeLog(l, nil))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateLog(w http.ResponseWriter, r *http.Request, acct account) {
	var req NewLog
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, fieldError{Loc: []string{"body"}, Msg: "JSON decode error", Type: "json_invalid"})
		return
	}
	var errs []fieldError
	for field, value := range map[string]string{
		"name":        req.Name,
		"locality":    req.Locality,
		"category":    req.Category,
		"description": req.Description,
	} {
		if value == "" {
			errs = append(errs, missing(field))
		}
	}
	if req.Latitude == nil {
		errs = append(errs, missing("gps_latitude"))
	}
	if req.Longitude == nil {
		errs = append(errs, missing("gps_longitude"))
	}
	if _, err := time.Parse("2006-01-02", req.ImpactDate); err != nil {
		errs = append(errs, fieldError{Loc: []string{"body", "impact_date"}, Msg: "Input should be a valid date", Type: "date_from_datetime_parsing"})
	}
	if len(errs) > 0 {
		writeValidation(w, errs...)
		return
	}

	s.mu.Lock()
	out := serializeLog(s.insertLogLocked(acct.ID, req), nil)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAllLogs(w http.ResponseWriter, _ *http.Request, acct account) {
	if acct.Role != "admin" {
		writeDetail(w, http.StatusForbidden, "Admin only")
		return
	}
	s.mu.Lock()
	logs := s.newestFirstLocked(nil)
	out := make([]logPayload, 0, len(logs))
	for _, l := range logs {
		out = append(out, serializeLog(l, s.accounts[l.UserID]))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

type statusRequest struct {
	Status string `json:"status"`
}

var knownStatuses = map[string]bool{"Solving": true, "Solved": true, "Fake": true}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request, acct account) {
	if acct.Role != "admin" {
		writeDetail(w, http.StatusForbidden, "Admin only")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeValidation(w, missing("status"))
		return
	}
	if !knownStatuses[req.Status] {
		writeValidation(w, fieldError{Loc: []string{"body", "status"}, Msg: "Input should be 'Solving', 'Solved' or 'Fake'", Type: "enum"})
		return
	}

	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if l.ID == id {
			l.Status = req.Status
			writeJSON(w, http.StatusOK, serializeLog(l, nil))
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Log not found")
}

func (s *Server) handlePublicLogs(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	logs := s.newestFirstLocked(nil)
	if len(logs) > publicFeedLimit {
		logs = logs[:publicFeedLimit]
	}
	out := make([]logPayload, 0, len(logs))
	for _, l := range logs {
		out = append(out, serializeLog(l, nil))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

type statsPayload struct {
	TotalReports   int            `json:"total_reports"`
	Solved         int            `json:"solved"`
	ResolutionRate float64        `json:"resolution_rate"`
	Categories     map[string]int `json:"categories"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := statsPayload{Categories: make(map[string]int)}
	for _, l := range s.logs {
		out.TotalReports++
		if l.Status == "Solved" {
			out.Solved++
		}
		out.Categories[l.Category]++
	}
	s.mu.Unlock()
	out.ResolutionRate = resolutionRate(out.Solved, out.TotalReports)
	writeJSON(w, http.StatusOK, out)
}
