package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/greader"
	"github.com/bryan-buckman/feedsync/internal/rss"
)

// maxImportBytes caps OPML uploads.
const maxImportBytes = 10 << 20

func (s *Server) handleClientLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	token, user, ok := s.auth.Login(r.Form.Get("Email"), r.Form.Get("Passwd"))
	if !ok {
		log.WithField("email", r.Form.Get("Email")).Warn("Login failed")
		http.Error(w, "Error=BadAuthentication", http.StatusForbidden)
		return
	}
	log.WithField("user", user.ID).Info("Login")
	writeText(w, fmt.Sprintf("SID=%s\nLSID=%s\nAuth=%s\n", token, token, token))
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeText(w, "OK")
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.UserInfo(userFrom(r)))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	writeText(w, tokenFromRequest(r))
}

func (s *Server) handleSubscriptionList(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.SubscriptionList(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleQuickAdd(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	res, err := s.service.QuickAdd(r.Context(), userFrom(r), r.Form.Get("quickadd"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleSubscriptionEdit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	req := greader.SubscriptionEdit{
		Action:   r.Form.Get("ac"),
		StreamID: r.Form.Get("s"),
		Add:      r.Form["a"],
		Remove:   r.Form["r"],
	}
	if r.Form.Has("t") {
		title := r.Form.Get("t")
		req.Title = &title
	}
	if err := s.service.EditSubscription(r.Context(), userFrom(r), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, "OK")
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("opml")
		if err != nil {
			http.Error(w, "No file provided", http.StatusBadRequest)
			return
		}
		defer file.Close()
		body = file
	}

	res, err := s.service.ImportOPML(r.Context(), userFrom(r), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportOPML(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=feedsync.opml")
	w.Write(data)
}

func (s *Server) handleItemIDs(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	q := greader.StreamQuery{
		Stream:       r.Form.Get("s"),
		Exclude:      r.Form.Get("xt"),
		Order:        r.Form.Get("r"),
		Continuation: r.Form.Get("c"),
	}
	if n := r.Form.Get("n"); n != "" {
		count, err := strconv.Atoi(n)
		if err != nil || count < 0 {
			http.Error(w, "Invalid n", http.StatusBadRequest)
			return
		}
		q.Count = count
	}

	ids, err := s.service.ItemIDs(r.Context(), userFrom(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, ids)
}

func (s *Server) handleContents(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	contents, err := s.service.Contents(r.Context(), userFrom(r), r.Form["i"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, contents)
}

func (s *Server) handleEditTag(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := s.service.EditTag(r.Context(), userFrom(r), r.Form["i"], r.Form["a"], r.Form["r"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, "OK")
}

func (s *Server) handleMarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := s.service.MarkAllAsRead(r.Context(), userFrom(r), r.Form.Get("s"), r.Form.Get("ts")); err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, "OK")
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.UnreadCount(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, counts)
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	page, err := s.service.UnreadContents(r.Context(), userFrom(r), r.URL.Query().Get("offset"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, page)
}

func (s *Server) handleMarkAsRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := s.service.MarkAsRead(r.Context(), userFrom(r), req.IDs); err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, "OK")
}

func (s *Server) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Link   string `json:"link"`
		Title  string `json:"title"`
		Folder string `json:"folder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if _, err := s.service.AddSubscription(r.Context(), userFrom(r), req.Link, req.Title, req.Folder); err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, "OK")
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, body)
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var fetchErr *rss.FetchError
	switch {
	case errors.Is(err, greader.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, database.ErrSubscriptionNotFound):
		status = http.StatusNotFound
	case errors.As(err, &fetchErr):
		status = http.StatusBadGateway
	}

	entry := log.WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Info("Request rejected")
	}

	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	http.Error(w, msg, status)
}
