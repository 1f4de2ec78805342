package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"docgram/internal/app"
	"docgram/pkg/domain"
)

const uploadAckMessage = "Post creation is in progress..."

type postResponse struct {
	Post   domain.Post    `json:"post"`
	Viewer app.PostViewer `json:"viewer"`
}

type uploadResponse struct {
	Message string      `json:"message"`
	Post    domain.Post `json:"post"`
}

type likeResponse struct {
	IsLiked    bool  `json:"is_liked"`
	LikesCount int64 `json:"likes_count"`
}

type bookmarkResponse struct {
	IsBookmarked bool `json:"is_bookmarked"`
}

type visibilityResponse struct {
	IsPublic bool `json:"is_public"`
}

type commentRequest struct {
	Content string `json:"content"`
}

// handlePosts serves the public timeline and uploads.
func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		offset, limit := pagination(r)
		posts, err := s.app.ListPosts(offset, limit)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Items: posts, Count: len(posts)})
	case http.MethodPost:
		s.handleUpload(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	// Leave headroom for the metadata fields next to the file part.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}
	isPublic := true
	if raw := r.FormValue("is_public"); raw != "" {
		isPublic, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "is_public must be a boolean")
			return
		}
	}
	post, err := s.app.UploadPost(r.Context(), app.UploadParams{
		OwnerID:     user.ID,
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		IsPublic:    isPublic,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Message: uploadAckMessage, Post: post})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	offset, limit := pagination(r)
	posts, err := s.app.Feed(user.ID, offset, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: posts, Count: len(posts)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	offset, limit := pagination(r)
	posts, err := s.app.SearchPosts(r.URL.Query().Get("q"), offset, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: posts, Count: len(posts)})
}

// handlePostByID routes /posts/{id}[/action] and /posts/messages/{id}.
func (s *Server) handlePostByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/posts/")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	if parts[0] == "messages" {
		if len(parts) != 2 || parts[1] == "" {
			http.NotFound(w, r)
			return
		}
		s.handleMessageByID(w, r, user, parts[1])
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handlePost(w, r, user, id)
		return
	}
	switch parts[1] {
	case "download":
		s.handleDownload(w, r, user, id)
	case "reprocess":
		s.handleReprocess(w, r, user, id)
	case "like":
		s.handleLike(w, r, user, id)
	case "bookmark":
		s.handleBookmark(w, r, user, id)
	case "visibility":
		s.handleVisibility(w, r, user, id)
	case "comments":
		s.handleComments(w, r, user, id)
	case "messages":
		s.handleMessages(w, r, user, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		post, err := s.app.GetPost(user.ID, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		viewer, err := s.app.ViewerContext(user.ID, post)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, postResponse{Post: post, Viewer: viewer})
	case http.MethodPut:
		var req app.UpdatePostParams
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		post, err := s.app.UpdatePost(user.ID, id, req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, post)
	case http.MethodDelete:
		if err := s.app.DeletePost(r.Context(), user.ID, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.DownloadURL(r.Context(), user.ID, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"download_url": url})
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	post, err := s.app.ReprocessPost(r.Context(), user.ID, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Message: uploadAckMessage, Post: post})
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	liked, likes, err := s.app.ToggleLike(user.ID, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, likeResponse{IsLiked: liked, LikesCount: likes})
}

func (s *Server) handleBookmark(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	bookmarked, err := s.app.ToggleBookmark(user.ID, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookmarkResponse{IsBookmarked: bookmarked})
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	public, err := s.app.ToggleVisibility(user.ID, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visibilityResponse{IsPublic: public})
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		offset, limit := pagination(r)
		comments, err := s.app.Comments(user.ID, id, offset, limit)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Items: comments, Count: len(comments)})
	case http.MethodPost:
		var req commentRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		comment, err := s.app.AddComment(user.ID, id, req.Content)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	default:
		methodNotAllowed(w)
	}
}
