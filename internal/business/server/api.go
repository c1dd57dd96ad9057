package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-exporter/internal/auth"
	"github.com/openkcm/session-exporter/internal/background"
	"github.com/openkcm/session-exporter/internal/config"
	"github.com/openkcm/session-exporter/internal/export"
	"github.com/openkcm/session-exporter/internal/serviceerr"
)

// maxBodySize bounds the JSON request bodies.
const maxBodySize = 1 << 20

type AuthService interface {
	Start(ctx context.Context, identifier string) (auth.StartResult, error)
	Verify(ctx context.Context, correlationID, code string) (auth.Result, error)
	Password(ctx context.Context, correlationID, password string) (auth.Result, error)
	FlowTTL() time.Duration
}

type ExportService interface {
	Run(ctx context.Context, job export.Job) (export.Result, error)
	Convert(ctx context.Context, identifier string) (export.Profile, error)
	Archive(ctx context.Context, identifier string, includeStore bool) (export.Result, error)
	Download(identifier string, timestamp int64) (string, error)
}

type StatusBoard interface {
	Lookup(identifier string) (background.Status, bool)
}

// API serves the authentication and export routes.
type API struct {
	auth          AuthService
	exports       ExportService
	board         StatusBoard
	cookie        config.CookieTemplate
	defaultChatID string
}

func NewAPI(authSvc AuthService, exports ExportService, board StatusBoard, cookie config.CookieTemplate, defaultChatID string) *API {
	return &API{
		auth:          authSvc,
		exports:       exports,
		board:         board,
		cookie:        cookie,
		defaultChatID: defaultChatID,
	}
}

type errorModel struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error"`
	ErrorDescription string `json:"errorDescription,omitempty"`
}

type startRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type startResponse struct {
	OK     bool   `json:"ok"`
	AuthID string `json:"authId"`
}

type verifyRequest struct {
	Code   string `json:"code"`
	AuthID string `json:"authId"`
}

type passwordRequest struct {
	Password string `json:"password"`
	AuthID   string `json:"authId"`
}

type userModel struct {
	ID string `json:"id"`
}

type signInResponse struct {
	OK            bool       `json:"ok"`
	NeedsPassword bool       `json:"needsPassword"`
	AuthID        string     `json:"authId,omitempty"`
	User          *userModel `json:"user,omitempty"`
}

type exportRequest struct {
	Phone          string `json:"phone"`
	IncludeSession bool   `json:"includeSession"`
	ChatID         string `json:"chatId"`
	Caption        string `json:"caption"`
}

type tdataResponse struct {
	OK        bool   `json:"ok"`
	TDataPath string `json:"tdataPath"`
	Bytes     int64  `json:"bytes"`
}

type archiveResponse struct {
	OK      bool   `json:"ok"`
	ZipPath string `json:"zipPath"`
	Size    int64  `json:"size"`
}

type sendResponse struct {
	OK        bool   `json:"ok"`
	ZipPath   string `json:"zipPath"`
	Size      int64  `json:"size"`
	ChatID    string `json:"chatId"`
	MessageID int    `json:"messageId"`
}

type statusResponse struct {
	OK bool `json:"ok"`
	background.Status
}

func (a *API) startPhoneAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startRequest
	if !decode(ctx, w, r, &req) {
		return
	}

	res, err := a.auth.Start(ctx, req.PhoneNumber)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	http.SetCookie(w, a.cookie.ToCookie(res.CorrelationID, a.auth.FlowTTL()))
	writeJSON(ctx, w, http.StatusOK, startResponse{OK: true, AuthID: res.CorrelationID})
}

func (a *API) verifyPhoneAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyRequest
	if !decode(ctx, w, r, &req) {
		return
	}

	res, err := a.auth.Verify(ctx, a.correlationID(r, req.AuthID), req.Code)
	a.writeSignIn(ctx, w, res, err)
}

func (a *API) passwordPhoneAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req passwordRequest
	if !decode(ctx, w, r, &req) {
		return
	}

	res, err := a.auth.Password(ctx, a.correlationID(r, req.AuthID), req.Password)
	a.writeSignIn(ctx, w, res, err)
}

// correlationID prefers the cookie over the body.
func (a *API) correlationID(r *http.Request, fromBody string) string {
	if c, err := r.Cookie(a.cookie.Name); err == nil && c.Value != "" {
		return c.Value
	}

	return strings.TrimSpace(fromBody)
}

func (a *API) writeSignIn(ctx context.Context, w http.ResponseWriter, res auth.Result, err error) {
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if res.NeedsPassword {
		http.SetCookie(w, a.cookie.ToCookie(res.CorrelationID, a.auth.FlowTTL()))
		writeJSON(ctx, w, http.StatusOK, signInResponse{OK: true, NeedsPassword: true, AuthID: res.CorrelationID})
		return
	}

	http.SetCookie(w, a.cookie.ToCookie("", -1))
	writeJSON(ctx, w, http.StatusOK, signInResponse{OK: true, User: &userModel{ID: res.AccountID}})
}

func (a *API) exportTData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exportRequest
	if !decode(ctx, w, r, &req) {
		return
	}

	profile, err := a.exports.Convert(ctx, req.Phone)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, tdataResponse{OK: true, TDataPath: profile.Dir, Bytes: profile.Size})
}

func (a *API) exportArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exportRequest
	if !decode(ctx, w, r, &req) {
		return
	}

	res, err := a.exports.Archive(ctx, req.Phone, req.IncludeSession)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, archiveResponse{OK: true, ZipPath: res.ArchivePath, Size: res.Size})
}

func (a *API) exportSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exportRequest
	if !decode(ctx, w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Phone) == "" {
		writeError(ctx, w, serviceerr.New(serviceerr.CodeValidation, "phone is required"))
		return
	}

	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		chatID = a.defaultChatID
	}
	if chatID == "" {
		writeError(ctx, w, serviceerr.New(serviceerr.CodeValidation, "chatId is required"))
		return
	}

	res, err := a.exports.Run(ctx, export.Job{
		Identifier:   req.Phone,
		IncludeStore: req.IncludeSession,
		Destination:  chatID,
		Caption:      req.Caption,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, sendResponse{
		OK:        true,
		ZipPath:   res.ArchivePath,
		Size:      res.Size,
		ChatID:    chatID,
		MessageID: res.Receipt.MessageID,
	})
}

func (a *API) exportDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	ts, err := strconv.ParseInt(query.Get("ts"), 10, 64)
	if err != nil {
		writeError(ctx, w, serviceerr.New(serviceerr.CodeValidation, "ts must be a unix timestamp"))
		return
	}

	path, err := a.exports.Download(query.Get("phone"), ts)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeFile(w, r, path)
}

func (a *API) exportStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		writeError(ctx, w, serviceerr.New(serviceerr.CodeValidation, "phone is required"))
		return
	}

	st, ok := a.board.Lookup(phone)
	if !ok {
		writeError(ctx, w, serviceerr.New(serviceerr.CodeNotFound, "no export recorded for this account"))
		return
	}

	writeJSON(ctx, w, http.StatusOK, statusResponse{OK: true, Status: st})
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]bool{"ok": true})
}

func decode(ctx context.Context, w http.ResponseWriter, r *http.Request, into any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(into)
	if err != nil {
		slogctx.Debug(ctx, "Invalid request body", "error", err)
		writeError(ctx, w, serviceerr.New(serviceerr.CodeValidation, "invalid JSON body"))

		return false
	}

	return true
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	body, status := toErrorModel(err)
	if status >= http.StatusInternalServerError {
		slogctx.Error(ctx, "Request failed", "error", err)
	} else {
		slogctx.Info(ctx, "Request rejected", "error", err)
	}

	writeJSON(ctx, w, status, body)
}

func toErrorModel(err error) (errorModel, int) {
	var serviceErr *serviceerr.Error
	if !errors.As(err, &serviceErr) {
		serviceErr = serviceerr.ErrUnknown
	}

	return errorModel{
		Error:            string(serviceErr.Err),
		ErrorDescription: serviceErr.Description,
	}, serviceErr.HTTPStatus()
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slogctx.Error(ctx, "Failed to write response", "error", err)
	}
}
