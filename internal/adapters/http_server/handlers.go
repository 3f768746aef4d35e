package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"reputation_hub/internal/app"
	"reputation_hub/internal/domain"
)

const maxRequestBody = 64 << 10

type Handlers struct {
	Queries     *app.QueryService
	Replies     *app.ReplyService
	Drafts      *app.DraftService
	Connections *app.ConnectionService
	Sync        *app.SyncService
	Events      domain.EventSubscriber

	DashboardURL string

	validateOnce sync.Once
	validate     *validator.Validate
}

// validator is shared by every request; Validate caches struct metadata and
// is safe for concurrent use once built.
func (h *Handlers) validator() *validator.Validate {
	h.validateOnce.Do(func() {
		h.validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return h.validate
}

// ---- request helpers ----

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", name+" must be a positive number")
		return 0, false
	}
	return id, true
}

func location(r *http.Request) string { return chi.URLParam(r, "locationID") }

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *Handlers) listParams(w http.ResponseWriter, r *http.Request) (domain.PageQuery, bool) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 100")
		return domain.PageQuery{}, false
	}
	p := listParams{Limit: limit, Cursor: r.URL.Query().Get("cursor")}
	if err := h.validator().Struct(p); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error())
		return domain.PageQuery{}, false
	}
	pg := domain.PageQuery{Limit: p.Limit}
	if p.Cursor != "" {
		pg.Cursor = &p.Cursor
	}
	return pg, true
}

func (h *Handlers) decodeReply(w http.ResponseWriter, r *http.Request) (replyRequest, bool) {
	var req replyRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", "body must be {\"text\": \"...\"}")
		return req, false
	}
	if err := h.validator().Struct(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return req, false
	}
	return req, true
}

// ---- locations ----

func (h *Handlers) listLocations(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	ls, err := h.Queries.ListLocations(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]locationDTO, 0, len(ls))
	for _, l := range ls {
		out = append(out, toLocation(l))
	}
	writeCached(w, r, map[string]any{"items": out})
}

// ---- reviews ----

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	pg, ok := h.listParams(w, r)
	if !ok {
		return
	}
	rating, err := queryInt(r, "rating")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid rating", "rating must be 1..5")
		return
	}
	unreplied := false
	if v := r.URL.Query().Get("unreplied"); v != "" {
		if unreplied, err = strconv.ParseBool(v); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid unreplied", "unreplied must be a boolean")
			return
		}
	}
	p := reviewParams{listParams: listParams{Limit: pg.Limit}, Rating: rating, Unreplied: unreplied}
	if err := h.validator().Struct(p); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error())
		return
	}

	q := domain.ReviewsQuery{PageQuery: pg, Unreplied: unreplied}
	if rating != 0 {
		q.Rating = &rating
	}
	out, err := h.Queries.ListReviews(r.Context(), location(r), q)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeCached(w, r, toPage(out.Items, out.NextCursor, toReview))
}

func (h *Handlers) replyReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := h.decodeReply(w, r)
	if !ok {
		return
	}
	rv, err := h.Replies.ReplyToReview(r.Context(), location(r), id, req.Text)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReview(rv))
}

func (h *Handlers) deleteReviewReply(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Replies.DeleteReviewReply(r.Context(), location(r), id); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- conversations ----

func (h *Handlers) listConversations(w http.ResponseWriter, r *http.Request) {
	pg, ok := h.listParams(w, r)
	if !ok {
		return
	}
	out, err := h.Queries.ListConversations(r.Context(), location(r), pg)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeCached(w, r, toPage(out.Items, out.NextCursor, toConversation))
}

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pg, ok := h.listParams(w, r)
	if !ok {
		return
	}
	out, err := h.Queries.ListMessages(r.Context(), location(r), id, pg)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeCached(w, r, toPage(out.Items, out.NextCursor, toMessage))
}

func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := h.decodeReply(w, r)
	if !ok {
		return
	}
	m, err := h.Replies.SendMessage(r.Context(), location(r), id, req.Text)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessage(m))
}

// ---- comments ----

func (h *Handlers) listComments(w http.ResponseWriter, r *http.Request) {
	pg, ok := h.listParams(w, r)
	if !ok {
		return
	}
	out, err := h.Queries.ListComments(r.Context(), location(r), pg)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeCached(w, r, toPage(out.Items, out.NextCursor, toComment))
}

func (h *Handlers) replyComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := h.decodeReply(w, r)
	if !ok {
		return
	}
	c, err := h.Replies.ReplyToComment(r.Context(), location(r), id, req.Text)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toComment(c))
}

// ---- drafts ----

func (h *Handlers) draft(target domain.DraftTarget) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var (
			d   domain.ReplyDraft
			err error
		)
		switch target {
		case domain.DraftForReview:
			d, err = h.Drafts.ForReview(r.Context(), location(r), id)
		case domain.DraftForConversation:
			d, err = h.Drafts.ForConversation(r.Context(), location(r), id)
		default:
			d, err = h.Drafts.ForComment(r.Context(), location(r), id)
		}
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toDraft(d))
	}
}

// ---- analytics ----

func (h *Handlers) analytics(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err == nil {
		err = h.validator().Struct(analyticsParams{Days: days})
	}
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid days", "days must be a positive integer")
		return
	}
	a, err := h.Queries.Analytics(r.Context(), location(r), days)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeCached(w, r, a)
}

// ---- connections & sync ----

func (h *Handlers) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.Connections.List(r.Context(), location(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	states, err := h.Connections.SyncStates(r.Context(), location(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := struct {
		Items []connectionDTO `json:"items"`
		Sync  []syncStateDTO  `json:"sync"`
	}{Items: make([]connectionDTO, 0, len(conns)), Sync: make([]syncStateDTO, 0, len(states))}
	for _, c := range conns {
		out.Items = append(out.Items, toConnection(c))
	}
	for _, s := range states {
		out.Sync = append(out.Sync, toSyncState(s))
	}
	writeCached(w, r, out)
}

func (h *Handlers) authorize(platform domain.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())
		var (
			u   string
			err error
		)
		if platform == domain.PlatformGoogle {
			u, err = h.Connections.GoogleAuthURL(r.Context(), p.UserID, location(r))
		} else {
			u, err = h.Connections.MetaAuthURL(r.Context(), p.UserID, location(r))
		}
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": u})
	}
}

func (h *Handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(chi.URLParam(r, "platform"))
	if err := h.Connections.Disconnect(r.Context(), location(r), platform); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) syncNow(w http.ResponseWriter, r *http.Request) {
	loc := location(r)
	if err := h.Sync.SyncAll(r.Context(), loc); err != nil {
		var sentinel bool
		for _, e := range []error{domain.ErrNotFound, domain.ErrInvalidInput, domain.ErrUnavailable} {
			sentinel = sentinel || errors.Is(err, e)
		}
		if !sentinel {
			log.Warn().Err(err).Str("location", loc).Msg("manual sync failed")
			writeProblem(w, http.StatusBadGateway, "Sync Failed", "an upstream platform failed; see sync state")
			return
		}
		writeErr(w, r, err)
		return
	}
	states, err := h.Connections.SyncStates(r.Context(), loc)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]syncStateDTO, 0, len(states))
	for _, s := range states {
		out = append(out, toSyncState(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sync": out})
}

// ---- OAuth callbacks ----

// oauthCallback finishes a provider flow in the browser and sends the user
// back to the dashboard with the outcome in the query string.
func (h *Handlers) oauthCallback(platform domain.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			h.backToDashboard(w, r, platform, "denied")
			return
		}
		code, state := q.Get("code"), q.Get("state")
		if code == "" || state == "" {
			writeProblem(w, http.StatusBadRequest, "Bad Request", "code and state are required")
			return
		}
		var err error
		if platform == domain.PlatformGoogle {
			_, err = h.Connections.GoogleCallback(r.Context(), code, state)
		} else {
			_, err = h.Connections.MetaCallback(r.Context(), code, state)
		}
		switch {
		case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrForbidden):
			writeErr(w, r, err)
		case err != nil:
			log.Error().Err(err).Str("platform", string(platform)).Msg("oauth callback failed")
			h.backToDashboard(w, r, platform, "error")
		default:
			h.backToDashboard(w, r, platform, "connected")
		}
	}
}

func (h *Handlers) backToDashboard(w http.ResponseWriter, r *http.Request, platform domain.Platform, status string) {
	target := strings.TrimRight(h.DashboardURL, "/") + "/connections?" + url.Values{
		"platform": {string(platform)},
		"status":   {status},
	}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}
