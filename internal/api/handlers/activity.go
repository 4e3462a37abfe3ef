package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kimhsiao/timeaudit/internal/clock"
	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/models"
	"github.com/kimhsiao/timeaudit/internal/remote"
	syncpkg "github.com/kimhsiao/timeaudit/internal/sync"
	"github.com/kimhsiao/timeaudit/internal/view"
)

// maxSubmitWait bounds ?wait=true on submit.
const maxSubmitWait = 10 * time.Second

// Submitter queues a new activity for the signed-in user.
type Submitter interface {
	SubmitForCurrentUser(ctx context.Context, text string, loggedAt time.Time) (*syncpkg.Submission, error)
}

// ViewBuilder builds merged activity views.
type ViewBuilder interface {
	Build(ctx context.Context, ownerID string, r models.DateRange) (*view.View, error)
	Latest(ctx context.Context, ownerID string) (view.Entry, bool, error)
}

// ActivityHandler handles activity submission and listing.
type ActivityHandler struct {
	submitter Submitter
	views     ViewBuilder
	auth      remote.Authenticator
	clock     clock.Clock
	loc       *time.Location
}

// NewActivityHandler creates a new ActivityHandler. Days are computed in loc.
func NewActivityHandler(submitter Submitter, views ViewBuilder, auth remote.Authenticator, c clock.Clock, loc *time.Location) *ActivityHandler {
	if c == nil {
		c = clock.System{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &ActivityHandler{submitter: submitter, views: views, auth: auth, clock: c, loc: loc}
}

// SubmitRequest is the body of POST /api/activities.
type SubmitRequest struct {
	Text           string     `json:"text"`
	LoggedAt       *time.Time `json:"logged_at,omitempty"`
	SameAsPrevious bool       `json:"same_as_previous,omitempty"`
}

// SubmitResponse is returned by POST /api/activities.
type SubmitResponse struct {
	Activity     models.PendingActivity  `json:"activity"`
	Outcome      syncpkg.DeliveryOutcome `json:"outcome,omitempty"`
	SavedLocally bool                    `json:"saved_locally"`
}

// Activities routes /api/activities by method.
func (h *ActivityHandler) Activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Submit(w, r)
	case http.MethodGet:
		h.List(w, r)
	default:
		methodNotAllowed(w)
	}
}

// Submit handles POST /api/activities
// The activity is durable locally before the response is written. With
// ?wait=true the handler also waits for the first delivery attempt.
func (h *ActivityHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var request SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if request.SameAsPrevious {
		latest, err := h.latest(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		request.Text = latest.Text
	}

	var loggedAt time.Time
	if request.LoggedAt != nil {
		loggedAt = *request.LoggedAt
	}

	sub, err := h.submitter.SubmitForCurrentUser(r.Context(), request.Text, loggedAt)
	if err != nil {
		writeError(w, err)
		return
	}

	response := SubmitResponse{Activity: sub.Activity, SavedLocally: true}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), maxSubmitWait)
		outcome, _ := sub.Wait(ctx)
		cancel()
		response.Outcome = outcome
		response.SavedLocally = outcome != syncpkg.OutcomeDelivered
	}

	writeJSON(w, http.StatusAccepted, response)
}

// ListResponse is returned by GET /api/activities.
type ListResponse struct {
	Date        string       `json:"date"`
	Entries     []view.Entry `json:"entries"`
	LocalOnly   bool         `json:"local_only"`
	RemoteError string       `json:"remote_error,omitempty"`
}

// List handles GET /api/activities?date=YYYY-MM-DD
// Returns the merged view for one day, today by default.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	day := h.clock.Now().In(h.loc)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.loc)
		if err != nil {
			writeError(w, errors.Wrap(errors.ErrInvalid, "date must be YYYY-MM-DD", err))
			return
		}
		day = parsed
	}

	ownerID, err := h.currentOwner(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	v, err := h.views.Build(r.Context(), ownerID, models.DayRange(day, h.loc))
	if err != nil {
		writeError(w, err)
		return
	}

	response := ListResponse{
		Date:      day.Format("2006-01-02"),
		Entries:   v.Entries,
		LocalOnly: v.LocalOnly(),
	}
	if response.Entries == nil {
		response.Entries = []view.Entry{}
	}
	if v.RemoteErr != nil {
		response.RemoteError = v.RemoteErr.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

// Latest handles GET /api/activities/latest
// Returns the most recent entry on any day, used for "same as previous".
func (h *ActivityHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	latest, err := h.latest(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (h *ActivityHandler) latest(ctx context.Context) (view.Entry, error) {
	ownerID, err := h.currentOwner(ctx)
	if err != nil {
		return view.Entry{}, err
	}
	latest, ok, err := h.views.Latest(ctx, ownerID)
	if err != nil {
		return view.Entry{}, err
	}
	if !ok {
		return view.Entry{}, errors.New(errors.ErrNotFound, "no previous activity")
	}
	return latest, nil
}

func (h *ActivityHandler) currentOwner(ctx context.Context) (string, error) {
	if h.auth == nil {
		return "", errors.New(errors.ErrNotAuthenticated, "no authenticator configured")
	}
	ownerID, ok, err := h.auth.CurrentUser(ctx)
	if err != nil {
		return "", errors.Wrap(errors.ErrNotAuthenticated, "failed to resolve current user", err)
	}
	if !ok {
		return "", errors.New(errors.ErrNotAuthenticated, "not signed in")
	}
	return ownerID, nil
}
