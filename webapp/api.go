package webapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ts4z/floorman/he"
	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/paytable"
	"github.com/ts4z/floorman/tournament"
	"github.com/ts4z/floorman/urlpath"
)

func (app *App) handleCreateTournament(w http.ResponseWriter, r *http.Request) {
	var req tournament.NewTournament
	if err := readJSON(w, r, &req); err != nil {
		sendError(w, "read tournament", err)
		return
	}
	t, err := app.facade.CreateTournament(r.Context(), &req)
	if err != nil {
		sendError(w, "create tournament", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// withID runs fn with the tournament id from the path.
func withID(w http.ResponseWriter, r *http.Request, fn func(id uuid.UUID)) {
	id, err := urlpath.UUIDParam(r, "id")
	if err != nil {
		sendError(w, "parse url", err)
		return
	}
	fn(id)
}

func (app *App) handleGetTournament(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		t, err := app.facade.GetTournament(r.Context(), id)
		if err != nil {
			sendError(w, "get tournament", err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	})
}

type statusBody struct {
	Status string `json:"status"`
}

func (app *App) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		var body statusBody
		if err := readJSON(w, r, &body); err != nil {
			sendError(w, "read status", err)
			return
		}
		t, err := app.facade.SetLiveStatus(r.Context(), id, model.LiveStatus(body.Status))
		if err != nil {
			sendError(w, "set tournament status", err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	})
}

func (app *App) handleReplaceStructure(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		var req tournament.NewStructure
		if err := readJSON(w, r, &req); err != nil {
			sendError(w, "read structure", err)
			return
		}
		st, err := app.facade.ReplaceStructure(r.Context(), id, &req)
		if err != nil {
			sendError(w, "replace structure", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
}

func (app *App) handleGetClock(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		st, err := app.facade.GetClock(r.Context(), id)
		if err != nil {
			sendError(w, "get clock", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
}

func (app *App) handleClockOp(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		op := chi.URLParam(r, "op")
		st, err := app.facade.Clock(r.Context(), id, op)
		if err != nil {
			sendError(w, op+" clock", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
}

type keypressBody struct {
	Event string `json:"event"`
}

func (app *App) handleKeyboardShortcuts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.keys.Keys())
}

func (app *App) handleKeypress(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		var body keypressBody
		if err := readJSON(w, r, &body); err != nil {
			sendError(w, "read keypress", err)
			return
		}
		st, err := app.keys.HandleKeypress(r.Context(), id, body.Event)
		if err != nil {
			sendError(w, "handle keypress", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
}

func (app *App) handleGetPayout(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		p, err := app.facade.GetPayout(r.Context(), id)
		if err != nil {
			sendError(w, "get payout", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
}

func (app *App) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		res, err := app.facade.RecalculatePayout(r.Context(), id)
		if err != nil {
			sendError(w, "recalculate payout", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

type entryBody struct {
	UserID      uuid.UUID `json:"user_id"`
	Type        string    `json:"entry_type"`
	AmountCents int64     `json:"amount_cents"`
}

func (app *App) handleRecordEntry(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		var body entryBody
		if err := readJSON(w, r, &body); err != nil {
			sendError(w, "read entry", err)
			return
		}
		res, err := app.facade.RecordEntry(r.Context(), id, body.UserID, model.EntryType(body.Type), body.AmountCents)
		if err != nil {
			sendError(w, "record entry", err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	})
}

func (app *App) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		entryID, err := urlpath.UUIDParam(r, "entryID")
		if err != nil {
			sendError(w, "parse url", err)
			return
		}
		p, err := app.facade.DeleteEntry(r.Context(), id, entryID)
		if err != nil {
			sendError(w, "delete entry", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payout": p})
	})
}

func (app *App) handleEntryStats(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		st, err := app.facade.GetEntryStats(r.Context(), id)
		if err != nil {
			sendError(w, "get entry stats", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
}

func (app *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		reg, err := app.facade.Register(r.Context(), id)
		if err != nil {
			sendError(w, "register", err)
			return
		}
		writeJSON(w, http.StatusCreated, reg)
	})
}

func (app *App) handleSetRegistration(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		userID, err := urlpath.UUIDParam(r, "userID")
		if err != nil {
			sendError(w, "parse url", err)
			return
		}
		var body statusBody
		if err := readJSON(w, r, &body); err != nil {
			sendError(w, "read status", err)
			return
		}
		reg, err := app.facade.SetRegistrationStatus(r.Context(), id, userID, model.RegistrationStatus(body.Status))
		if err != nil {
			sendError(w, "set registration status", err)
			return
		}
		writeJSON(w, http.StatusOK, reg)
	})
}

func (app *App) handleActivity(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		var category *model.ActivityCategory
		if raw := r.URL.Query().Get("category"); raw != "" {
			c, err := model.ParseActivityCategory(raw)
			if err != nil {
				sendError(w, "parse category", he.New(http.StatusBadRequest, err))
				return
			}
			category = &c
		}
		offset, err := urlpath.IntQuery(r, "offset", 0)
		if err != nil {
			sendError(w, "parse offset", err)
			return
		}
		limit, err := urlpath.IntQuery(r, "limit", 50)
		if err != nil {
			sendError(w, "parse limit", err)
			return
		}
		page, err := app.facade.ListActivity(r.Context(), id, category, offset, limit)
		if err != nil {
			sendError(w, "list activity", err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	})
}

func (app *App) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	ts, err := app.facade.ListPayoutTemplates(r.Context())
	if err != nil {
		sendError(w, "list payout templates", err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (app *App) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t paytable.Template
	if err := readJSON(w, r, &t); err != nil {
		sendError(w, "read payout template", err)
		return
	}
	if err := app.facade.CreatePayoutTemplate(r.Context(), &t); err != nil {
		sendError(w, "create payout template", err)
		return
	}
	writeJSON(w, http.StatusCreated, &t)
}

func (app *App) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id uuid.UUID) {
		if err := app.facade.DeletePayoutTemplate(r.Context(), id); err != nil {
			sendError(w, "delete payout template", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
